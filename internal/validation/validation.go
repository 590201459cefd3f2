package validation

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/pkg/whatsapp/types"
)

// ValidateChatJID checks a chat address taken from a request path
func ValidateChatJID(jid string) error {
	if jid == "" {
		return errors.NewInvalidContentError("jid", "chat JID cannot be empty")
	}

	if len(jid) > constants.MaxJIDLength {
		return errors.NewInvalidContentError("jid",
			fmt.Sprintf("chat JID too long (max %d characters)", constants.MaxJIDLength))
	}

	if !types.IsUserJID(jid) && !types.IsGroupJID(jid) {
		return errors.NewInvalidContentError("jid", "chat JID must be a user or group address")
	}

	user := jid[:strings.IndexByte(jid, '@')]
	if user == "" {
		return errors.NewInvalidContentError("jid", "chat JID has no user part")
	}
	for _, char := range user {
		if !unicode.IsDigit(char) && char != '-' && char != ':' && char != '.' {
			return errors.NewInvalidContentError("jid", "chat JID user part must be numeric")
		}
	}

	return nil
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.NewInvalidContentError("id", "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.NewInvalidContentError("id",
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if unicode.IsControl(char) || unicode.IsSpace(char) {
			return errors.NewInvalidContentError("id", "message ID contains invalid characters")
		}
	}

	return nil
}

// ValidateMessageKey checks the fields every stored message is keyed by
func ValidateMessageKey(key types.MessageKey) error {
	if err := ValidateChatJID(key.RemoteJID); err != nil {
		return err
	}
	if err := ValidateMessageID(key.ID); err != nil {
		return err
	}
	if key.Participant != nil && !types.IsUserJID(*key.Participant) {
		return errors.NewInvalidContentError("participant", "participant must be a user JID")
	}
	return nil
}

// ValidateHTTPRequestSize rejects requests whose declared body exceeds the limit
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.NewInvalidContentError("body",
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ParseHistoryLimit parses the page size query parameter. An empty value
// selects the default page size; larger values are clamped downstream.
func ParseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewInvalidContentError("limit", "limit must be a number")
	}
	return limit, ValidateNumericRange(limit, "limit", 1, constants.MaxHistoryPageSize)
}

// ValidateBatchSize bounds the number of updates accepted in one request
func ValidateBatchSize(n int) error {
	if n == 0 {
		return errors.NewInvalidContentError("body", "batch cannot be empty")
	}
	return ValidateNumericRange(n, "batch size", 1, constants.MaxUpdateBatchSize)
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewInvalidContentError(fieldName,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.NewInvalidContentError(fieldName,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}
