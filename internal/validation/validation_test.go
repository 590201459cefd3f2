package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
)

func TestValidateChatJID(t *testing.T) {
	tests := []struct {
		name        string
		jid         string
		expectError bool
	}{
		{name: "user", jid: "491234567@s.whatsapp.net"},
		{name: "user with device", jid: "491234567:12@s.whatsapp.net"},
		{name: "group", jid: "123456-789@g.us"},
		{name: "linked identity", jid: "98765@lid"},

		{name: "empty", jid: "", expectError: true},
		{name: "legacy suffix", jid: "1234@c.us", expectError: true},
		{name: "no user part", jid: "@s.whatsapp.net", expectError: true},
		{name: "letters in user part", jid: "abc@s.whatsapp.net", expectError: true},
		{name: "too long", jid: strings.Repeat("1", constants.MaxJIDLength) + "@g.us", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatJID(tt.jid)
			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidContent))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessageID(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		expectError bool
	}{
		{name: "generated", id: "3EB0A1B2C3D4E5F60718"},
		{name: "foreign", id: "BAE5F2D1C0"},
		{name: "empty", id: "", expectError: true},
		{name: "too long", id: strings.Repeat("A", constants.MaxMessageIDLength+1), expectError: true},
		{name: "newline", id: "3EB0\nX", expectError: true},
		{name: "space", id: "3EB0 X", expectError: true},
		{name: "null byte", id: "3EB0\x00", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageID(tt.id)
			if tt.expectError {
				assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidContent))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessageKey(t *testing.T) {
	valid := types.MessageKey{RemoteJID: "123-456@g.us", ID: "3EB0AA", Participant: types.StringPtr("1@s.whatsapp.net")}
	assert.NoError(t, ValidateMessageKey(valid))

	badParticipant := valid
	badParticipant.Participant = types.StringPtr("123-456@g.us")
	assert.Error(t, ValidateMessageKey(badParticipant))

	missingID := valid
	missingID.ID = ""
	assert.Error(t, ValidateMessageKey(missingID))

	badChat := valid
	badChat.RemoteJID = "nobody"
	assert.Error(t, ValidateMessageKey(badChat))
}

func TestValidateHTTPRequestSize(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader("hello"))
	assert.NoError(t, ValidateHTTPRequestSize(req, 10))
	assert.Error(t, ValidateHTTPRequestSize(req, 2))

	// unknown length is bounded by the body reader instead
	req.ContentLength = -1
	assert.NoError(t, ValidateHTTPRequestSize(req, 2))
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw         string
		want        int
		expectError bool
	}{
		{raw: "", want: 0},
		{raw: "1", want: 1},
		{raw: "50", want: 50},
		{raw: "0", expectError: true},
		{raw: "-3", expectError: true},
		{raw: "ten", expectError: true},
		{raw: "100000", expectError: true},
	}

	for _, tt := range tests {
		t.Run("limit="+tt.raw, func(t *testing.T) {
			got, err := ParseHistoryLimit(tt.raw)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateBatchSize(t *testing.T) {
	assert.Error(t, ValidateBatchSize(0))
	assert.NoError(t, ValidateBatchSize(1))
	assert.NoError(t, ValidateBatchSize(constants.MaxUpdateBatchSize))
	assert.Error(t, ValidateBatchSize(constants.MaxUpdateBatchSize+1))
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "n", 1, 10))
	err := ValidateNumericRange(0, "n", 1, 10)
	assert.Contains(t, err.Error(), "too small")
	err = ValidateNumericRange(11, "n", 1, 10)
	assert.Contains(t, err.Error(), "too large")
}
