package errors

import (
	"fmt"
	"net/http"
	"time"
)

// NewInvalidContentError reports a malformed or ambiguous send request.
func NewInvalidContentError(field, message string) *AppError {
	return New(ErrCodeInvalidContent, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid content (%s): %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewMediaFetchError reports a failure to read a media source.
func NewMediaFetchError(source string, err error) *AppError {
	return Wrap(err, ErrCodeMediaFetch, "media fetch failed").
		WithContext("source", source).
		WithUserMessage("Could not read media")
}

// NewUploadError reports a failed upload attempt. Retry is left to the caller.
func NewUploadError(mediaType string, err error) *AppError {
	appErr := Wrap(err, ErrCodeUpload, "media upload failed").
		WithContext("media_type", mediaType).
		WithUserMessage("Media upload failed")
	appErr.Retryable = true
	return appErr
}

// NewUploadTimeoutError reports an upload that exceeded its timeout.
func NewUploadTimeoutError(mediaType string, timeout time.Duration) *AppError {
	appErr := New(ErrCodeUploadTimeout, fmt.Sprintf("media upload timed out after %s", timeout)).
		WithContext("media_type", mediaType).
		WithContext("timeout", timeout.String()).
		WithUserMessage("Media upload timed out, please try again")
	appErr.Retryable = true
	return appErr
}

// NewRelayError reports a failure to hand a generated message to the transport
func NewRelayError(messageID string, err error) *AppError {
	appErr := Wrap(err, ErrCodeRelay, "message relay failed").
		WithContext("message_id", messageID).
		WithUserMessage("Message could not be sent")
	appErr.Retryable = true
	return appErr
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidContent, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUploadTimeout, ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeMediaFetch, ErrCodeUpload, ErrCodeRelay:
		return http.StatusBadGateway
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed API calls
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "password" && k != "token" && k != "secret" && k != "auth" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}
	return response
}
