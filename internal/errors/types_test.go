package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidContent,
				Message: "more than one primary variant",
			},
			expected: "INVALID_CONTENT: more than one primary variant",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeUpload,
				Message: "media upload failed",
				Cause:   errors.New("connection refused"),
			},
			expected: "UPLOAD: media upload failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeInvalidContent, "bad trait")

	result := err.WithContext("field", "sections").WithContext("variant", "image")

	assert.Same(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "sections", err.Context["field"])
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	inner := NewUploadTimeoutError("image", 0)
	wrapped := fmt.Errorf("generate: %w", inner)

	assert.True(t, IsCode(wrapped, ErrCodeUploadTimeout))
	assert.False(t, IsCode(wrapped, ErrCodeUpload))
	assert.False(t, IsCode(nil, ErrCodeUpload))
	assert.Equal(t, ErrCodeUploadTimeout, GetCode(wrapped))
}

func TestErrCacheMiss_MatchesByCode(t *testing.T) {
	err := Wrap(errors.New("redis: nil"), ErrCodeCacheMiss, "not cached")

	assert.True(t, errors.Is(err, ErrCacheMiss))
	assert.False(t, errors.Is(New(ErrCodeUpload, "x"), ErrCacheMiss))
}

func TestGetCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"invalid content is never retryable", NewInvalidContentError("text", "empty"), false},
		{"media fetch is not retryable", NewMediaFetchError("url", errors.New("404")), false},
		{"upload is retryable by the caller", NewUploadError("video", errors.New("reset")), true},
		{"upload timeout is retryable by the caller", NewUploadTimeoutError("video", 0), true},
		{"plain error", errors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewInvalidContentError("text", "empty"), 400},
		{NewNotFoundError("message", "ABC"), 404},
		{NewUploadTimeoutError("image", 0), 504},
		{NewUploadError("image", errors.New("x")), 502},
		{NewMediaFetchError("url", errors.New("x")), 502},
		{NewRelayError("3EB0", errors.New("x")), 502},
		{NewDatabaseError("insert", errors.New("locked")), 503},
		{errors.New("plain"), 500},
	}

	for _, tt := range tests {
		t.Run(string(GetCode(tt.err)), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatusCode(tt.err))
		})
	}
}

func TestToHTTPResponse_HidesSecrets(t *testing.T) {
	err := NewUploadError("image", errors.New("x")).WithContext("auth", "secret-token")

	resp := ToHTTPResponse(err, "req_1")

	require.NotNil(t, resp.Error.Context)
	ctx := resp.Error.Context.(map[string]interface{})
	assert.NotContains(t, ctx, "auth")
	assert.Equal(t, "image", ctx["media_type"])
	assert.Equal(t, "req_1", resp.RequestID)
	assert.Equal(t, "Media upload failed", resp.Error.Message)
}
