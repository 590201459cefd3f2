package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	assert.NotNil(t, logger.Logger)
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	err := NewInvalidContentError("sections", "list traits require text")
	logger.LogError(err, "Failed to compose message", logrus.Fields{"chat_id": "***1234@s.whatsapp.net"})

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"error_code":"INVALID_CONTENT"`)
	assert.Contains(t, out, `"field":"sections"`)
	assert.Contains(t, out, `"chat_id":"***1234@s.whatsapp.net"`)
}

func TestLogger_LogRetryableError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"retryable goes to warn", NewUploadError("image", errors.New("reset")), `"level":"warning"`},
		{"non-retryable goes to error", NewMediaFetchError("url", errors.New("404")), `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := WrapLogger(logrus.New())
			logger.SetFormatter(&logrus.JSONFormatter{})
			logger.SetOutput(&buf)

			logger.LogRetryableError(tt.err, "upload failed")

			assert.Contains(t, buf.String(), tt.level)
		})
	}
}
