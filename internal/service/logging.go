package service

import (
	"context"

	"wacompose/internal/privacy"
	"wacompose/internal/tracing"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so that identifiers are logged unmasked
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeContent completely hides message content for privacy
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// LogWithContext returns an entry carrying the request ID and trace ID of ctx
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	entry := logrus.NewEntry(logger)
	if id := tracing.RequestID(ctx); id != "" {
		entry = entry.WithField(LogFieldRequestID, id)
	}
	if traceID := tracing.TraceID(ctx); traceID != "" {
		entry = entry.WithField(LogFieldTraceID, traceID)
	}
	return entry
}

// chatFields returns the chat and message identifiers, masked unless verbose
func chatFields(ctx context.Context, jid string, key *types.MessageKey) logrus.Fields {
	fields := logrus.Fields{LogFieldChatID: jid}
	if key != nil {
		fields[LogFieldMessageKey] = key.String()
	}
	if IsVerboseLogging(ctx) {
		return fields
	}
	return privacy.MaskSensitiveFields(fields)
}
