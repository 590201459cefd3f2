package service

// Logging Standards for wacompose
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMessageID  = "message_id"
	LogFieldMessageKey = "message_key"
	LogFieldChatID     = "chat_id"
	LogFieldUserID     = "user_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Message and event fields
	LogFieldContentType = "content_type"
	LogFieldUpdateType  = "update_type"
	LogFieldReceiptKind = "receipt_kind"
	LogFieldOutcome     = "outcome"
	LogFieldWarning     = "warning"

	// HTTP fields
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Media
	LogFieldMediaType    = "media_type"
	LogFieldCacheBackend = "cache_backend"

	// Error and debugging
	LogFieldErrorCode = "error_code"
)

// Log Level Usage Guidelines
//
// DEBUG: Detailed information for diagnosing problems. Only use in development or verbose mode.
//   - Cache hits and misses
//   - Stale receipts discarded
//   - Notify updates with no stored record
//
// INFO: General information about application flow and key events.
//   - Application startup/shutdown
//   - Messages generated and relayed
//   - Configuration loaded
//
// WARN: Something unexpected happened, but the application can continue.
//   - Link preview unavailable
//   - Group metadata unavailable, mention check skipped
//   - Upload cache backend errors
//   - Composition warnings (templateButtons overriding buttons)
//
// ERROR: Error events that might still allow the application to continue.
//   - Upload or media fetch failures
//   - Relay failures
//   - History store failures
//
// FATAL: Very severe error events that will presumably lead the application to abort.
//   - Configuration required for startup is missing
//   - History database cannot be opened

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]" or "[Operation] completed successfully"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
// Configuration: "Loaded [config type] configuration" / "Using default [setting]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldChatID:      privacy.MaskJID(jid),
//     LogFieldMessageID:   privacy.MaskMessageID(id),
//     LogFieldContentType: msg.Type,
// }).Info("Generated message")
//
// logger.WithFields(logrus.Fields{
//     LogFieldUpdateType: types.UpdateReplace,
//     LogFieldOutcome:    OutcomeReplaced,
//     LogFieldDuration:   time.Since(start).Milliseconds(),
// }).Debug("Applied message update")
