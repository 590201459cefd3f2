package constants

// Server defaults
const (
	DefaultServerPort            = 8085
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 60
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxBodyMB             = 80
)

// Generation defaults
const (
	DefaultMediaUploadTimeoutMs = 30000
	// MessageIDPrefix starts every generated message ID
	MessageIDPrefix = "3EB0"
)

// Media defaults
const (
	BytesPerMegabyte           = 1024 * 1024
	DefaultUploadCacheTTLSec   = 3600
	DefaultConnTimeoutSec      = 10
	DefaultFetchTimeoutSec     = 30
	DefaultMaxImageSizeMB      = 16
	DefaultMaxVideoSizeMB      = 64
	DefaultMaxAudioSizeMB      = 16
	DefaultMaxStickerSizeMB    = 1
	DefaultMaxDocumentSizeMB   = 100
	DefaultConnFailureLimit    = 5
	DefaultConnBreakerResetSec = 30
	DefaultFilePermissions     = 0600
)

// Link preview defaults
const (
	DefaultLinkPreviewTimeoutSec = 5
	DefaultLinkPreviewMaxBodyKB  = 512
	DefaultThumbnailMaxKB        = 64
)

// History defaults
const (
	DefaultHistoryPageSize = 25
	MaxHistoryPageSize     = 200
)

// Database retry defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 2000
)

// Broker defaults
const (
	DefaultEventsExchange = "wacompose.events"
	DefaultRelayExchange  = "wacompose.outbound"
	DefaultEventBuffer    = 64
)

// Privacy settings
const (
	DefaultJIDMaskLength       = 4
	DefaultMessageIDMaskLength = 6
)

// API request bounds
const (
	MaxJIDLength       = 128
	MaxMessageIDLength = 128
	MaxUpdateBatchSize = 500
)
