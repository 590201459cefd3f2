package models

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Session     SessionConfig     `json:"session" yaml:"session"`
	Media       MediaConfig       `json:"media" yaml:"media"`
	LinkPreview LinkPreviewConfig `json:"linkPreview" yaml:"linkPreview"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	AMQP        AMQPConfig        `json:"amqp" yaml:"amqp"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port            int `json:"port" yaml:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	// MaxBodyMB bounds JSON request bodies, inline media included
	MaxBodyMB int `json:"max_body_mb" yaml:"max_body_mb"`
	// AllowedOrigins are host patterns accepted on the events websocket;
	// same-origin requests are always accepted
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// SessionConfig holds the generation defaults of the logged-in account
type SessionConfig struct {
	UserJID              string `json:"user_jid" yaml:"user_jid"`
	MediaUploadTimeoutMs int    `json:"media_upload_timeout_ms" yaml:"media_upload_timeout_ms"`
	// EphemeralExpiration is applied to every message when set (seconds)
	EphemeralExpiration uint32 `json:"ephemeral_expiration" yaml:"ephemeral_expiration"`
}

// Upload cache backends
const (
	UploadCacheMemory = "memory"
	UploadCacheRedis  = "redis"
	UploadCacheSQLite = "sqlite"
	UploadCacheNone   = "none"
)

// MediaConfig holds media upload settings
type MediaConfig struct {
	UploadCache       string          `json:"upload_cache" yaml:"upload_cache"`
	UploadCacheTTLSec int             `json:"upload_cache_ttl_sec" yaml:"upload_cache_ttl_sec"`
	ConnEndpoint      string          `json:"conn_endpoint" yaml:"conn_endpoint"`
	ConnTimeoutSec    int             `json:"conn_timeout_sec" yaml:"conn_timeout_sec"`
	FetchTimeoutSec   int             `json:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
	TempDir           string          `json:"temp_dir" yaml:"temp_dir"`
	AllowFileURLs     bool            `json:"allow_file_urls" yaml:"allow_file_urls"`
	FileRoot          string          `json:"file_root" yaml:"file_root"`
	MaxSizeMB         MediaSizeLimits `json:"maxSizeMB" yaml:"maxSizeMB"`
}

// MediaSizeLimits defines size limits for different media types in MB
type MediaSizeLimits struct {
	Image    int `json:"image" yaml:"image"`
	Video    int `json:"video" yaml:"video"`
	Audio    int `json:"audio" yaml:"audio"`
	Sticker  int `json:"sticker" yaml:"sticker"`
	Document int `json:"document" yaml:"document"`
}

// LinkPreviewConfig controls URL metadata lookups for text messages
type LinkPreviewConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	TimeoutSec     int  `json:"timeout_sec" yaml:"timeout_sec"`
	MaxBodyKB      int  `json:"max_body_kb" yaml:"max_body_kb"`
	FetchThumbnail bool `json:"fetch_thumbnail" yaml:"fetch_thumbnail"`
}

// DatabaseConfig holds history store settings
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
	// Encrypt stores message bodies encrypted; the secret comes from
	// WACOMPOSE_ENCRYPTION_SECRET
	Encrypt          bool   `json:"encrypt" yaml:"encrypt"`
	EncryptionSecret string `json:"-" yaml:"-"`
}

// RedisConfig holds the shared upload cache connection
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// AMQPConfig holds the event and relay broker connection
type AMQPConfig struct {
	URL            string `json:"url" yaml:"url"`
	EventsExchange string `json:"events_exchange" yaml:"events_exchange"`
	RelayExchange  string `json:"relay_exchange" yaml:"relay_exchange"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
