package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/internal/models"
	"wacompose/internal/security"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
	ErrMissingRedisAddr    = models.ConfigError{Message: "redis upload cache selected but redis.addr is empty"}
	ErrMissingEncryptKey   = models.ConfigError{Message: "database.encrypt is set but WACOMPOSE_ENCRYPTION_SECRET is empty"}
	ErrUnknownCacheBackend = models.ConfigError{Message: "unknown media.upload_cache backend"}
)

// Environment variables that override file settings
const (
	EnvUserJID          = "WACOMPOSE_USER_JID"
	EnvDBPath           = "WACOMPOSE_DB_PATH"
	EnvRedisAddr        = "WACOMPOSE_REDIS_ADDR"
	EnvRedisPassword    = "WACOMPOSE_REDIS_PASSWORD"
	EnvAMQPURL          = "WACOMPOSE_AMQP_URL"
	EnvEncryptionSecret = "WACOMPOSE_ENCRYPTION_SECRET"
	EnvEnvironment      = "WACOMPOSE_ENV"
)

// LoadConfig reads a JSON or YAML file (chosen by extension), applies
// environment overrides and defaults, then validates the result
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, &config)
	default:
		err = json.Unmarshal(file, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if jid := os.Getenv(EnvUserJID); jid != "" {
		c.Session.UserJID = jid
	}
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		c.Redis.Addr = addr
	}
	// SECURITY: secrets should be set via environment variables
	if password := os.Getenv(EnvRedisPassword); password != "" {
		c.Redis.Password = password
	}
	if url := os.Getenv(EnvAMQPURL); url != "" {
		c.AMQP.URL = url
	}
	if secret := os.Getenv(EnvEncryptionSecret); secret != "" {
		c.Database.EncryptionSecret = secret
	}
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxBodyMB <= 0 {
		c.Server.MaxBodyMB = constants.DefaultMaxBodyMB
	}

	if c.Session.MediaUploadTimeoutMs == 0 {
		c.Session.MediaUploadTimeoutMs = constants.DefaultMediaUploadTimeoutMs
	}

	if c.Media.UploadCache == "" {
		c.Media.UploadCache = models.UploadCacheMemory
	}
	if c.Media.UploadCacheTTLSec <= 0 {
		c.Media.UploadCacheTTLSec = constants.DefaultUploadCacheTTLSec
	}
	if c.Media.ConnTimeoutSec <= 0 {
		c.Media.ConnTimeoutSec = constants.DefaultConnTimeoutSec
	}
	if c.Media.FetchTimeoutSec <= 0 {
		c.Media.FetchTimeoutSec = constants.DefaultFetchTimeoutSec
	}
	limits := &c.Media.MaxSizeMB
	for _, l := range []struct {
		field *int
		def   int
	}{
		{&limits.Image, constants.DefaultMaxImageSizeMB},
		{&limits.Video, constants.DefaultMaxVideoSizeMB},
		{&limits.Audio, constants.DefaultMaxAudioSizeMB},
		{&limits.Sticker, constants.DefaultMaxStickerSizeMB},
		{&limits.Document, constants.DefaultMaxDocumentSizeMB},
	} {
		if *l.field <= 0 {
			*l.field = l.def
		}
	}

	if c.LinkPreview.TimeoutSec <= 0 {
		c.LinkPreview.TimeoutSec = constants.DefaultLinkPreviewTimeoutSec
	}
	if c.LinkPreview.MaxBodyKB <= 0 {
		c.LinkPreview.MaxBodyKB = constants.DefaultLinkPreviewMaxBodyKB
	}

	if c.AMQP.EventsExchange == "" {
		c.AMQP.EventsExchange = constants.DefaultEventsExchange
	}
	if c.AMQP.RelayExchange == "" {
		c.AMQP.RelayExchange = constants.DefaultRelayExchange
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "wacompose"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Session.UserJID != "" && !types.IsUserJID(c.Session.UserJID) {
		return errors.NewConfigError("session.user_jid", fmt.Sprintf("%q is not an individual account JID", c.Session.UserJID))
	}
	if c.Session.MediaUploadTimeoutMs < 0 {
		return errors.NewConfigError("session.media_upload_timeout_ms", "must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NewConfigError("server.port", fmt.Sprintf("port %d out of range", c.Server.Port))
	}

	switch c.Media.UploadCache {
	case models.UploadCacheMemory, models.UploadCacheSQLite, models.UploadCacheNone:
	case models.UploadCacheRedis:
		if c.Redis.Addr == "" {
			return ErrMissingRedisAddr
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("%s: %q", ErrUnknownCacheBackend.Message, c.Media.UploadCache)}
	}

	if c.Database.Encrypt && c.Database.EncryptionSecret == "" {
		return ErrMissingEncryptKey
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.NewConfigError("log_level", err.Error())
	}
	if c.Tracing.SampleRate > 1 {
		return errors.NewConfigError("tracing.sample_rate", "must be between 0 and 1")
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv(EnvEnvironment) == "production"

	if isProduction {
		if !c.Database.Encrypt {
			return models.ConfigError{Message: "database encryption is required in production (set database.encrypt and WACOMPOSE_ENCRYPTION_SECRET)"}
		}
		if len(c.Database.EncryptionSecret) < 32 {
			return models.ConfigError{Message: "encryption secret must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" || c.LogLevel == "trace" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if c.Media.AllowFileURLs && c.Media.FileRoot == "" {
			return models.ConfigError{Message: "media.allow_file_urls requires media.file_root in production"}
		}
	} else if c.Database.Encrypt && len(c.Database.EncryptionSecret) < 32 {
		fmt.Fprintf(os.Stderr, "WARNING: encryption secret is shorter than 32 characters.\n")
	}

	return nil
}
