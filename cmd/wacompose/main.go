package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wacompose/internal/config"
	"wacompose/internal/constants"
	"wacompose/internal/database"
	"wacompose/internal/events"
	internalmedia "wacompose/internal/media"
	"wacompose/internal/metrics"
	"wacompose/internal/models"
	"wacompose/internal/retry"
	"wacompose/internal/service"
	"wacompose/internal/tracing"
	"wacompose/pkg/linkpreview"
	"wacompose/pkg/media"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.BoolP("verbose", "v", false, "Enable verbose logging (includes chat and message identifiers)")
	configPath = flag.StringP("config", "c", "config.json", "Path to configuration file (.json, .yaml or .yml)")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wacompose %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wacompose")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - chat and message identifiers will be logged")
	} else {
		config.ApplyLogLevel(logger)(cfg)
	}

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.Database)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	bus := events.NewBus(logger)
	defer bus.Close()

	var relay service.Relay = service.NewLogRelay(logger)
	if cfg.AMQP.URL != "" {
		sink, err := events.NewAMQPSink(ctx, cfg.AMQP.URL, cfg.AMQP.EventsExchange, logger)
		if err != nil {
			return fmt.Errorf("failed to connect event sink: %w", err)
		}
		defer sink.Close()
		bus.Attach(ctx, "amqp", sink)

		amqpRelay, err := events.NewAMQPRelay(ctx, cfg.AMQP.URL, cfg.AMQP.RelayExchange, logger)
		if err != nil {
			return fmt.Errorf("failed to connect relay: %w", err)
		}
		defer amqpRelay.Close()
		relay = amqpRelay
		logger.WithField("exchange", cfg.AMQP.RelayExchange).Info("Relaying messages through AMQP")
	} else {
		logger.Info("No AMQP URL configured; generated messages are only logged")
	}

	uploader, stopCache, err := setupMedia(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer stopCache()

	resolver := linkpreview.NewResolver(
		linkpreview.NewHTTPProvider(cfg.LinkPreview),
		time.Duration(cfg.LinkPreview.TimeoutSec)*time.Second,
		logger,
	)
	resolver.SetEnabled(cfg.LinkPreview.Enabled)

	reconciler := service.NewReconciler(db, bus, logger)
	messageService := service.NewMessageService(sessionDefaults(cfg.Session), uploader, resolver, relay, reconciler, logger)

	watcher := config.NewConfigWatcher(*configPath, logger)
	if !*verbose {
		watcher.OnConfigChange(config.ApplyLogLevel(logger))
	}
	watcher.OnConfigChange(func(c *models.Config) {
		resolver.SetEnabled(c.LinkPreview.Enabled)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg.Server, messageService, reconciler, bus, db, registry, logger, *verbose)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	// end event streams first so open websockets do not hold the shutdown
	bus.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// sessionDefaults turns the session section into generation defaults
func sessionDefaults(cfg models.SessionConfig) service.Defaults {
	defaults := service.Defaults{
		UserJID:            cfg.UserJID,
		MediaUploadTimeout: time.Duration(cfg.MediaUploadTimeoutMs) * time.Millisecond,
	}
	if cfg.EphemeralExpiration > 0 {
		expiration := cfg.EphemeralExpiration
		defaults.EphemeralExpiration = &expiration
	}
	return defaults
}

// setupMedia builds the upload pipeline. Without a connection endpoint
// there is nowhere to upload to and media messages are rejected.
func setupMedia(ctx context.Context, cfg *models.Config, db *database.Database, logger *logrus.Logger) (service.MediaUploader, func(), error) {
	if cfg.Media.ConnEndpoint == "" {
		logger.Warn("No media connection endpoint configured; media messages are disabled")
		return nil, func() {}, nil
	}

	cache, purger, closeCache, err := newUploadCache(cfg, db)
	if err != nil {
		return nil, nil, err
	}

	stop := closeCache
	if purger != nil {
		scheduler := service.NewScheduler(purger, time.Duration(cfg.Media.UploadCacheTTLSec)*time.Second, logger)
		go scheduler.Start(ctx)
		stop = func() {
			scheduler.Stop()
			closeCache()
		}
	}

	conns := media.NewConnCache(media.NewHTTPConnFetcher(cfg.Media, logger), logger)
	router := internalmedia.NewRouter(cfg.Media)
	orchestrator := media.NewOrchestrator(
		media.NewFetcher(cfg.Media),
		media.NewHTTPUploader(conns, router),
		cache,
		router,
		cfg.Media.TempDir,
		logger,
	)
	logger.WithField(service.LogFieldCacheBackend, cache.Name()).Info("Media upload pipeline ready")
	return orchestrator, stop, nil
}

// newUploadCache selects the configured backend. The purger is nil for
// backends that expire entries on their own.
func newUploadCache(cfg *models.Config, db *database.Database) (media.UploadCache, service.Purger, func(), error) {
	ttl := time.Duration(cfg.Media.UploadCacheTTLSec) * time.Second
	noop := func() {}

	switch cfg.Media.UploadCache {
	case models.UploadCacheRedis:
		client, err := media.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		return media.NewRedisUploadCache(client, cfg.Redis.KeyPrefix, ttl), nil, func() { _ = client.Close() }, nil
	case models.UploadCacheSQLite:
		cache := database.NewUploadCache(db, ttl)
		return cache, cache, noop, nil
	case models.UploadCacheNone:
		return media.NoopUploadCache{}, nil, noop, nil
	default:
		cache := media.NewMemoryUploadCache(ttl)
		return cache, cache, noop, nil
	}
}
