package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger drops expired upload cache entries
type Purger interface {
	Name() string
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler periodically purges a local upload cache. Redis expires its
// own keys and needs no scheduler.
type Scheduler struct {
	purger   Purger
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
}

func NewScheduler(purger Purger, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		purger:   purger,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField(LogFieldCacheBackend, s.purger.Name()).Info("Starting upload cache purge scheduler")

	s.runPurge(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runPurge(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runPurge(ctx context.Context) {
	removed, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.WithError(err).WithField(LogFieldCacheBackend, s.purger.Name()).Error("Failed to purge upload cache")
		return
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldCacheBackend: s.purger.Name(),
		LogFieldCount:        removed,
	}).Debug("Purged expired upload cache entries")
}
