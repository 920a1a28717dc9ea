// Package scheduler runs periodic collection and the daily retention cleanup.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mactrack/internal/poller"
)

// Collector runs one collection against the configured network.
type Collector interface {
	CollectConfigured(ctx context.Context) (poller.Result, error)
}

// Purger removes entries older than a number of days.
type Purger interface {
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

type Config struct {
	Interval time.Duration
	// CollectEnabled is false when no network is configured; the interval
	// job then only logs that it was skipped.
	CollectEnabled bool
	CleanupHour    int
	CleanupMinute  int
	RetentionDays  int
	Location       *time.Location
}

// Scheduler fires collection every Interval and cleanup once a day at
// CleanupHour:CleanupMinute in Location. Jobs run in their own goroutines,
// so a slow collection never delays the next trigger and runs may overlap.
type Scheduler struct {
	cfg       Config
	collector Collector
	purger    Purger
	logger    *zap.Logger
	nowFunc   func() time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, collector Collector, purger Purger, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		cfg:       cfg,
		collector: collector,
		purger:    purger,
		logger:    logger.Named("scheduler"),
		nowFunc:   time.Now,
		stopCh:    make(chan struct{}),
	}
}

// NextDaily returns the first instant strictly after now that falls on
// hour:minute in loc.
func NextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run blocks until ctx is cancelled or Stop is called, then waits for any
// jobs still in flight.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	nextCleanup := NextDaily(s.nowFunc(), s.cfg.CleanupHour, s.cfg.CleanupMinute, s.cfg.Location)
	cleanup := time.NewTimer(nextCleanup.Sub(s.nowFunc()))
	defer cleanup.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("collect_enabled", s.cfg.CollectEnabled),
		zap.Time("next_cleanup", nextCleanup),
		zap.Int("retention_days", s.cfg.RetentionDays),
	)

	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped (context cancelled)")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.spawn(func() { s.collect(ctx) })
		case <-cleanup.C:
			s.spawn(func() { s.cleanup(ctx) })
			nextCleanup = NextDaily(s.nowFunc(), s.cfg.CleanupHour, s.cfg.CleanupMinute, s.cfg.Location)
			cleanup.Reset(nextCleanup.Sub(s.nowFunc()))
			s.logger.Debug("next cleanup scheduled", zap.Time("at", nextCleanup))
		}
	}
}

// Stop signals Run to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Scheduler) spawn(job func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job()
	}()
}

func (s *Scheduler) collect(ctx context.Context) {
	if !s.cfg.CollectEnabled {
		s.logger.Debug("scheduled collection skipped: no network configured")
		return
	}

	res, err := s.collector.CollectConfigured(ctx)
	if err != nil {
		s.logger.Error("scheduled collection failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled collection finished",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("macs", res.MACs),
	)
}

func (s *Scheduler) cleanup(ctx context.Context) {
	n, err := s.purger.PurgeOlderThan(ctx, s.cfg.RetentionDays)
	if err != nil {
		s.logger.Error("scheduled cleanup failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled cleanup finished", zap.Int64("deleted", n))
}
