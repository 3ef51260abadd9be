// Package scheduler runs repeating jobs. The cron-backed implementation is
// used in production; Manual drives jobs from tests.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrInvalidInterval is returned for a non-positive interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Handle cancels a scheduled job. Cancel is idempotent.
type Handle interface {
	Cancel()
}

// Scheduler registers repeating jobs.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (Handle, error)
}

// CronScheduler runs jobs on a robfig/cron instance. Ticks of one job never
// overlap: a tick that arrives while the previous run is active is skipped.
type CronScheduler struct {
	Cron   *cron.Cron
	logger *zap.Logger
}

// NewCronScheduler creates a scheduler whose cron log lines go through logger.
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &CronScheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
	}
}

// Every schedules fn to run every interval. Sub-second intervals are
// rounded up to one second by cron.
func (s *CronScheduler) Every(interval time.Duration, fn func()) (Handle, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	id := s.Cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	s.logger.Debug("job scheduled", zap.Int("entry", int(id)), zap.Duration("interval", interval))
	return &cronHandle{cron: s.Cron, id: id}, nil
}

// Start starts the cron scheduler.
func (s *CronScheduler) Start() {
	s.Cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *CronScheduler) Stop(ctx context.Context) {
	done := s.Cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
	s.logger.Info("scheduler stopped")
}

type cronHandle struct {
	cron *cron.Cron
	id   cron.EntryID
	once sync.Once
}

func (h *cronHandle) Cancel() {
	h.once.Do(func() { h.cron.Remove(h.id) })
}
