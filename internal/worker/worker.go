// Package worker runs the background loops of the gateway: the scheduler that
// sweeps deferred LOW priority notifications and the event queue consumer.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/engine"
)

// BatchRunner runs one sweep. *engine.Engine implements it.
type BatchRunner interface {
	OnBatchTick(ctx context.Context) (*engine.BatchResult, error)
}

// ScheduleConfig selects when sweeps run. A DailyHour of -1 means run every
// Interval; otherwise run once a day at DailyHour:DailyMinute UTC.
type ScheduleConfig struct {
	Interval    time.Duration
	DailyHour   int
	DailyMinute int
}

// Scheduler invokes the batch sweep. Runs are serial: the next wait starts
// only after the previous sweep returned.
type Scheduler struct {
	runner BatchRunner
	config ScheduleConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewScheduler(runner BatchRunner, cfg ScheduleConfig, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		runner: runner,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		now := s.now()
		next := s.nextRun(now)

		s.logger.Debug("next batch sweep scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping")
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := s.now()
	result, err := s.runner.OnBatchTick(ctx)
	if err != nil {
		s.logger.Error("batch sweep failed", zap.Error(err))
		return
	}
	if result.Skipped {
		return
	}

	s.logger.Info("batch sweep finished",
		zap.Int("eligible", result.Eligible),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", s.now().Sub(start)),
	)
}

// nextRun returns the first scheduled instant strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	if s.config.DailyHour < 0 {
		return now.Add(s.config.Interval)
	}

	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.config.DailyHour, s.config.DailyMinute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
