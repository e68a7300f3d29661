package usecase

import (
	"context"
	"log/slog"
	"time"

	"HNSummaries/internal/logging"
	"HNSummaries/internal/ports"
)

// Runner is the unit of work the scheduler triggers.
type Runner interface {
	Run(ctx context.Context) (int, error)
}

// Scheduler wires the cron-like driver with the pipeline use case.
type Scheduler struct {
	driver ports.Scheduler
	runner Runner
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{driver: driver, runner: runner, logger: logger}
}

// Start registers the pipeline with the provided scheduler. Run errors are
// logged and never stop future triggers.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		s.RunOnce(ctx, trigger)
	})
}

// RunOnce executes one run and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("ingestion run triggered", "trigger", trigger.Format(time.RFC3339))

	stored, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("ingestion run failed", "stored", stored, "error", err)
		return
	}
	s.logger.Info("ingestion run completed", "stored", stored)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
