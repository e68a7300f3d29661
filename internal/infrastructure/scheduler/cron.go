package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"HNSummaries/internal/logging"
	"HNSummaries/internal/ports"
)

// CronScheduler triggers the job on a standard five-field cron expression.
// Overlapping triggers are skipped and job panics are recovered.
type CronScheduler struct {
	spec       string
	location   *time.Location
	runOnStart bool
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	done chan struct{} // closed once triggering halted and jobs drained
	wg   sync.WaitGroup
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// CronOptions tune a CronScheduler.
type CronOptions struct {
	Location   *time.Location
	RunOnStart bool
	Logger     *slog.Logger
}

// NewCronScheduler validates spec up front so a bad expression fails at startup.
func NewCronScheduler(spec string, opts CronOptions) (*CronScheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &CronScheduler{
		spec:       spec,
		location:   opts.Location,
		runOnStart: opts.RunOnStart,
		logger:     opts.Logger,
	}, nil
}

// Start registers job and begins triggering it. Start on a running scheduler is
// a no-op; a stopped scheduler cannot be restarted.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return errors.New("scheduler job is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errors.New("scheduler already stopped")
	}
	if c.cron != nil {
		return nil
	}

	cronLogger := slogCronLogger{logger: c.logger}
	engine := cron.New(cron.WithLocation(c.location), cron.WithLogger(cronLogger))

	// Shared by cron triggers and the start-up run so they never overlap.
	wrapped := cron.NewChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	).Then(cron.FuncJob(func() {
		job(time.Now().In(c.location))
	}))

	if _, err := engine.AddJob(c.spec, wrapped); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	engine.Start()
	c.cron = engine
	c.logger.Info("scheduler started", "cron", c.spec, "timezone", c.location.String(), "run_on_start", c.runOnStart)

	if c.runOnStart {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			wrapped.Run()
		}()
	}

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop halts triggering and waits for a running job until ctx expires. Every
// caller, including the one reacting to Start's context, waits on the same drain.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	engine := c.cron
	if engine == nil {
		c.mu.Unlock()
		return nil
	}
	if c.done == nil {
		done := make(chan struct{})
		c.done = done
		go func() {
			<-engine.Stop().Done()
			c.wg.Wait()
			c.logger.Info("scheduler stopped")
			close(done)
		}()
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
