package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Schedules holds the cron expression for each job
type Schedules struct {
	Rollup   string
	KeySweep string
	Archive  string
}

// DefaultSchedules returns the production schedules
func DefaultSchedules() Schedules {
	return Schedules{
		Rollup:   "5 0 * * *",
		KeySweep: "0 * * * *",
		Archive:  "30 0 * * *",
	}
}

// Scheduler runs the aggregator jobs on cron schedules in UTC.
// A job still running when its next tick arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	log     *logrus.Logger
	timeout time.Duration
}

// NewScheduler registers the jobs. The archive job is only scheduled when the
// runner has an exporter.
func NewScheduler(runner *Runner, schedules Schedules, timeout time.Duration, log *logrus.Logger) (*Scheduler, error) {
	if log == nil {
		log = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	cronLog := cron.PrintfLogger(log)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		runner:  runner,
		log:     log,
		timeout: timeout,
	}

	if err := s.add("rollup", schedules.Rollup, func(ctx context.Context) error {
		return runner.RollupDay(ctx, runner.Yesterday())
	}); err != nil {
		return nil, err
	}
	if err := s.add("key_sweep", schedules.KeySweep, runner.SweepExpiredKeys); err != nil {
		return nil, err
	}
	if runner.ArchiveEnabled() {
		if err := s.add("archive", schedules.Archive, func(ctx context.Context) error {
			return runner.ArchiveDay(ctx, runner.Yesterday())
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) add(name, spec string, fn func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		// errors are already logged by the runner
		_ = fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s job %q: %w", name, spec, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("job scheduled")
	return nil
}

// Jobs returns the number of scheduled jobs
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start starts the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
