package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const dayLayout = "2006-01-02"

// DayRoller folds one day of events into per-key summaries
type DayRoller interface {
	RollupDay(ctx context.Context, day time.Time) (int64, error)
}

// KeySweeper revokes keys that are past their expiry
type KeySweeper interface {
	RevokeExpired(ctx context.Context) (int64, error)
}

// DayExporter archives one day of events
type DayExporter interface {
	ExportDay(ctx context.Context, day time.Time) (string, int, error)
}

// Runner executes the aggregator jobs. The exporter is optional.
type Runner struct {
	rollup   DayRoller
	keys     KeySweeper
	exporter DayExporter
	log      *logrus.Logger
	now      func() time.Time
}

// NewRunner creates a job runner. exporter may be nil when no archive bucket is configured.
func NewRunner(rollup DayRoller, keys KeySweeper, exporter DayExporter, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.New()
	}
	return &Runner{
		rollup:   rollup,
		keys:     keys,
		exporter: exporter,
		log:      log,
		now:      time.Now,
	}
}

// Yesterday is the UTC day before now, the default day for rollup and archive
func (r *Runner) Yesterday() time.Time {
	y := r.now().UTC().AddDate(0, 0, -1)
	return time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, time.UTC)
}

// ArchiveEnabled reports whether an exporter is configured
func (r *Runner) ArchiveEnabled() bool {
	return r.exporter != nil
}

// RollupDay writes summaries for day
func (r *Runner) RollupDay(ctx context.Context, day time.Time) error {
	start := time.Now()
	entry := r.log.WithFields(logrus.Fields{"job": "rollup", "date": day.Format(dayLayout)})

	rows, err := r.rollup.RollupDay(ctx, day)
	if err != nil {
		entry.WithError(err).Error("rollup failed")
		return fmt.Errorf("rollup %s: %w", day.Format(dayLayout), err)
	}

	entry.WithFields(logrus.Fields{"rows": rows, "duration": time.Since(start)}).Info("rollup complete")
	return nil
}

// SweepExpiredKeys revokes every expired key
func (r *Runner) SweepExpiredKeys(ctx context.Context) error {
	entry := r.log.WithField("job", "key_sweep")

	n, err := r.keys.RevokeExpired(ctx)
	if err != nil {
		entry.WithError(err).Error("expired key sweep failed")
		return fmt.Errorf("sweep expired keys: %w", err)
	}

	if n > 0 {
		entry.WithField("revoked", n).Info("expired keys revoked")
	} else {
		entry.Debug("no expired keys")
	}
	return nil
}

// ArchiveDay uploads day's events. It is a no-op without an exporter.
func (r *Runner) ArchiveDay(ctx context.Context, day time.Time) error {
	if r.exporter == nil {
		return nil
	}
	entry := r.log.WithFields(logrus.Fields{"job": "archive", "date": day.Format(dayLayout)})

	key, rows, err := r.exporter.ExportDay(ctx, day)
	if err != nil {
		entry.WithError(err).Error("archive failed")
		return fmt.Errorf("archive %s: %w", day.Format(dayLayout), err)
	}
	if rows == 0 {
		entry.Info("no events to archive")
		return nil
	}

	entry.WithFields(logrus.Fields{"rows": rows, "object": key}).Info("archive complete")
	return nil
}

// RunDay runs every day-scoped job for day, then the key sweep. Used by --run-once.
func (r *Runner) RunDay(ctx context.Context, day time.Time) error {
	if err := r.RollupDay(ctx, day); err != nil {
		return err
	}
	if err := r.ArchiveDay(ctx, day); err != nil {
		return err
	}
	return r.SweepExpiredKeys(ctx)
}
