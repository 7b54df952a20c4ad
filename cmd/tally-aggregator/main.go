package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/jobs"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage/archive"
	"github.com/platinummonkey/tally/pkg/storage/postgres"
)

var (
	runOnce         = flag.Bool("run-once", false, "Run rollup, archive and key sweep once and exit")
	aggregationDate = flag.String("date", "", "Date to aggregate (YYYY-MM-DD). If empty, aggregates yesterday. Only used with --run-once")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel.String()); err == nil {
		log.SetLevel(level)
	}

	db, err := postgres.NewConnectionManager(postgres.ConfigFromStorage(cfg.Storage), observability.NewLogger(cfg.Observability.LogLevel, os.Stdout))
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	ctx := context.Background()

	var exporter jobs.DayExporter
	if cfg.Storage.ArchiveEnabled() {
		client, err := archive.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			log.WithError(err).Fatal("Failed to create S3 client")
		}
		archiver := archive.New(client, cfg.Storage.S3Bucket)
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.WithError(err).Fatal("Failed to prepare archive bucket")
		}
		exporter = analytics.NewExporter(analytics.NewRepository(db.Replica()), archiver)
	}

	keys := auth.NewKeyService(auth.NewRepository(db.Primary()))
	runner := jobs.NewRunner(analytics.NewRollup(db.Primary()), keys, exporter, log)

	if *runOnce {
		day := runner.Yesterday()
		if *aggregationDate != "" {
			day, err = time.Parse("2006-01-02", *aggregationDate)
			if err != nil {
				log.WithError(err).Fatal("Invalid date format")
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, cfg.Jobs.JobTimeout)
		defer cancel()
		log.WithField("date", day.Format("2006-01-02")).Info("Running aggregation once")
		if err := runner.RunDay(runCtx, day); err != nil {
			log.WithError(err).Fatal("Aggregation failed")
		}
		log.Info("Aggregation completed successfully")
		return
	}

	scheduler, err := jobs.NewScheduler(runner, jobs.Schedules{
		Rollup:   cfg.Jobs.RollupSchedule,
		KeySweep: cfg.Jobs.KeySweepSchedule,
		Archive:  cfg.Jobs.ArchiveSchedule,
	}, cfg.Jobs.JobTimeout, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule jobs")
	}

	scheduler.Start()
	log.WithField("archive", runner.ArchiveEnabled()).Info("Tally aggregator started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down gracefully...")

	stopCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("Running jobs did not finish before shutdown")
	}
	log.Info("Aggregator stopped")
}
