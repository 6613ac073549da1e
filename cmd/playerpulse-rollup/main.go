package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/playerpulse/pkg/config"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

var (
	runOnce = flag.Bool("run-once", false, "Compute and publish one snapshot, then exit")
	asOf    = flag.String("date", "", "Compute the window ending on this day (YYYY-MM-DD) instead of today. Only used with --run-once")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "playerpulse-rollup: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "playerpulse-rollup")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Rollup runner failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	if cfg.Storage.Type == storage.BackendMemory {
		return errors.New("the rollup runner needs a SQL backend (set PLAYERPULSE_STORAGE_TYPE)")
	}

	ctx := observability.WithLogger(context.Background(), logger)

	db, dialect, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	breaker := storage.NewBreaker(string(dialect), cfg.Storage.BreakerFailureThreshold, cfg.Storage.BreakerOpenTimeout)
	log := events.NewSQLLog(db, dialect, breaker)
	sink := rollup.NewSQLSink(db, dialect, breaker)
	for _, migrate := range []func(context.Context) error{log.Migrate, sink.Migrate} {
		if err := migrate(ctx); err != nil {
			return err
		}
	}

	opts := []rollup.Option{rollup.WithLogger(logger)}
	if *runOnce && *asOf != "" {
		day, err := time.ParseInLocation(time.DateOnly, *asOf, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid date format: %w", err)
		}
		// the last instant of day, so day itself is the newest bucket
		opts = append(opts, rollup.WithClock(func() time.Time {
			return day.Add(24*time.Hour - time.Nanosecond)
		}))
	}

	scheduler := rollup.NewScheduler(log, rollup.NewPublisher(sink), rollup.SchedulerConfig{
		Interval:                cfg.Analytics.RollupInterval,
		WindowDays:              cfg.Analytics.RollupWindowDays,
		CohortMinSize:           cfg.Analytics.CohortMinSize,
		HighEngagementThreshold: cfg.Analytics.HighEngagementThreshold,
	}, opts...)

	if *runOnce {
		if *asOf != "" {
			logger.WithField("date", *asOf).Info("Backfilling rollup snapshot")
		}
		snap, err := scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"version": snap.Version.String(),
			"from":    snap.Window.From.Format(time.DateOnly),
			"to":      snap.Window.To.Format(time.DateOnly),
		}).Info("Rollup snapshot written")
		return nil
	}

	if err := scheduler.Start(); err != nil {
		return err
	}
	logger.WithField("interval", cfg.Analytics.RollupInterval.String()).Info("Rollup runner started")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("Shutting down gracefully...")
	scheduler.Stop()
	logger.Info("Rollup runner stopped")
	return nil
}
