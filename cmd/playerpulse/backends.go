package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/playerpulse/pkg/aggregator"
	"github.com/platinummonkey/playerpulse/pkg/config"
	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/retention"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

// migrator is implemented by every SQL-backed component
type migrator interface {
	Migrate(ctx context.Context) error
}

// backends holds the storage side of the process
type backends struct {
	log        events.Log
	counters   counters.Store
	checkpoint aggregator.Checkpoint
	sink       *rollup.SQLSink
	archiver   retention.Archiver

	closers []func() error
}

// Close releases every opened backend, last opened first
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackends opens the event log, counter store, checkpoint, rollup sink and archive
// selected by cfg, runs migrations and registers health checks.
func openBackends(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, checker *observability.HealthChecker) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	counterOpts := []counters.Option{counters.WithMetrics(metrics)}

	switch cfg.Storage.Type {
	case storage.BackendMemory:
		logger.Warn("Using in-memory storage: events and counters are lost on restart")
		b.log = events.NewMemoryLog()
		b.counters = counters.NewMemoryStore(counterOpts...)
		b.checkpoint = &aggregator.MemoryCheckpoint{}

	default:
		db, dialect, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		checker.AddCheck("database", true, observability.DatabaseCheck(db))

		breaker := storage.NewBreaker(string(dialect), cfg.Storage.BreakerFailureThreshold, cfg.Storage.BreakerOpenTimeout)
		sqlLog := events.NewSQLLog(db, dialect, breaker)
		sqlStore := counters.NewSQLStore(db, dialect, breaker, counterOpts...)
		checkpoint := aggregator.NewSQLCheckpoint(db, dialect, breaker, "counters")
		sink := rollup.NewSQLSink(db, dialect, breaker)

		for _, m := range []migrator{sqlLog, sqlStore, checkpoint, sink} {
			if err := m.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate %T: %w", m, err)
			}
		}

		b.log = sqlLog
		b.counters = sqlStore
		b.checkpoint = checkpoint
		b.sink = sink
		logger.WithField("dialect", string(dialect)).Info("SQL storage ready")
	}

	if cfg.Storage.RedisURL != "" {
		client, err := storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		checker.AddCheck("redis", true, observability.RedisCheck(client))

		b.counters = counters.NewRedisStore(client, counterOpts...)
		logger.Info("Using Redis counter store")
	}

	if cfg.Storage.S3Bucket != "" {
		archiver, err := retention.NewS3Archiver(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		checker.AddCheck("s3", false, archiver.HealthCheck)
		b.archiver = archiver
		logger.WithField("bucket", cfg.Storage.S3Bucket).Info("Archiving evicted events to S3")
	}

	return b, nil
}
