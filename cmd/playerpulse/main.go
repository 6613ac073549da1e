package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/playerpulse/pkg/aggregator"
	"github.com/platinummonkey/playerpulse/pkg/analytics"
	"github.com/platinummonkey/playerpulse/pkg/api"
	"github.com/platinummonkey/playerpulse/pkg/async"
	"github.com/platinummonkey/playerpulse/pkg/config"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/retention"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "playerpulse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithFields(map[string]interface{}{"service": "playerpulse", "version": version})
	ctx, cancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	checker := observability.NewHealthChecker(version)

	b, err := openBackends(ctx, cfg, logger, metrics, checker)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	// Incremental path: log -> consumer -> counters
	agg := aggregator.New(b.counters, aggregator.WithLogger(logger), aggregator.WithMetrics(metrics))
	consumer := aggregator.NewConsumer(b.log, agg, b.checkpoint, aggregator.ConsumerConfig{
		Workers:      cfg.Analytics.ConsumerWorkers,
		BatchSize:    cfg.Analytics.ConsumerBatchSize,
		PollInterval: cfg.Analytics.ConsumerPollInterval,
		GapTimeout:   cfg.Analytics.ConsumerGapTimeout,
	})
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			logger.WithError(err).Error("Event consumer exited")
		}
	}()

	// Batch path: log -> scheduler -> snapshot
	var sinks []rollup.Sink
	if b.sink != nil {
		sinks = append(sinks, b.sink)
	}
	publisher := rollup.NewPublisher(sinks...)
	scheduler := rollup.NewScheduler(b.log, publisher, rollup.SchedulerConfig{
		Interval:                cfg.Analytics.RollupInterval,
		WindowDays:              cfg.Analytics.RollupWindowDays,
		CohortMinSize:           cfg.Analytics.CohortMinSize,
		HighEngagementThreshold: cfg.Analytics.HighEngagementThreshold,
	}, rollup.WithLogger(logger), rollup.WithMetrics(metrics))
	if err := scheduler.Start(); err != nil {
		return err
	}
	async.SafeGo(ctx, 10*time.Minute, "initial rollup", func(ctx context.Context) error {
		if b.sink != nil {
			loaded, err := publisher.WarmStart(ctx, b.sink)
			if err != nil {
				logger.WithError(err).Warn("Failed to load last rollup snapshot")
			} else if loaded {
				logger.Info("Serving last durable rollup snapshot until the first run")
			}
		}
		_, err := scheduler.RunOnce(ctx)
		if errors.Is(err, rollup.ErrSchedulerOverlap) {
			return nil
		}
		return err
	})
	checker.AddCheck("rollup", false, func(context.Context) error {
		if !publisher.Published() {
			return fmt.Errorf("no rollup snapshot yet: %w", observability.ErrDegraded)
		}
		return nil
	})

	// Retention: archive then purge events past the horizon
	evictor, err := retention.NewEvictor(b.log, b.archiver, publisher, retention.Config{
		HorizonDays:    cfg.Analytics.RetentionHorizonDays,
		WindowDays:     cfg.Analytics.RollupWindowDays,
		Schedule:       cfg.Analytics.RetentionSchedule,
		ArchiveWorkers: retention.DefaultConfig().ArchiveWorkers,
		ArchiveTimeout: retention.DefaultConfig().ArchiveTimeout,
	}, retention.WithLogger(logger), retention.WithMetrics(metrics))
	if err != nil {
		return err
	}
	if err := evictor.Start(); err != nil {
		return err
	}

	// Query API
	svc := analytics.NewService(b.log, b.counters, publisher,
		analytics.WithLogger(logger), analytics.WithMetrics(metrics))

	apiOpts := []api.Option{api.WithLogger(logger), api.WithHealthChecker(checker)}
	var metricsRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		metricsRegistry = registry
	}
	apiOpts = append(apiOpts, api.WithMetrics(metrics, metricsRegistry))

	server := api.NewServer(svc, apiOpts...).HTTPServer(net.JoinHostPort(cfg.Server.Host, cfg.Server.Port))
	server.ReadTimeout = cfg.Server.ReadTimeout
	server.WriteTimeout = cfg.Server.WriteTimeout
	server.IdleTimeout = cfg.Server.IdleTimeout

	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           opsHandler(checker, metricsRegistry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serve := func(name string, srv *http.Server) {
		logger.WithField("addr", srv.Addr).Infof("Starting %s server", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Errorf("%s server failed", name)
			cancel()
		}
	}
	go serve("API", server)
	go serve("ops", opsServer)

	// Steps run in reverse: stop producers of work before the stores they write to.
	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.Register("storage", func(context.Context) error { return b.Close() })
	shutdown.Register("consumer", func(ctx context.Context) error {
		cancel()
		select {
		case <-consumerDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		return consumer.Close()
	})
	shutdown.Register("scheduler", func(context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdown.Register("retention", func(context.Context) error {
		evictor.Stop()
		return nil
	})
	shutdown.Register("ops server", opsServer.Shutdown)

	logger.Info("playerpulse started")
	return shutdown.WaitForShutdown(ctx)
}

// opsHandler serves probes and metrics on the health port
func opsHandler(checker *observability.HealthChecker, registry *prometheus.Registry) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
	if registry != nil {
		r.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	return r
}
