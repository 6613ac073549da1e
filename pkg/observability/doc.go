// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// setup, health checks and graceful shutdown.
//
// # Structured Logging
//
// The Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("player_id", id).Info("Counters updated")
//
// Background work carries its logger in the context (WithLogger / FromContext).
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RollupRunsTotal.WithLabelValues("ok").Inc()
//	http.Handle("/metrics", observability.MetricsHandler(registry))
//
// Components default to NewUnregisteredMetrics so tests never share a registry.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("database", true, observability.DatabaseCheck(db))
//	checker.AddCheck("redis", true, observability.RedisCheck(client))
//
// Liveness always answers 200. Readiness answers 503 only when a critical check fails.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Shutdown
//
// ShutdownManager stops the HTTP server and then runs registered steps in reverse
// order within a timeout.
package observability
