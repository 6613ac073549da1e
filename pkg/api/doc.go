// Package api serves the read-only dashboard API over HTTP.
//
// Routes:
//
//	GET /api/v1/players/{id}/counters                           per-player counters
//	GET /api/v1/rollups/{family}?from=YYYY-MM-DD&to=YYYY-MM-DD   one rollup family
//	GET /api/v1/cohorts?from=YYYY-MM-DD&to=YYYY-MM-DD            weekly retention cohorts
//	GET /healthz                                                liveness
//	GET /readyz                                                 readiness
//	GET /metrics                                                Prometheus metrics
//
// Rollup and cohort responses carry the version of the snapshot they were read from.
// Before the first snapshot is published they answer 503.
//
// Usage:
//
//	server := api.NewServer(svc,
//		api.WithLogger(logger),
//		api.WithMetrics(metrics, registry),
//		api.WithHealthChecker(checker),
//	)
//	log.Fatal(server.HTTPServer(":8080").ListenAndServe())
package api
