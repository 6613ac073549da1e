// Package storage holds the pieces shared by every persistent backend in playerpulse.
//
// # Overview
//
// The event log, the counter store and the rollup sink each have their own package,
// but they all open databases the same way, speak one of two SQL dialects and report
// an unreachable backend with the same error. This package centralizes that:
//
//   - Config: backend selection plus PostgreSQL, SQLite, Redis and S3 settings
//   - Open: opens and pings a *sql.DB for the configured dialect
//   - Dialect: placeholder rebinding between "?" and "$n" styles
//   - Breaker: a circuit breaker that maps backend failures to ErrStorageUnavailable
//
// # Errors
//
// Callers match storage failures with errors.Is:
//
//	if errors.Is(err, storage.ErrStorageUnavailable) {
//		// fail closed, redeliver later
//	}
//
// # Backends
//
//   - memory: in-process maps, used by tests and single-node demos
//   - sqlite: github.com/mattn/go-sqlite3, used for local development
//   - postgres: github.com/lib/pq, used in production
//
// # Related Packages
//
//   - pkg/events: append-only event log
//   - pkg/counters: per-player counter store
//   - pkg/rollup: rollup snapshot sink
package storage
