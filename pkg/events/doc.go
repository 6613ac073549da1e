// Package events implements the append-only event log that every other component of
// playerpulse reads from.
//
// # Overview
//
// An Event is an immutable, player-attributed fact emitted by the game client and
// accepted by the ingestion API. The log assigns each event a monotonic id on Append
// and never rewrites it. Events leave the log only through Purge, which the retention
// evictor calls once rollups covering them have been published.
//
// # Reading
//
// The log keeps no consumer offsets. Readers pick one of two access paths:
//
//   - Scan: a bounded time window, ordered by created_at, used by the rollup scheduler.
//     Each call re-reads the store, so a scan can be restarted at will.
//   - Since: events after an id, ordered by id, used by the incremental consumer to
//     tail the log from its own watermark.
//
// Scanning without a bounded window is a configuration error (ErrUnboundedScan).
//
// # Parameters
//
// Event parameters are free-form. Numeric accessors tolerate strings such as "1.99"
// and report anything else as a *MalformedParameterError so that callers can count
// the problem and treat the value as zero:
//
//	price, err := event.Decimal("price_usd")
//	if err != nil {
//		logger.WithError(err).Warn("treating price as zero")
//	}
//
// # Backends
//
//   - MemoryLog: in-process, used by tests and single-node deployments
//   - SQLLog: PostgreSQL or SQLite through database/sql, guarded by a circuit breaker
package events
