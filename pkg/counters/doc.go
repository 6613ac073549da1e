// Package counters keeps one cumulative counter record per player.
//
// Every update goes through Store.Upsert with a DeltaFunc: a pure function from the
// current record to the next one. Stores apply the delta atomically per player, so
// concurrent updates to the same player never lose increments.
//
// Three stores are provided:
//
//   - MemoryStore: striped per-player mutexes, never contends
//   - SQLStore: optimistic compare-and-swap on a version column (PostgreSQL, SQLite)
//   - RedisStore: WATCH/MULTI optimistic transactions
//
// The optimistic stores retry a lost race with exponential backoff. Once the
// RetryPolicy budget is spent they return ErrContentionExceeded and the caller is
// expected to redeliver the event later:
//
//	store := counters.NewSQLStore(db, storage.DialectPostgres, breaker,
//		counters.WithRetryPolicy(counters.DefaultRetryPolicy()))
//
//	pc, err := store.Upsert(ctx, "player-1", func(cur counters.PlayerCounters, isNew bool) counters.PlayerCounters {
//		cur.TotalSessions++
//		return cur
//	})
package counters
