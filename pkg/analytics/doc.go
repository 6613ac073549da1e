// Package analytics is the playerpulse core facade.
//
// # Overview
//
// Service ties the pieces together behind four operations:
//
//   - IngestEvent appends a validated event to the log and returns its id. Counters
//     pick it up asynchronously through the aggregator consumer.
//   - GetPlayerCounters reads a player's running totals from the counter store.
//   - GetDailyRollup reads one family's rows from the current rollup snapshot.
//   - GetCohortRetention reads install-week cohorts from the current snapshot.
//
// Rollup reads never touch the event log; they are served from the snapshot last
// swapped in by the publisher, so they see either the previous or the new run in full.
//
// # Usage Example
//
//	svc := analytics.NewService(log, store, publisher, analytics.WithLogger(logger))
//
//	id, err := svc.IngestEvent(ctx, &events.Event{
//		PlayerID: "p-42",
//		Name:     events.CurrencyEarned,
//		Parameters: map[string]any{
//			"currency_type": "coins",
//			"amount":        100,
//		},
//	})
//
//	rows, err := svc.GetDailyRollup(ctx, rollup.FamilyDAU, analytics.DateRange{From: from, To: to})
package analytics
