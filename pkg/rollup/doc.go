// Package rollup recomputes day-bucketed aggregate tables from the event log.
//
// # Overview
//
// Every run scans a trailing window of events once and reduces it into six metric
// families (DAU, revenue, engagement, missions, funnel, currency), a summary that
// joins them by date, and install-week retention cohorts. Rows are a pure function of
// the scanned events: running twice over the same log yields byte-identical JSON.
//
// # Publishing
//
// A run's output is a Snapshot. The Publisher writes it to every durable Sink first and
// only then swaps the in-memory pointer, so readers see either the previous snapshot or
// the new one in full, never a mix:
//
//	publisher := rollup.NewPublisher(sqlSink)
//	scheduler := rollup.NewScheduler(log, publisher, rollup.DefaultSchedulerConfig(),
//		rollup.WithLogger(logger), rollup.WithMetrics(metrics))
//
//	if err := scheduler.Start(); err != nil {
//		return err
//	}
//	defer scheduler.Stop()
//
//	snap, err := publisher.Current()
//
// # Scheduling
//
// At most one run is active. A tick that fires while a run is still going is skipped
// with ErrSchedulerOverlap rather than queued. Stop cancels an in-flight run, which
// then publishes nothing.
package rollup
