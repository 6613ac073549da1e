// Package aggregator turns events into per-player counter updates.
//
// Plan maps one event to a pure counters.DeltaFunc using a fixed table keyed by event
// name. Parameters are parsed before the delta is built, so the delta itself never
// fails and can be re-run by an optimistic store as often as needed. Malformed
// parameters are reported alongside the delta and count as zero.
//
// The Aggregator applies deltas through a counters.Store. The Consumer tails the event
// log by id, applies each batch on a worker pool and only advances its checkpoint
// once the whole batch has been applied:
//
//	agg := aggregator.New(store, aggregator.WithLogger(logger))
//	consumer := aggregator.NewConsumer(log, agg, checkpoint, aggregator.DefaultConsumerConfig())
//	defer consumer.Close()
//
//	go consumer.Run(ctx)
//
// Delivery is at-least-once. Event ids applied during this process's lifetime are
// remembered in a bounded cache so a redelivered batch does not double count.
package aggregator
