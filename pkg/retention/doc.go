// Package retention evicts raw events that have aged past the retention horizon.
//
// Each run archives the expiring events, one JSON-lines object per UTC day at
// events/<yyyy>/<mm>/<dd>.jsonl merged by event id, and only then purges exactly those
// events from the event log. A run
// does nothing until at least one rollup snapshot has been published, and the
// horizon may never be shorter than the rollup window, so eviction cannot remove
// events a rollup still needs.
package retention
