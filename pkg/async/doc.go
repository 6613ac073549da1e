// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error collection. Failures are logged with
// the observability.Logger carried by the context.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, 30*time.Second, "warm start", func(ctx context.Context) error {
//		return publisher.WarmStart(ctx, sink)
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, 8, "apply events", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	errs := pool.SubmitAll(ctx, tasks) // errs[i] belongs to tasks[i]
//
// Batch: Concurrent batch processing
//
//	errs := async.Batch(ctx, days, 4, "archive events", time.Minute, archiveDay)
//
// # Related Packages
//
//   - pkg/aggregator: the consumer applies event batches on a WorkerPool
//   - pkg/retention: archives days in parallel with Batch
package async
