package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/playerpulse/pkg/observability"
)

// ErrPoolShutDown is returned when work is submitted to a pool that has stopped.
var ErrPoolShutDown = errors.New("worker pool shut down")

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging through the context logger
//
// Use this instead of bare `go func()` so a failing background task never takes the
// process down.
//
// Example:
//
//	SafeGo(ctx, 30*time.Second, "warm start", func(ctx context.Context) error {
//	    return publisher.WarmStart(ctx, sink)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)

	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	logger       *observability.Logger
}

// NewWorkerPool creates a new worker pool. Panics and dropped errors are logged with
// the logger carried by ctx.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 8, "apply events", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	errs := pool.SubmitAll(ctx, tasks)
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	logger := observability.FromContext(ctx).WithField("pool", taskName)
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool. Errors returned by the task are delivered
// on Errors(). Returns ErrPoolShutDown if the pool has stopped.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	if p.ctx.Err() != nil {
		return ErrPoolShutDown
	}
	select {
	case <-p.doneCh:
		return ErrPoolShutDown
	default:
	}

	// Shutdown may close workCh between the check above and the send below
	defer func() {
		if r := recover(); r != nil {
			err = ErrPoolShutDown
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolShutDown
	}
}

// SubmitAll runs tasks on the pool and waits for all of them. The returned slice is
// index-aligned with tasks: errs[i] is the result of tasks[i]. Tasks that never ran
// because ctx or the pool stopped report the cancellation error.
func (p *WorkerPool) SubmitAll(ctx context.Context, tasks []func(context.Context) error) []error {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs = make([]error, len(tasks))
		ran  = make([]bool, len(tasks))
	)

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		err := p.Submit(func(poolCtx context.Context) error {
			defer wg.Done()
			if ctx.Err() != nil {
				mu.Lock()
				errs[i], ran[i] = ctx.Err(), true
				mu.Unlock()
				return nil
			}

			taskCtx, cancel := context.WithCancel(poolCtx)
			defer cancel()
			stop := context.AfterFunc(ctx, cancel)
			defer stop()

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic in %s: %v", p.taskName, r)
						p.logger.WithField("stack", string(debug.Stack())).Error(err.Error())
					}
				}()
				err = task(taskCtx)
			}()

			mu.Lock()
			errs[i], ran[i] = err, true
			mu.Unlock()
			return nil
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			errs[i], ran[i] = err, true
			mu.Unlock()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	case <-p.doneCh:
	}

	mu.Lock()
	defer mu.Unlock()

	out := make([]error, len(tasks))
	for i := range tasks {
		switch {
		case ran[i]:
			out[i] = errs[i]
		case ctx.Err() != nil:
			out[i] = ctx.Err()
		default:
			out[i] = ErrPoolShutDown
		}
	}
	return out
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		// Close work channel so workers can drain remaining tasks
		func() {
			defer func() {
				_ = recover() // already closed by Batch
			}()
			close(p.workCh)
		}()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).Warn("error channel full, dropping error")
	}
}

func (p *WorkerPool) worker(id int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"worker": id,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			}).Error("panic in worker")
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(p.ctx, p.timeout)

			func() {
				defer cancel()
				defer func() {
					if r := recover(); r != nil {
						p.report(fmt.Errorf("panic: %v", r))
					}
				}()

				if err := fn(ctx); err != nil {
					p.report(err)
				}
			}()
		}
	}
}

// Batch processes a slice of items concurrently using a worker pool.
// Returns all errors encountered.
//
// Example:
//
//	errs := Batch(ctx, days, 4, "archive events", time.Minute, func(ctx context.Context, day time.Time) error {
//	    return archiver.ArchiveDay(ctx, day)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, workers, taskName, timeout)
	defer pool.Shutdown(5 * time.Second)

	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return []error{err}
		}
	}

	// Drain: close the work channel so workers exit after the last task
	close(pool.workCh)
	<-pool.doneCh
	pool.cancel()

	var errs []error
	for {
		select {
		case err := <-pool.errCh:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}
