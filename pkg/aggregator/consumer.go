package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/playerpulse/pkg/async"
	"github.com/platinummonkey/playerpulse/pkg/events"
)

// ConsumerConfig tunes the event log consumer
type ConsumerConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	TaskTimeout  time.Duration
	DedupeSize   int
	DedupeTTL    time.Duration

	// GapTimeout is how long a missing id holds the watermark before it is skipped.
	// Ids of inserts that are still committing show up late; ids of rolled back
	// inserts never do.
	GapTimeout time.Duration
}

// DefaultConsumerConfig returns the default consumer settings
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:      8,
		BatchSize:    500,
		PollInterval: time.Second,
		TaskTimeout:  30 * time.Second,
		DedupeSize:   100_000,
		DedupeTTL:    time.Hour,
		GapTimeout:   10 * time.Second,
	}
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithConsumerClock sets the clock used to time id gaps
func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) {
		c.now = now
	}
}

// idGap is the lowest id the consumer is waiting for
type idGap struct {
	id    int64
	since time.Time
}

// Consumer tails the event log by id and feeds batches to an Aggregator. Events of
// different players are applied in parallel; one player's events stay in order in a
// single upsert.
type Consumer struct {
	log        events.Log
	agg        *Aggregator
	checkpoint Checkpoint
	cfg        ConsumerConfig

	pool *async.WorkerPool
	seen *lru.LRU[int64, struct{}]
	now  func() time.Time

	mu        sync.Mutex // serializes Poll
	loaded    bool
	watermark int64
	gap       idGap
}

// NewConsumer creates a consumer. Close releases its worker pool.
func NewConsumer(log events.Log, agg *Aggregator, checkpoint Checkpoint, cfg ConsumerConfig, opts ...ConsumerOption) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = def.DedupeSize
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = def.DedupeTTL
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = def.GapTimeout
	}
	if checkpoint == nil {
		checkpoint = &MemoryCheckpoint{}
	}

	poolCtx := observabilityContext(agg)
	c := &Consumer{
		log:        log,
		agg:        agg,
		checkpoint: checkpoint,
		cfg:        cfg,
		pool:       async.NewWorkerPool(poolCtx, cfg.Workers, "apply events", cfg.TaskTimeout),
		seen:       lru.NewLRU[int64, struct{}](cfg.DedupeSize, nil, cfg.DedupeTTL),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watermark returns the highest event id known to be fully applied
func (c *Consumer) Watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// Poll reads the next batch after the watermark and applies it. It returns how many
// events were applied. The watermark only moves when every event in the batch was
// applied; otherwise the batch is read again on the next poll and events already
// applied are skipped. It also stops short of a missing id until GapTimeout passes,
// since ids are assigned before commit and may become visible out of order.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		wm, err := c.checkpoint.Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to load consumer checkpoint: %w", err)
		}
		c.watermark, c.loaded = wm, true
		c.agg.metrics.ConsumerWatermark.Set(float64(wm))
	}

	batch, err := c.log.Since(ctx, c.watermark, c.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read events after %d: %w", c.watermark, err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	pending := make([]*events.Event, 0, len(batch))
	for _, e := range batch {
		if !c.seen.Contains(e.ID) {
			pending = append(pending, e)
		}
	}

	groups := groupByPlayer(pending)
	tasks := make([]func(context.Context) error, len(groups))
	for i, g := range groups {
		g := g
		tasks[i] = func(ctx context.Context) error {
			return c.agg.applyPlayer(ctx, g.playerID, g.events)
		}
	}

	applied := 0
	var failed []error
	for i, err := range c.pool.SubmitAll(ctx, tasks) {
		if err != nil {
			failed = append(failed, err)
			continue
		}
		for _, e := range groups[i].events {
			c.seen.Add(e.ID, struct{}{})
		}
		applied += len(groups[i].events)
	}

	if len(failed) > 0 {
		err := errors.Join(failed...)
		c.agg.logger.WithFields(map[string]interface{}{
			"watermark":      c.watermark,
			"batch_size":     len(batch),
			"failed_players": len(failed),
		}).WithError(err).Warn("batch partially applied; holding watermark for redelivery")
		return applied, err
	}

	last := c.contiguous(batch)
	if last == c.watermark {
		return applied, nil
	}
	if err := c.checkpoint.Save(ctx, last); err != nil {
		return applied, fmt.Errorf("failed to save consumer checkpoint %d: %w", last, err)
	}
	c.watermark = last
	c.agg.metrics.ConsumerWatermark.Set(float64(last))

	return applied, nil
}

// contiguous returns the highest id the watermark can move to: the end of the run of
// consecutive ids after the watermark. A missing id ends the run until it has been
// missing for GapTimeout.
func (c *Consumer) contiguous(batch []*events.Event) int64 {
	next := c.watermark
	for _, e := range batch {
		if e.ID <= next {
			continue
		}
		if e.ID != next+1 && !c.gapExpired(next+1, e.ID-1) {
			break
		}
		next = e.ID
	}
	return next
}

func (c *Consumer) gapExpired(from, to int64) bool {
	now := c.now()
	if c.gap.id != from {
		c.gap = idGap{id: from, since: now}
	}
	waited := now.Sub(c.gap.since)
	if waited < c.cfg.GapTimeout {
		return false
	}

	c.agg.metrics.ConsumerSkippedIDsTotal.Add(float64(to - from + 1))
	c.agg.logger.WithFields(map[string]interface{}{
		"from":   from,
		"to":     to,
		"waited": waited.String(),
	}).Warn("event ids never appeared; moving watermark past them")
	return true
}

// Run polls until ctx is cancelled. A full batch is followed immediately by the next
// poll; otherwise the consumer waits for the poll interval.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.agg.logger.WithFields(map[string]interface{}{
		"workers":    c.cfg.Workers,
		"batch_size": c.cfg.BatchSize,
		"interval":   c.cfg.PollInterval.String(),
	}).Info("event consumer started")

	for {
		n, err := c.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			c.agg.logger.WithError(err).Error("event consumer poll failed")
		}

		if err == nil && n >= c.cfg.BatchSize {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			c.agg.logger.Info("event consumer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Close shuts down the worker pool
func (c *Consumer) Close() error {
	return c.pool.Shutdown(5 * time.Second)
}
