package rollup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/playerpulse/pkg/cohort"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/playerpulse/pkg/rollup")

// SchedulerConfig controls how often and over how much history rollups run
type SchedulerConfig struct {
	Interval                time.Duration
	WindowDays              int
	CohortMinSize           int
	HighEngagementThreshold time.Duration
}

// DefaultSchedulerConfig returns a 5 minute interval over a 90 day window
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:                5 * time.Minute,
		WindowDays:              90,
		CohortMinSize:           cohort.DefaultMinSize,
		HighEngagementThreshold: DefaultOptions().HighEngagementThreshold,
	}
}

// Scheduler runs rollups on a cron schedule, one at a time
type Scheduler struct {
	log       events.Log
	publisher *Publisher
	cfg       SchedulerConfig
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	running atomic.Bool

	mu       sync.Mutex
	cron     *cron.Cron
	inflight context.CancelFunc
	stopped  bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the scheduler logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics the scheduler records on
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides the clock used to place the rollup window
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler that scans log and publishes to publisher
func NewScheduler(log events.Log, publisher *Publisher, cfg SchedulerConfig, opts ...Option) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.CohortMinSize <= 0 {
		cfg.CohortMinSize = def.CohortMinSize
	}
	if cfg.HighEngagementThreshold <= 0 {
		cfg.HighEngagementThreshold = def.HighEngagementThreshold
	}

	s := &Scheduler{
		log:       log,
		publisher: publisher,
		cfg:       cfg,
		logger:    observability.NopLogger(),
		metrics:   observability.NewUnregisteredMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "rollup")
	return s
}

// Window returns the scan window for a run starting at now: the last WindowDays
// complete days plus today.
func (s *Scheduler) Window(now time.Time) Window {
	today := events.Day(now)
	return Window{
		From: today.AddDate(0, 0, -s.cfg.WindowDays),
		To:   today.AddDate(0, 0, 1),
	}
}

// Start registers the rollup on an "@every" cron entry and starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("rollup scheduler already stopped")
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	spec := "@every " + s.cfg.Interval.String()
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("failed to schedule rollup %q: %w", spec, err)
	}
	c.Start()
	s.cron = c

	s.logger.WithFields(map[string]interface{}{
		"interval":    s.cfg.Interval.String(),
		"window_days": s.cfg.WindowDays,
	}).Info("Rollup scheduler started")
	return nil
}

func (s *Scheduler) tick() {
	defer observability.RecoverPanic(s.logger, "rollup tick")

	_, err := s.RunOnce(context.Background())
	switch {
	case err == nil, errors.Is(err, ErrSchedulerOverlap), errors.Is(err, context.Canceled):
	default:
		s.logger.WithError(err).Error("Rollup run failed")
	}
}

// Stop cancels any in-flight run, stops the cron loop and waits for the run to return.
// Runs started after Stop are cancelled immediately.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.inflight != nil {
		s.inflight()
	}
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.logger.Info("Rollup scheduler stopped")
}

// begin registers a cancellable run context, or reports that the scheduler is stopped
func (s *Scheduler) begin(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.stopped {
		cancel()
	}
	s.inflight = cancel
	s.mu.Unlock()

	return runCtx, func() {
		s.mu.Lock()
		s.inflight = nil
		s.mu.Unlock()
		cancel()
	}
}

// RunOnce computes and publishes one snapshot. It returns ErrSchedulerOverlap without
// doing anything if another run is active. A run whose context is cancelled before it
// publishes leaves the current snapshot in place.
func (s *Scheduler) RunOnce(ctx context.Context) (*Snapshot, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.RollupOverlapsTotal.Inc()
		s.metrics.RollupRunsTotal.WithLabelValues("skipped").Inc()
		s.logger.Warn("Skipping rollup run: previous run still active")
		return nil, ErrSchedulerOverlap
	}
	defer s.running.Store(false)

	ctx, done := s.begin(ctx)
	defer done()

	start := s.now()
	window := s.Window(start)

	ctx, span := tracer.Start(ctx, "Rollup.Run",
		trace.WithAttributes(
			attribute.String("window.from", window.From.Format(time.DateOnly)),
			attribute.String("window.to", window.To.Format(time.DateOnly)),
		),
	)
	defer span.End()

	snap, stats, err := s.compute(ctx, window, start)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = s.publisher.Publish(ctx, snap)
	}
	s.metrics.RollupDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		result := "error"
		if ctx.Err() != nil {
			result = "cancelled"
			err = fmt.Errorf("rollup run cancelled: %w", ctx.Err())
		}
		s.metrics.RollupRunsTotal.WithLabelValues(result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return nil, err
	}

	s.metrics.RollupRunsTotal.WithLabelValues("ok").Inc()
	s.metrics.RollupEventsScanned.Set(float64(stats.EventsScanned))
	s.metrics.RollupLastPublishedUnix.Set(float64(snap.GeneratedAt.Unix()))
	for param, n := range stats.Malformed {
		s.metrics.MalformedParametersTotal.WithLabelValues("rollup", param).Add(float64(n))
	}
	span.SetAttributes(attribute.Int64("events.scanned", stats.EventsScanned))

	s.logger.WithFields(map[string]interface{}{
		"version":        snap.Version.String(),
		"events_scanned": stats.EventsScanned,
		"days":           len(snap.Tables.DAU),
		"cohorts":        len(snap.Tables.Cohorts),
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Info("Rollup snapshot published")
	return snap, nil
}

// compute scans the window once. The family reducers consume the scan while every
// event is also streamed to the cohort calculator, so both tables describe the same
// set of events.
func (s *Scheduler) compute(ctx context.Context, window Window, start time.Time) (*Snapshot, Stats, error) {
	var (
		tables *Tables
		stats  Stats
	)
	calc := cohort.NewCalculator(s.cfg.CohortMinSize)
	feed := make(chan *events.Event, 256)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(feed)

		scan := s.log.Scan(gctx, window.TimeRange(), events.Filter{})
		shared := func(yield func(*events.Event, error) bool) {
			for e, err := range scan {
				if err == nil {
					select {
					case feed <- e:
					case <-gctx.Done():
						yield(nil, gctx.Err())
						return
					}
				}
				if !yield(e, err) {
					return
				}
			}
		}

		var err error
		opts := Options{HighEngagementThreshold: s.cfg.HighEngagementThreshold}
		tables, stats, err = Compute(gctx, shared, opts)
		if err != nil {
			return fmt.Errorf("failed to compute rollup families: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		for e := range feed {
			calc.Add(e)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	tables.Summary = BuildSummary(tables)
	tables.Cohorts = calc.Rows()
	return NewSnapshot(tables, window, start), stats, nil
}
