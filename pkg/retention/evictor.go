package retention

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/playerpulse/pkg/async"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
)

var (
	// ErrHorizonTooShort is returned when the horizon is shorter than the rollup window.
	ErrHorizonTooShort = errors.New("retention horizon must be at least the rollup window")

	// ErrNotReady is returned by runs before any rollup snapshot has been published.
	ErrNotReady = errors.New("retention skipped: no rollup snapshot published yet")
)

// Gate reports whether eviction may proceed. *rollup.Publisher satisfies it.
type Gate interface {
	Published() bool
}

// Config controls what is evicted and when
type Config struct {
	HorizonDays    int
	WindowDays     int
	Schedule       string
	ArchiveWorkers int
	ArchiveTimeout time.Duration
}

// DefaultConfig keeps 90 days and evicts daily at 03:30 UTC
func DefaultConfig() Config {
	return Config{
		HorizonDays:    90,
		WindowDays:     90,
		Schedule:       "30 3 * * *",
		ArchiveWorkers: 4,
		ArchiveTimeout: 2 * time.Minute,
	}
}

// Validate rejects a horizon that would evict events inside the rollup window
func (c Config) Validate() error {
	if c.HorizonDays <= 0 {
		return fmt.Errorf("retention horizon must be positive, got %d days", c.HorizonDays)
	}
	if c.HorizonDays < c.WindowDays {
		return fmt.Errorf("%w: horizon %d days, window %d days", ErrHorizonTooShort, c.HorizonDays, c.WindowDays)
	}
	return nil
}

// Result summarizes one eviction run
type Result struct {
	Cutoff   time.Time
	Days     int
	Archived int64
	Purged   int64
}

// Evictor archives and purges expired events
type Evictor struct {
	log      events.Log
	archiver Archiver
	gate     Gate
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures an Evictor
type Option func(*Evictor)

// WithLogger sets the evictor logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Evictor) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics the evictor records on
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evictor) {
		e.metrics = m
	}
}

// WithClock overrides the clock used to place the cutoff
func WithClock(now func() time.Time) Option {
	return func(e *Evictor) {
		e.now = now
	}
}

// NewEvictor creates an evictor. A nil archiver purges without archiving.
func NewEvictor(log events.Log, archiver Archiver, gate Gate, cfg Config, opts ...Option) (*Evictor, error) {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.ArchiveWorkers <= 0 {
		cfg.ArchiveWorkers = def.ArchiveWorkers
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = def.ArchiveTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Evictor{
		log:      log,
		archiver: archiver,
		gate:     gate,
		cfg:      cfg,
		logger:   observability.NopLogger(),
		metrics:  observability.NewUnregisteredMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "retention")
	return e, nil
}

// Cutoff returns the instant before which events are evicted
func (e *Evictor) Cutoff(now time.Time) time.Time {
	return events.Day(now).AddDate(0, 0, -e.cfg.HorizonDays)
}

// RunOnce archives every event older than the cutoff, grouped by day, and purges them
// once all archives are written. A failed archive leaves the log untouched.
// With an archiver only the archived ids are purged; events that land behind the
// cutoff during the run wait for the next one.
func (e *Evictor) RunOnce(ctx context.Context) (Result, error) {
	if e.gate != nil && !e.gate.Published() {
		return Result{}, ErrNotReady
	}

	res := Result{Cutoff: e.Cutoff(e.now())}

	var (
		purged int64
		err    error
	)
	if e.archiver != nil {
		var byDay map[time.Time][]*events.Event
		if byDay, err = e.collect(ctx, res.Cutoff); err != nil {
			return res, err
		}
		res.Days = len(byDay)
		if res.Archived, err = e.archive(ctx, byDay); err != nil {
			return res, err
		}
		e.metrics.EventsArchivedTotal.Add(float64(res.Archived))

		purged, err = e.log.PurgeIDs(ctx, archivedIDs(byDay))
	} else {
		purged, err = e.log.Purge(ctx, res.Cutoff)
	}
	if err != nil {
		return res, fmt.Errorf("failed to purge events before %s: %w", res.Cutoff.Format(time.DateOnly), err)
	}
	res.Purged = purged
	e.metrics.EventsPurgedTotal.Add(float64(purged))

	e.logger.WithFields(map[string]interface{}{
		"cutoff":   res.Cutoff.Format(time.DateOnly),
		"days":     res.Days,
		"archived": res.Archived,
		"purged":   res.Purged,
	}).Info("Retention run completed")
	return res, nil
}

// collect scans everything before cutoff, grouped by UTC day
func (e *Evictor) collect(ctx context.Context, cutoff time.Time) (map[time.Time][]*events.Event, error) {
	window := events.TimeRange{From: time.Unix(0, 0).UTC(), To: cutoff}
	byDay := make(map[time.Time][]*events.Event)
	for ev, err := range e.log.Scan(ctx, window, events.Filter{}) {
		if err != nil {
			return nil, fmt.Errorf("failed to scan expiring events: %w", err)
		}
		day := ev.Day()
		byDay[day] = append(byDay[day], ev)
	}
	return byDay, nil
}

func archivedIDs(byDay map[time.Time][]*events.Event) []int64 {
	var ids []int64
	for _, evs := range byDay {
		for _, ev := range evs {
			ids = append(ids, ev.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

func (e *Evictor) archive(ctx context.Context, byDay map[time.Time][]*events.Event) (int64, error) {
	days := make([]time.Time, 0, len(byDay))
	var total int64
	for d, evs := range byDay {
		days = append(days, d)
		total += int64(len(evs))
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	ctx = observability.WithLogger(ctx, e.logger)
	errs := async.Batch(ctx, days, e.cfg.ArchiveWorkers, "archive events", e.cfg.ArchiveTimeout,
		func(ctx context.Context, day time.Time) error {
			if err := e.archiver.Archive(ctx, day, byDay[day]); err != nil {
				return fmt.Errorf("archive %s: %w", day.Format(time.DateOnly), err)
			}
			return nil
		})
	if len(errs) > 0 {
		return 0, fmt.Errorf("failed to archive expiring events: %w", errors.Join(errs...))
	}
	return total, nil
}

// Start schedules RunOnce on the configured cron spec
func (e *Evictor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(e.cfg.Schedule, e.tick); err != nil {
		return fmt.Errorf("failed to schedule retention %q: %w", e.cfg.Schedule, err)
	}
	c.Start()
	e.cron = c

	e.logger.WithFields(map[string]interface{}{
		"schedule":     e.cfg.Schedule,
		"horizon_days": e.cfg.HorizonDays,
		"archive":      e.archiver != nil,
	}).Info("Retention evictor started")
	return nil
}

func (e *Evictor) tick() {
	defer observability.RecoverPanic(e.logger, "retention tick")

	_, err := e.RunOnce(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, ErrNotReady):
		e.logger.Info("Retention run skipped: no rollup published yet")
	default:
		e.logger.WithError(err).Error("Retention run failed")
	}
}

// Stop stops the schedule and waits for a running eviction to finish
func (e *Evictor) Stop() {
	e.mu.Lock()
	c := e.cron
	e.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
