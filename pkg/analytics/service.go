package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/playerpulse/pkg/cohort"
	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
)

// ErrInvalidRange is returned when a range ends before it starts
var ErrInvalidRange = errors.New("range end is before its start")

// DateRange selects calendar dates, inclusive on both ends. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// WeekRange selects install weeks, inclusive on both ends. Bounds are normalized to
// the Monday of their week. A zero bound is open.
type WeekRange struct {
	From time.Time
	To   time.Time
}

func checkRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRange, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return nil
}

// SnapshotSource provides the current rollup snapshot. *rollup.Publisher satisfies it.
type SnapshotSource interface {
	Current() (*rollup.Snapshot, error)
}

// Service provides the analytics operations
type Service struct {
	log       events.Log
	counters  counters.Store
	snapshots SnapshotSource
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics the service records on
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a new analytics service
func NewService(log events.Log, store counters.Store, snapshots SnapshotSource, opts ...Option) *Service {
	s := &Service{
		log:       log,
		counters:  store,
		snapshots: snapshots,
		logger:    observability.NopLogger(),
		metrics:   observability.NewUnregisteredMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestEvent validates and appends an event, returning its log id
func (s *Service) IngestEvent(ctx context.Context, e *events.Event) (int64, error) {
	if err := e.Validate(); err != nil {
		s.metrics.EventsIngestedTotal.WithLabelValues("invalid").Inc()
		return 0, err
	}

	id, err := s.log.Append(ctx, e)
	if err != nil {
		s.metrics.EventsIngestedTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"player_id":  e.PlayerID,
			"event_name": e.Name,
		}).Error("Failed to append event")
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	s.metrics.EventsIngestedTotal.WithLabelValues("ok").Inc()
	return id, nil
}

// GetPlayerCounters returns a player's counters, or counters.ErrNotFound
func (s *Service) GetPlayerCounters(ctx context.Context, playerID string) (counters.PlayerCounters, error) {
	return s.counters.Get(ctx, playerID)
}

// Result holds rows together with the snapshot they were read from
type Result[T any] struct {
	Version     string
	GeneratedAt time.Time
	Rows        []T
}

func (s *Service) current(ctx context.Context, from, to time.Time) (*rollup.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.snapshots.Current()
}

// QueryDailyRollup is GetDailyRollup that also reports the snapshot the rows came from
func (s *Service) QueryDailyRollup(ctx context.Context, family string, r DateRange) (*Result[rollup.DailyRow], error) {
	snap, err := s.current(ctx, r.From, r.To)
	if err != nil {
		return nil, err
	}
	rows, err := snap.Rows(family, r.From, r.To)
	if err != nil {
		return nil, err
	}
	return &Result[rollup.DailyRow]{
		Version:     snap.Version.String(),
		GeneratedAt: snap.GeneratedAt,
		Rows:        rows,
	}, nil
}

// QueryCohortRetention is GetCohortRetention that also reports the snapshot the rows
// came from
func (s *Service) QueryCohortRetention(ctx context.Context, r WeekRange) (*Result[cohort.Row], error) {
	snap, err := s.current(ctx, r.From, r.To)
	if err != nil {
		return nil, err
	}
	return &Result[cohort.Row]{
		Version:     snap.Version.String(),
		GeneratedAt: snap.GeneratedAt,
		Rows:        snap.Cohorts(r.From, r.To),
	}, nil
}

// GetDailyRollup returns a family's rows in the range from the current snapshot.
// Family "summary" returns the joined summary rows.
func (s *Service) GetDailyRollup(ctx context.Context, family string, r DateRange) ([]rollup.DailyRow, error) {
	res, err := s.QueryDailyRollup(ctx, family, r)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// GetCohortRetention returns the cohorts whose install week falls in the range
func (s *Service) GetCohortRetention(ctx context.Context, r WeekRange) ([]cohort.Row, error) {
	res, err := s.QueryCohortRetention(ctx, r)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// SnapshotVersion returns the version and generation time of the current snapshot
func (s *Service) SnapshotVersion() (string, time.Time, error) {
	snap, err := s.snapshots.Current()
	if err != nil {
		return "", time.Time{}, err
	}
	return snap.Version.String(), snap.GeneratedAt, nil
}
