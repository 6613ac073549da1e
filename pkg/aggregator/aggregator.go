package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
)

// Aggregator applies event deltas to a counter store
type Aggregator struct {
	store   counters.Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithLogger sets the logger used for malformed parameter and failure reports
func WithLogger(logger *observability.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics the aggregator records on
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// New creates an aggregator writing to store
func New(store counters.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:   store,
		logger:  observability.NopLogger(),
		metrics: observability.NewUnregisteredMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply applies a single event. Malformed parameters are logged and counted as zero;
// store failures, including ErrContentionExceeded, are returned so the event can be
// redelivered.
func (a *Aggregator) Apply(ctx context.Context, e *events.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return a.applyPlayer(ctx, e.PlayerID, []*events.Event{e})
}

// ApplyBatch applies events in order. Events for the same player are folded into one
// upsert, which yields the same counters as applying them one at a time.
func (a *Aggregator) ApplyBatch(ctx context.Context, batch []*events.Event) error {
	for _, e := range batch {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	var errs []error
	for _, g := range groupByPlayer(batch) {
		if err := a.applyPlayer(ctx, g.playerID, g.events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Aggregator) applyPlayer(ctx context.Context, playerID string, evs []*events.Event) error {
	deltas := make([]counters.DeltaFunc, 0, len(evs))
	for _, e := range evs {
		delta, errs := Plan(e)
		a.reportMalformed(e, errs)
		deltas = append(deltas, delta)
	}

	if _, err := a.store.Upsert(ctx, playerID, compose(deltas)); err != nil {
		a.metrics.EventsAppliedTotal.WithLabelValues("error").Add(float64(len(evs)))
		return fmt.Errorf("failed to apply %d events for player %s: %w", len(evs), playerID, err)
	}

	a.metrics.EventsAppliedTotal.WithLabelValues("ok").Add(float64(len(evs)))
	return nil
}

func (a *Aggregator) reportMalformed(e *events.Event, errs []error) {
	for _, err := range errs {
		var perr *events.MalformedParameterError
		param := "unknown"
		if errors.As(err, &perr) {
			param = perr.Parameter
		}

		a.metrics.MalformedParametersTotal.WithLabelValues("aggregator", param).Inc()
		a.logger.WithFields(map[string]interface{}{
			"event_id":   e.ID,
			"event_name": e.Name,
			"player_id":  e.PlayerID,
			"parameter":  param,
		}).WithError(err).Warn("malformed parameter treated as zero")
	}
}

// compose folds deltas left to right; only the first sees isNew
func compose(deltas []counters.DeltaFunc) counters.DeltaFunc {
	if len(deltas) == 1 {
		return deltas[0]
	}
	return func(cur counters.PlayerCounters, isNew bool) counters.PlayerCounters {
		for i, d := range deltas {
			cur = d(cur, isNew && i == 0)
		}
		return cur
	}
}

type playerEvents struct {
	playerID string
	events   []*events.Event
}

// groupByPlayer partitions events by player, keeping delivery order within each group
func groupByPlayer(batch []*events.Event) []playerEvents {
	index := make(map[string]int)
	var groups []playerEvents
	for _, e := range batch {
		i, ok := index[e.PlayerID]
		if !ok {
			i = len(groups)
			index[e.PlayerID] = i
			groups = append(groups, playerEvents{playerID: e.PlayerID})
		}
		groups[i].events = append(groups[i].events, e)
	}
	return groups
}

// observabilityContext carries the aggregator's logger for components that read it
// from a context
func observabilityContext(a *Aggregator) context.Context {
	return observability.WithLogger(context.Background(), a.logger)
}
