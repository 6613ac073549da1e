package counters

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

var (
	// ErrContentionExceeded is returned when an upsert lost every optimistic race
	// allowed by the retry policy.
	ErrContentionExceeded = errors.New("counter update contention exceeded retry budget")

	// ErrNotFound is returned by Get for a player with no counters.
	ErrNotFound = storage.ErrNotFound

	// errConflict signals a lost compare-and-swap; it never leaves the package.
	errConflict = errors.New("counter version conflict")
)

// PlayerCounters is the cumulative per-player record. Every counter only grows.
type PlayerCounters struct {
	PlayerID     string    `json:"player_id"`
	InstallDate  time.Time `json:"install_date"`
	LastSeenDate time.Time `json:"last_seen_date"`

	TotalSessions        int64 `json:"total_sessions"`
	TotalPlayTimeSeconds int64 `json:"total_play_time_seconds"`

	TotalGamesPlayed int64 `json:"total_games_played"`
	BestScore        int64 `json:"best_score"`
	TotalScore       int64 `json:"total_score"`

	MissionsCompleted    int64 `json:"missions_completed"`
	AchievementsUnlocked int64 `json:"achievements_unlocked"`

	ContinuesUsedTotal int64 `json:"continues_used_total"`
	ContinuesViaAd     int64 `json:"continues_via_ad"`
	ContinuesViaGems   int64 `json:"continues_via_gems"`

	AdsShown     int64 `json:"ads_shown"`
	AdsCompleted int64 `json:"ads_completed"`
	AdsAbandoned int64 `json:"ads_abandoned"`

	CoinsEarnedTotal int64 `json:"coins_earned_total"`
	CoinsSpentTotal  int64 `json:"coins_spent_total"`
	GemsEarnedTotal  int64 `json:"gems_earned_total"`
	GemsSpentTotal   int64 `json:"gems_spent_total"`

	TotalPurchases int64           `json:"total_purchases"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`

	Day1Retained  bool `json:"day1_retained"`
	Day7Retained  bool `json:"day7_retained"`
	Day30Retained bool `json:"day30_retained"`

	TotalErrors int64 `json:"total_errors"`
}

// DeltaFunc computes the next record from the current one. It must be pure: stores
// may call it more than once when an optimistic write loses a race.
type DeltaFunc func(current PlayerCounters, isNew bool) PlayerCounters

// Store persists PlayerCounters keyed by player id.
type Store interface {
	// Upsert applies delta atomically for playerID and returns the stored result.
	// A player without a record starts from zero counters installed today.
	Upsert(ctx context.Context, playerID string, delta DeltaFunc) (PlayerCounters, error)

	// Get returns the counters for playerID, or ErrNotFound.
	Get(ctx context.Context, playerID string) (PlayerCounters, error)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now     func() time.Time
	retry   RetryPolicy
	metrics *observability.Metrics
}

func defaultOptions() options {
	return options{
		now:   time.Now,
		retry: DefaultRetryPolicy(),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewUnregisteredMetrics()
	}
	return o
}

// WithClock sets the clock that dates new players.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithRetryPolicy sets the contention retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithMetrics records upsert results and retries on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newCounters(playerID string, now time.Time) PlayerCounters {
	return PlayerCounters{
		PlayerID:    playerID,
		InstallDate: events.Day(now),
	}
}

func validatePlayerID(playerID string) error {
	if playerID == "" {
		return &events.ValidationError{Field: "player_id", Reason: "is required"}
	}
	return nil
}

// apply runs delta and pins the identity fields the delta is not allowed to change
func apply(delta DeltaFunc, current PlayerCounters, isNew bool) PlayerCounters {
	next := delta(current, isNew)
	next.PlayerID = current.PlayerID
	next.InstallDate = events.Day(next.InstallDate)
	next.LastSeenDate = events.Day(next.LastSeenDate)
	if next.LastSeenDate.IsZero() || next.LastSeenDate.Before(next.InstallDate) {
		next.LastSeenDate = next.InstallDate
	}
	return next
}

// upsert runs attempt under the retry policy and records the outcome
func upsert(ctx context.Context, o options, backend string, attempt func() (PlayerCounters, error)) (PlayerCounters, error) {
	start := time.Now()
	defer o.metrics.ObserveStorage("upsert", backend, start)

	var result PlayerCounters
	err := o.retry.Do(ctx, func() error {
		pc, err := attempt()
		if err != nil {
			return err
		}
		result = pc
		return nil
	}, func(error) {
		o.metrics.CounterUpsertRetriesTotal.WithLabelValues(backend).Inc()
	})

	switch {
	case err == nil:
		o.metrics.CounterUpsertsTotal.WithLabelValues(backend, "ok").Inc()
	case errors.Is(err, ErrContentionExceeded):
		o.metrics.CounterUpsertsTotal.WithLabelValues(backend, "contention").Inc()
	default:
		o.metrics.CounterUpsertsTotal.WithLabelValues(backend, "error").Inc()
	}

	if err != nil {
		return PlayerCounters{}, err
	}
	return result, nil
}
