package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/playerpulse/pkg/aggregator"
	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
)

// 2024-05-06 is a Monday
var day0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

type pipeline struct {
	svc       *Service
	log       *events.MemoryLog
	store     *counters.MemoryStore
	consumer  *aggregator.Consumer
	scheduler *rollup.Scheduler
	metrics   *observability.Metrics
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	log := events.NewMemoryLog()
	store := counters.NewMemoryStore()
	publisher := rollup.NewPublisher()
	metrics := observability.NewUnregisteredMetrics()

	cfg := aggregator.DefaultConsumerConfig()
	cfg.Workers = 2
	consumer := aggregator.NewConsumer(log, aggregator.New(store), nil, cfg)
	t.Cleanup(func() { consumer.Close() })

	now := func() time.Time { return day0.AddDate(0, 0, 10) }
	scheduler := rollup.NewScheduler(log, publisher, rollup.DefaultSchedulerConfig(), rollup.WithClock(now))

	return &pipeline{
		svc:       NewService(log, store, publisher, WithMetrics(metrics)),
		log:       log,
		store:     store,
		consumer:  consumer,
		scheduler: scheduler,
		metrics:   metrics,
	}
}

func (p *pipeline) ingest(t *testing.T, player, name string, at time.Time, params map[string]any) {
	t.Helper()
	_, err := p.svc.IngestEvent(context.Background(), &events.Event{
		PlayerID:   player,
		Name:       name,
		CreatedAt:  at,
		Parameters: params,
	})
	require.NoError(t, err)
}

func TestService_IngestAndCounters(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	p.ingest(t, "p1", events.SessionStart, day0.Add(time.Hour), nil)
	p.ingest(t, "p1", events.CurrencyEarned, day0.Add(2*time.Hour), map[string]any{"currency_type": "coins", "amount": 40})
	p.ingest(t, "p1", events.IAPPurchase, day0.Add(3*time.Hour), map[string]any{"price_usd": "1.99"})

	_, err := p.svc.GetPlayerCounters(ctx, "p1")
	assert.ErrorIs(t, err, counters.ErrNotFound, "counters are applied by the consumer, not at ingest")

	n, err := p.consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pc, err := p.svc.GetPlayerCounters(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pc.TotalSessions)
	assert.Equal(t, int64(40), pc.CoinsEarnedTotal)
	assert.Equal(t, "1.99", pc.TotalRevenue.StringFixed(2))

	assert.Equal(t, 3.0, testutil.ToFloat64(p.metrics.EventsIngestedTotal.WithLabelValues("ok")))
}

func TestService_IngestRejectsInvalidEvents(t *testing.T) {
	p := newPipeline(t)

	_, err := p.svc.IngestEvent(context.Background(), &events.Event{Name: events.SessionStart})
	assert.ErrorIs(t, err, events.ErrValidation)

	_, err = p.svc.IngestEvent(context.Background(), nil)
	assert.ErrorIs(t, err, events.ErrValidation)

	assert.Equal(t, 0, p.log.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.EventsIngestedTotal.WithLabelValues("invalid")))
}

func TestService_IngestAppendFailure(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.svc.IngestEvent(ctx, &events.Event{PlayerID: "p1", Name: events.SessionStart})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.EventsIngestedTotal.WithLabelValues("error")))
}

func TestService_DailyRollup(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	_, err := p.svc.GetDailyRollup(ctx, rollup.FamilyDAU, DateRange{})
	assert.ErrorIs(t, err, rollup.ErrNoSnapshot)

	p.ingest(t, "a", events.SessionStart, day0.Add(time.Hour), nil)
	p.ingest(t, "a", events.GameStart, day0.Add(time.Hour), nil)
	p.ingest(t, "b", events.SessionStart, day0.Add(2*time.Hour), nil)
	p.ingest(t, "b", events.IAPPurchase, day0.AddDate(0, 0, 1), map[string]any{"price_usd": "abc"})

	_, err = p.scheduler.RunOnce(ctx)
	require.NoError(t, err)

	rows, err := p.svc.GetDailyRollup(ctx, rollup.FamilyDAU, DateRange{From: day0, To: day0})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	dau := rows[0].(rollup.DAURow)
	assert.Equal(t, int64(2), dau.DAU)
	assert.Equal(t, int64(1), dau.GamingUsers)

	rows, err = p.svc.GetDailyRollup(ctx, rollup.FamilySummary, DateRange{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	summary := rows[1].(rollup.SummaryRow)
	assert.Equal(t, int64(1), summary.Purchases)
	assert.True(t, summary.Revenue.IsZero())
	assert.True(t, summary.ARPU.IsZero())

	_, err = p.svc.GetDailyRollup(ctx, "retention", DateRange{})
	assert.ErrorIs(t, err, rollup.ErrUnknownFamily)

	_, err = p.svc.GetDailyRollup(ctx, rollup.FamilyDAU, DateRange{From: day0.AddDate(0, 0, 1), To: day0})
	assert.ErrorIs(t, err, ErrInvalidRange)

	version, generated, err := p.svc.SnapshotVersion()
	require.NoError(t, err)
	assert.NotEmpty(t, version)
	assert.Equal(t, day0.AddDate(0, 0, 10), generated)
}

func TestService_CohortRetention(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	for i := 0; i < 5; i++ {
		player := fmt.Sprintf("w1-%d", i)
		p.ingest(t, player, events.SessionStart, day0.Add(time.Hour), nil)
		if i < 2 {
			p.ingest(t, player, events.SessionStart, day0.AddDate(0, 0, 1).Add(time.Hour), nil)
		}
	}
	for i := 0; i < 4; i++ {
		p.ingest(t, fmt.Sprintf("w2-%d", i), events.SessionStart, day0.AddDate(0, 0, 7), nil)
	}

	_, err := p.scheduler.RunOnce(ctx)
	require.NoError(t, err)

	rows, err := p.svc.GetCohortRetention(ctx, WeekRange{})
	require.NoError(t, err)
	require.Len(t, rows, 1, "the four-player cohort is suppressed")
	assert.Equal(t, day0, rows[0].InstallWeek)
	assert.Equal(t, int64(5), rows[0].CohortSize)
	assert.Equal(t, int64(2), rows[0].Day1Retained)
	assert.Equal(t, 40.0, rows[0].Day1Rate)

	rows, err = p.svc.GetCohortRetention(ctx, WeekRange{From: day0.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestService_CancelledReads(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.svc.GetDailyRollup(ctx, rollup.FamilyDAU, DateRange{})
	assert.True(t, errors.Is(err, context.Canceled))
	_, err = p.svc.GetCohortRetention(ctx, WeekRange{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestService_QueryReportsSnapshot(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.ingest(t, "a", events.SessionStart, day0.Add(time.Hour), nil)

	first, err := p.scheduler.RunOnce(ctx)
	require.NoError(t, err)

	res, err := p.svc.QueryDailyRollup(ctx, rollup.FamilyDAU, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, first.Version.String(), res.Version)
	assert.Equal(t, first.GeneratedAt, res.GeneratedAt)
	assert.Len(t, res.Rows, 1)

	second, err := p.scheduler.RunOnce(ctx)
	require.NoError(t, err)

	cohorts, err := p.svc.QueryCohortRetention(ctx, WeekRange{})
	require.NoError(t, err)
	assert.Equal(t, second.Version.String(), cohorts.Version)
	assert.NotEqual(t, first.Version.String(), cohorts.Version)
}
