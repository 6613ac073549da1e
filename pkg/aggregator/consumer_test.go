package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

func testConsumerConfig() ConsumerConfig {
	cfg := DefaultConsumerConfig()
	cfg.Workers = 4
	cfg.BatchSize = 50
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

func appendAll(t *testing.T, log events.Log, evs []*events.Event) {
	t.Helper()
	for _, e := range evs {
		_, err := log.Append(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestConsumer_AppliesAndAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	log := events.NewMemoryLog()
	store := counters.NewMemoryStore()
	checkpoint := &MemoryCheckpoint{}

	appendAll(t, log, playerSession("p1"))
	appendAll(t, log, playerSession("p2"))

	consumer := NewConsumer(log, New(store), checkpoint, testConsumerConfig())
	defer consumer.Close()

	n, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 38, n)
	assert.Equal(t, int64(38), consumer.Watermark())

	saved, err := checkpoint.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(38), saved)

	n, err = consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	p1, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	p2, err := store.Get(ctx, "p2")
	require.NoError(t, err)
	p2.PlayerID = "p1"
	assert.Equal(t, p1, p2)
}

func TestConsumer_HoldsWatermarkOnFailureWithoutDoubleCounting(t *testing.T) {
	ctx := context.Background()
	log := events.NewMemoryLog()
	store := &flakyStore{Store: counters.NewMemoryStore(), failFor: map[string]int{"p2": 1}}

	appendAll(t, log, []*events.Event{
		{PlayerID: "p1", Name: events.SessionStart, CreatedAt: day0},
		{PlayerID: "p2", Name: events.SessionStart, CreatedAt: day0},
		{PlayerID: "p1", Name: events.SessionStart, CreatedAt: day0},
	})

	consumer := NewConsumer(log, New(store), nil, testConsumerConfig())
	defer consumer.Close()

	n, err := consumer.Poll(ctx)
	assert.ErrorIs(t, err, counters.ErrContentionExceeded)
	assert.Equal(t, 2, n, "p1's events were applied")
	assert.Equal(t, int64(0), consumer.Watermark())

	_, err = store.Get(ctx, "p2")
	assert.ErrorIs(t, err, counters.ErrNotFound)

	// Redelivery applies only what is missing
	n, err = consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(3), consumer.Watermark())

	p1, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p1.TotalSessions)

	p2, err := store.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p2.TotalSessions)
}

func TestConsumer_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	log := events.NewMemoryLog()
	store := counters.NewMemoryStore()

	appendAll(t, log, []*events.Event{
		{PlayerID: "p1", Name: events.SessionStart, CreatedAt: day0},
		{PlayerID: "p1", Name: events.SessionStart, CreatedAt: day0},
		{PlayerID: "p1", Name: events.SessionStart, CreatedAt: day0},
	})

	checkpoint := &MemoryCheckpoint{}
	require.NoError(t, checkpoint.Save(ctx, 2))

	consumer := NewConsumer(log, New(store), checkpoint, testConsumerConfig())
	defer consumer.Close()

	n, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pc, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pc.TotalSessions)
}

// commitLog exposes events as their inserts commit, which need not follow id order
type commitLog struct {
	events.Log

	mu      sync.Mutex
	visible map[int64]*events.Event
}

func (l *commitLog) commit(ids ...int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.visible == nil {
		l.visible = map[int64]*events.Event{}
	}
	for _, id := range ids {
		l.visible[id] = &events.Event{ID: id, PlayerID: "p1", Name: events.SessionStart, CreatedAt: day0}
	}
}

func (l *commitLog) Since(_ context.Context, afterID int64, limit int) ([]*events.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*events.Event
	for id, e := range l.visible {
		if id > afterID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestConsumer_WaitsForLateCommits(t *testing.T) {
	ctx := context.Background()
	log := &commitLog{}
	store := counters.NewMemoryStore()

	consumer := NewConsumer(log, New(store), nil, testConsumerConfig())
	defer consumer.Close()

	// id 2 is still committing when id 3 becomes visible
	log.commit(1, 3)
	n, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(1), consumer.Watermark())

	log.commit(2)
	n, err = consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "id 3 is not applied twice")
	assert.Equal(t, int64(3), consumer.Watermark())

	pc, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pc.TotalSessions)
}

func TestConsumer_SkipsGapAfterTimeout(t *testing.T) {
	ctx := context.Background()
	log := &commitLog{}
	metrics := observability.NewUnregisteredMetrics()

	now := day0
	cfg := testConsumerConfig()
	cfg.GapTimeout = time.Minute
	consumer := NewConsumer(log, New(counters.NewMemoryStore(), WithMetrics(metrics)), nil, cfg,
		WithConsumerClock(func() time.Time { return now }))
	defer consumer.Close()

	// ids 2 and 3 were rolled back and never appear
	log.commit(1, 4, 5)
	_, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), consumer.Watermark())

	now = now.Add(cfg.GapTimeout - time.Second)
	n, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), consumer.Watermark())

	now = now.Add(time.Second)
	_, err = consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), consumer.Watermark())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ConsumerSkippedIDsTotal))
}

func TestConsumer_StorageUnavailableFailsClosed(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	log := events.NewSQLLog(db, storage.DialectPostgres, nil)
	mock.ExpectQuery("SELECT .* FROM events WHERE id >").
		WillReturnError(errors.New("connection refused"))

	consumer := NewConsumer(log, New(counters.NewMemoryStore()), nil, testConsumerConfig())
	defer consumer.Close()

	_, err = consumer.Poll(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
	assert.Equal(t, int64(0), consumer.Watermark())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumer_RunConcurrentEarns(t *testing.T) {
	log := events.NewMemoryLog()
	store := counters.NewMemoryStore()

	const players = 10
	const perPlayer = 40

	var wg sync.WaitGroup
	for p := 0; p < players; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPlayer; i++ {
				_, err := log.Append(context.Background(), &events.Event{
					PlayerID:   fmt.Sprintf("p%d", p),
					Name:       events.CurrencyEarned,
					Parameters: map[string]any{"currency_type": "coins", "amount": 1},
					CreatedAt:  day0,
				})
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()

	consumer := NewConsumer(log, New(store), nil, testConsumerConfig())
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return consumer.Watermark() == players*perPlayer
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for p := 0; p < players; p++ {
		pc, err := store.Get(context.Background(), fmt.Sprintf("p%d", p))
		require.NoError(t, err)
		assert.Equal(t, int64(perPlayer), pc.CoinsEarnedTotal)
	}
}

func TestSQLCheckpoint_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	cp := NewSQLCheckpoint(db, storage.DialectSQLite, nil, "counters")
	require.NoError(t, cp.Migrate(ctx))

	id, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	require.NoError(t, cp.Save(ctx, 41))
	require.NoError(t, cp.Save(ctx, 42))

	id, err = cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	other := NewSQLCheckpoint(db, storage.DialectSQLite, nil, "other")
	id, err = other.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
}
