package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/playerpulse/pkg/aggregator"
	"github.com/platinummonkey/playerpulse/pkg/config"
	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

func open(t *testing.T, cfg *config.Config) (*backends, *observability.HealthChecker) {
	t.Helper()
	checker := observability.NewHealthChecker("test")
	b, err := openBackends(context.Background(), cfg, observability.NopLogger(), observability.NewUnregisteredMetrics(), checker)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, checker
}

func TestOpenBackends_Memory(t *testing.T) {
	b, checker := open(t, config.Default())

	assert.IsType(t, &events.MemoryLog{}, b.log)
	assert.IsType(t, &counters.MemoryStore{}, b.counters)
	assert.IsType(t, &aggregator.MemoryCheckpoint{}, b.checkpoint)
	assert.Nil(t, b.sink)
	assert.Nil(t, b.archiver)
	assert.Empty(t, checker.Check(context.Background()).Dependencies)
}

func TestOpenBackends_SQLiteWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Storage.Type = storage.BackendSQLite
	cfg.Storage.SQLitePath = ":memory:"
	cfg.Storage.RedisURL = "redis://" + mr.Addr()

	b, checker := open(t, cfg)

	assert.IsType(t, &events.SQLLog{}, b.log)
	assert.IsType(t, &counters.RedisStore{}, b.counters)
	assert.IsType(t, &aggregator.SQLCheckpoint{}, b.checkpoint)
	require.NotNil(t, b.sink)

	status := checker.Check(context.Background())
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Contains(t, status.Dependencies, "database")
	assert.Contains(t, status.Dependencies, "redis")

	// migrations ran: the sink answers with no snapshot rather than a missing table
	_, err := b.sink.Latest(context.Background())
	assert.ErrorIs(t, err, rollup.ErrNoSnapshot)

	id, err := b.log.Append(context.Background(), &events.Event{
		PlayerID:  "p1",
		Name:      events.SessionStart,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestOpenBackends_BadRedis(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.RedisURL = "not a url"

	_, err := openBackends(context.Background(), cfg, observability.NopLogger(),
		observability.NewUnregisteredMetrics(), observability.NewHealthChecker(""))
	assert.Error(t, err)
}

func TestOpsHandler(t *testing.T) {
	checker := observability.NewHealthChecker("test")
	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry)

	h := opsHandler(checker, registry)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	opsHandler(checker, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
