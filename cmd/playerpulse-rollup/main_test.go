package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/playerpulse/pkg/config"
	"github.com/platinummonkey/playerpulse/pkg/events"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

func TestRun_RejectsMemoryBackend(t *testing.T) {
	err := run(config.Default(), observability.NopLogger())
	assert.ErrorContains(t, err, "SQL backend")
}

func TestRun_BackfillWritesSnapshot(t *testing.T) {
	path := t.TempDir() + "/playerpulse.db"
	cfg := config.Default()
	cfg.Storage.Type = storage.BackendSQLite
	cfg.Storage.SQLitePath = path

	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, cfg.Storage)
	require.NoError(t, err)
	breaker := storage.NewBreaker("seed", 5, time.Second)
	log := events.NewSQLLog(db, dialect, breaker)
	require.NoError(t, log.Migrate(ctx))
	_, err = log.Append(ctx, &events.Event{
		PlayerID:  "p1",
		Name:      events.SessionStart,
		CreatedAt: time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	*runOnce, *asOf = true, "2024-05-06"
	t.Cleanup(func() { *runOnce, *asOf = false, "" })

	require.NoError(t, run(cfg, observability.NopLogger()))

	db, dialect, err = storage.Open(ctx, cfg.Storage)
	require.NoError(t, err)
	defer db.Close()
	snap, err := rollup.NewSQLSink(db, dialect, breaker).Latest(ctx)
	require.NoError(t, err)

	rows, err := snap.Rows(rollup.FamilyDAU, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].(rollup.DAURow).DAU)
}
