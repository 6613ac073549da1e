package aggregator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/playerpulse/pkg/storage"
)

// Checkpoint stores the consumer watermark: the highest event id whose batch was
// fully applied.
type Checkpoint interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, lastEventID int64) error
}

// MemoryCheckpoint keeps the watermark in process. Pair it with a MemoryStore, whose
// counters are lost on restart too.
type MemoryCheckpoint struct {
	id atomic.Int64
}

// Load returns the saved watermark
func (c *MemoryCheckpoint) Load(context.Context) (int64, error) {
	return c.id.Load(), nil
}

// Save records the watermark
func (c *MemoryCheckpoint) Save(_ context.Context, lastEventID int64) error {
	c.id.Store(lastEventID)
	return nil
}

// SQLCheckpoint keeps named watermarks in a "consumer_checkpoints" table
type SQLCheckpoint struct {
	db      *sql.DB
	dialect storage.Dialect
	breaker *storage.Breaker
	name    string

	loadSQL string
	saveSQL string
}

// NewSQLCheckpoint creates a checkpoint row called name. Call Migrate before first use.
func NewSQLCheckpoint(db *sql.DB, dialect storage.Dialect, breaker *storage.Breaker, name string) *SQLCheckpoint {
	if breaker == nil {
		breaker = storage.NewBreaker("checkpoint", 0, 0)
	}
	return &SQLCheckpoint{
		db:      db,
		dialect: dialect,
		breaker: breaker,
		name:    name,
		loadSQL: dialect.Rebind(`SELECT last_event_id FROM consumer_checkpoints WHERE name = ?`),
		saveSQL: dialect.Rebind(`
			INSERT INTO consumer_checkpoints (name, last_event_id, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				last_event_id = excluded.last_event_id,
				updated_at = excluded.updated_at`),
	}
}

// Migrate creates the consumer_checkpoints table if it does not exist
func (c *SQLCheckpoint) Migrate(ctx context.Context) error {
	timestamp := "TIMESTAMP"
	if c.dialect == storage.DialectPostgres {
		timestamp = "TIMESTAMPTZ"
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS consumer_checkpoints (
		name TEXT PRIMARY KEY,
		last_event_id BIGINT NOT NULL,
		updated_at %s NOT NULL
	)`, timestamp)

	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to migrate consumer_checkpoints table: %w", err)
	}
	return nil
}

// Load returns the saved watermark, or 0 when none was saved
func (c *SQLCheckpoint) Load(ctx context.Context) (int64, error) {
	var id int64
	err := c.breaker.Do("load checkpoint", func() error {
		err := c.db.QueryRowContext(ctx, c.loadSQL, c.name).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = 0
			return nil
		case err != nil && ctx.Err() == nil:
			return storage.Unavailable("load checkpoint", err)
		}
		return err
	})
	return id, err
}

// Save records the watermark
func (c *SQLCheckpoint) Save(ctx context.Context, lastEventID int64) error {
	return c.breaker.Do("save checkpoint", func() error {
		_, err := c.db.ExecContext(ctx, c.saveSQL, c.name, lastEventID, time.Now().UTC())
		if err != nil && ctx.Err() == nil {
			return storage.Unavailable("save checkpoint", err)
		}
		return err
	})
}
