package counters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/playerpulse/pkg/storage"
)

// SQLStore keeps counters in a "player_counters" table. Each row carries a version
// that every update compares and bumps, so concurrent writers never overwrite each
// other; the loser re-reads and retries.
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
	breaker *storage.Breaker
	opts    options

	selectSQL string
	insertSQL string
	updateSQL string
}

// NewSQLStore creates a SQL-backed store. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect storage.Dialect, breaker *storage.Breaker, opts ...Option) *SQLStore {
	if breaker == nil {
		breaker = storage.NewBreaker("counters", 0, 0)
	}

	return &SQLStore{
		db:      db,
		dialect: dialect,
		breaker: breaker,
		opts:    buildOptions(opts),
		selectSQL: dialect.Rebind(`
			SELECT version, payload FROM player_counters WHERE player_id = ?`),
		insertSQL: dialect.Rebind(`
			INSERT INTO player_counters (player_id, version, payload, updated_at)
			VALUES (?, 1, ?, ?)
			ON CONFLICT (player_id) DO NOTHING`),
		updateSQL: dialect.Rebind(`
			UPDATE player_counters
			SET version = version + 1, payload = ?, updated_at = ?
			WHERE player_id = ? AND version = ?`),
	}
}

// Migrate creates the player_counters table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	timestamp := "TIMESTAMP"
	if s.dialect == storage.DialectPostgres {
		timestamp = "TIMESTAMPTZ"
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS player_counters (
		player_id TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		payload TEXT NOT NULL,
		updated_at %s NOT NULL
	)`, timestamp)

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to migrate player_counters table: %w", err)
	}
	return nil
}

// Upsert applies delta with an optimistic compare-and-swap on the row version
func (s *SQLStore) Upsert(ctx context.Context, playerID string, delta DeltaFunc) (PlayerCounters, error) {
	if err := validatePlayerID(playerID); err != nil {
		return PlayerCounters{}, err
	}

	return upsert(ctx, s.opts, string(s.dialect), func() (PlayerCounters, error) {
		current, version, err := s.load(ctx, playerID)
		isNew := errors.Is(err, ErrNotFound)
		if err != nil && !isNew {
			return PlayerCounters{}, err
		}
		if isNew {
			current = newCounters(playerID, s.opts.now())
		}

		next := apply(delta, current, isNew)
		payload, err := json.Marshal(next)
		if err != nil {
			return PlayerCounters{}, fmt.Errorf("failed to marshal counters for %s: %w", playerID, err)
		}

		if isNew {
			err = s.write(ctx, "insert counters", s.insertSQL, playerID, string(payload), time.Now().UTC())
		} else {
			err = s.write(ctx, "update counters", s.updateSQL, string(payload), time.Now().UTC(), playerID, version)
		}
		if err != nil {
			return PlayerCounters{}, err
		}
		return next, nil
	})
}

// write executes a conditional statement and reports errConflict when it matched no row
func (s *SQLStore) write(ctx context.Context, op, query string, args ...any) error {
	return s.breaker.Do(op, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return storage.Unavailable(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storage.Unavailable(op, err)
		}
		if n == 0 {
			return errConflict
		}
		return nil
	})
}

// Get returns the counters for playerID
func (s *SQLStore) Get(ctx context.Context, playerID string) (PlayerCounters, error) {
	pc, _, err := s.load(ctx, playerID)
	return pc, err
}

func (s *SQLStore) load(ctx context.Context, playerID string) (PlayerCounters, int64, error) {
	var (
		version int64
		payload string
	)
	err := s.breaker.Do("get counters", func() error {
		err := s.db.QueryRowContext(ctx, s.selectSQL, playerID).Scan(&version, &payload)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return storage.Unavailable("get counters", err)
		}
		return nil
	})
	if err != nil {
		return PlayerCounters{}, 0, err
	}

	var pc PlayerCounters
	if err := json.Unmarshal([]byte(payload), &pc); err != nil {
		return PlayerCounters{}, 0, fmt.Errorf("failed to unmarshal counters for %s: %w", playerID, err)
	}
	return pc, version, nil
}
