package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/playerpulse/pkg/storage"
)

var tracer = otel.Tracer("github.com/platinummonkey/playerpulse/pkg/events")

const eventColumns = `id, player_id, event_name, event_category, event_priority, parameters,
	session_id, platform, app_version, created_at`

// SQLLog stores events in an "events" table on PostgreSQL or SQLite
type SQLLog struct {
	db      *sql.DB
	dialect storage.Dialect
	breaker *storage.Breaker
	opts    options

	insertSQL string
	sinceSQL  string
	purgeSQL  string
}

// NewSQLLog creates a SQL-backed log. Call Migrate before first use.
func NewSQLLog(db *sql.DB, dialect storage.Dialect, breaker *storage.Breaker, opts ...Option) *SQLLog {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if breaker == nil {
		breaker = storage.NewBreaker("events", 0, 0)
	}

	return &SQLLog{
		db:      db,
		dialect: dialect,
		breaker: breaker,
		opts:    o,
		insertSQL: dialect.Rebind(`
			INSERT INTO events (
				player_id, event_name, event_category, event_priority, parameters,
				session_id, platform, app_version, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
		sinceSQL: dialect.Rebind(`SELECT ` + eventColumns + `
			FROM events WHERE id > ? ORDER BY id LIMIT ?`),
		purgeSQL: dialect.Rebind(`DELETE FROM events WHERE created_at < ?`),
	}
}

// Migrate creates the events table and its indexes if they do not exist
func (l *SQLLog) Migrate(ctx context.Context) error {
	timestamp := "TIMESTAMP"
	if l.dialect == storage.DialectPostgres {
		timestamp = "TIMESTAMPTZ"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS events (
			id %s,
			player_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			event_category TEXT NOT NULL DEFAULT '',
			event_priority INTEGER NOT NULL DEFAULT 0,
			parameters TEXT NOT NULL DEFAULT '{}',
			session_id TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			app_version TEXT NOT NULL DEFAULT '',
			created_at %s NOT NULL
		)`, l.dialect.AutoIncrement(), timestamp),
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_player ON events (player_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate events table: %w", err)
		}
	}
	return nil
}

// Append validates and inserts an event, returning its id
func (l *SQLLog) Append(ctx context.Context, event *Event) (int64, error) {
	if err := event.Validate(); err != nil {
		return 0, err
	}

	params := event.Parameters
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return 0, &ValidationError{Field: "parameters", Reason: "are not JSON encodable: " + err.Error()}
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = l.opts.now()
	}

	var id int64
	err = l.breaker.Do("append event", func() error {
		err := l.db.QueryRowContext(ctx, l.insertSQL,
			event.PlayerID, event.Name, event.Category, event.Priority, string(payload),
			event.SessionID, event.Platform, event.AppVersion, createdAt.UTC(),
		).Scan(&id)
		if err != nil && ctx.Err() == nil {
			return storage.Unavailable("append event", err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Scan yields events in the window ordered by created_at, then id. Rows are streamed,
// so the iterator holds a connection until it finishes or the caller stops.
func (l *SQLLog) Scan(ctx context.Context, window TimeRange, filter Filter) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if err := window.Validate(); err != nil {
			yield(nil, err)
			return
		}

		ctx, span := tracer.Start(ctx, "EventLog.Scan",
			trace.WithAttributes(
				attribute.String("scan.from", window.From.UTC().Format(time.RFC3339)),
				attribute.String("scan.to", window.To.UTC().Format(time.RFC3339)),
			),
		)
		defer span.End()

		query, args := l.scanQuery(window, filter)

		var rows *sql.Rows
		err := l.breaker.Do("scan events", func() error {
			var err error
			rows, err = l.db.QueryContext(ctx, query, args...)
			if err != nil && ctx.Err() == nil {
				return storage.Unavailable("scan events", err)
			}
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "query failed")
			yield(nil, err)
			return
		}
		defer rows.Close()

		var n int64
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				span.RecordError(err)
				yield(nil, err)
				return
			}
			n++
			if !yield(e, nil) {
				return
			}
		}
		span.SetAttributes(attribute.Int64("scan.events", n))

		if err := rows.Err(); err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			span.RecordError(err)
			yield(nil, storage.Unavailable("scan events", err))
		}
	}
}

func (l *SQLLog) scanQuery(window TimeRange, filter Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + eventColumns + ` FROM events WHERE created_at >= ? AND created_at < ?`)
	args := []any{window.From.UTC(), window.To.UTC()}

	if filter.PlayerID != "" {
		b.WriteString(` AND player_id = ?`)
		args = append(args, filter.PlayerID)
	}
	if len(filter.Names) > 0 {
		b.WriteString(` AND event_name IN (` + placeholders(len(filter.Names)) + `)`)
		for _, n := range filter.Names {
			args = append(args, n)
		}
	}
	if len(filter.Categories) > 0 {
		b.WriteString(` AND event_category IN (` + placeholders(len(filter.Categories)) + `)`)
		for _, c := range filter.Categories {
			args = append(args, c)
		}
	}
	b.WriteString(` ORDER BY created_at, id`)

	return l.dialect.Rebind(b.String()), args
}

// Since returns up to limit events with id > afterID
func (l *SQLLog) Since(ctx context.Context, afterID int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 1000
	}

	var out []*Event
	err := l.breaker.Do("tail events", func() error {
		rows, err := l.db.QueryContext(ctx, l.sinceSQL, afterID, limit)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return storage.Unavailable("tail events", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		if err := rows.Err(); err != nil {
			return storage.Unavailable("tail events", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Purge deletes events created before the cutoff
func (l *SQLLog) Purge(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := l.breaker.Do("purge events", func() error {
		res, err := l.db.ExecContext(ctx, l.purgeSQL, before.UTC())
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return storage.Unavailable("purge events", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// purgeChunk bounds the placeholders in one DELETE ... IN statement
const purgeChunk = 500

// PurgeIDs deletes the given events in chunks
func (l *SQLLog) PurgeIDs(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	err := l.breaker.Do("purge events", func() error {
		for chunk := range slices.Chunk(ids, purgeChunk) {
			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			query := l.dialect.Rebind(`DELETE FROM events WHERE id IN (` +
				strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + `)`)

			res, err := l.db.ExecContext(ctx, query, args...)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				return storage.Unavailable("purge events", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e       Event
		payload string
	)
	if err := row.Scan(
		&e.ID, &e.PlayerID, &e.Name, &e.Category, &e.Priority, &payload,
		&e.SessionID, &e.Platform, &e.AppVersion, &e.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if payload != "" {
		dec := json.NewDecoder(strings.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&e.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters for event %d: %w", e.ID, err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()

	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
