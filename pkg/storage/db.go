package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Dialect identifies the SQL flavor a *sql.DB speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Rebind converts "?" placeholders into the dialect's native form.
// Queries in this module are written with "?" and rebound once at construction.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// AutoIncrement returns the column definition for a monotonic integer primary key.
func (d Dialect) AutoIncrement() string {
	if d == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Open opens and verifies a database for a SQL backend.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	switch cfg.Type {
	case BackendPostgres:
		db, err := sql.Open(string(DialectPostgres), cfg.PostgresURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open postgres: %w", err)
		}

		db.SetMaxOpenConns(cfg.PostgresMaxConns)
		db.SetMaxIdleConns(cfg.PostgresMinConns)
		db.SetConnMaxLifetime(1 * time.Hour)
		db.SetConnMaxIdleTime(10 * time.Minute)

		timeout := cfg.PostgresTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, "", Unavailable("ping postgres", err)
		}
		return db, DialectPostgres, nil

	case BackendSQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, "", err
		}
		return db, DialectSQLite, nil

	default:
		return nil, "", fmt.Errorf("backend %q is not a SQL backend", cfg.Type)
	}
}

// OpenSQLite opens a SQLite database. SQLite allows a single writer, so the pool is
// capped at one connection; this also keeps ":memory:" databases shared.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open(string(DialectSQLite), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, Unavailable("ping sqlite", err)
	}
	return db, nil
}
