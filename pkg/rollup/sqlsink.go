package rollup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/playerpulse/pkg/cohort"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

// SQLSink persists snapshots in rollup_daily, rollup_cohort and rollup_runs. Each
// write replaces the rows of its window in a single transaction.
type SQLSink struct {
	db      *sql.DB
	dialect storage.Dialect
	breaker *storage.Breaker

	deleteDailySQL  string
	deleteCohortSQL string
	deleteRunsSQL   string
	insertDailySQL  string
	insertCohortSQL string
	insertRunSQL    string
	latestRunSQL    string
	loadDailySQL    string
	loadCohortSQL   string
}

// NewSQLSink creates a sink. A nil breaker gets a default one.
func NewSQLSink(db *sql.DB, dialect storage.Dialect, breaker *storage.Breaker) *SQLSink {
	if breaker == nil {
		breaker = storage.NewBreaker("rollup-sink", 0, 0)
	}
	return &SQLSink{
		db:              db,
		dialect:         dialect,
		breaker:         breaker,
		deleteDailySQL:  dialect.Rebind(`DELETE FROM rollup_daily WHERE date >= ? AND date < ?`),
		deleteCohortSQL: `DELETE FROM rollup_cohort`,
		deleteRunsSQL:   `DELETE FROM rollup_runs`,
		insertDailySQL:  dialect.Rebind(`INSERT INTO rollup_daily (family, date, version, payload) VALUES (?, ?, ?, ?)`),
		insertCohortSQL: dialect.Rebind(`INSERT INTO rollup_cohort (install_week, version, payload) VALUES (?, ?, ?)`),
		insertRunSQL: dialect.Rebind(`
			INSERT INTO rollup_runs (version, generated_at, window_from, window_to)
			VALUES (?, ?, ?, ?)`),
		latestRunSQL: `
			SELECT version, generated_at, window_from, window_to
			FROM rollup_runs
			ORDER BY generated_at DESC
			LIMIT 1`,
		loadDailySQL:  dialect.Rebind(`SELECT family, payload FROM rollup_daily WHERE version = ? ORDER BY family, date`),
		loadCohortSQL: dialect.Rebind(`SELECT payload FROM rollup_cohort WHERE version = ? ORDER BY install_week`),
	}
}

// Migrate creates the rollup tables if they do not exist
func (s *SQLSink) Migrate(ctx context.Context) error {
	timestamp := "TIMESTAMP"
	if s.dialect == storage.DialectPostgres {
		timestamp = "TIMESTAMPTZ"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rollup_daily (
			family TEXT NOT NULL,
			date TEXT NOT NULL,
			version TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (family, date)
		)`,
		`CREATE TABLE IF NOT EXISTS rollup_cohort (
			install_week TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rollup_runs (
			version TEXT PRIMARY KEY,
			generated_at %s NOT NULL,
			window_from TEXT NOT NULL,
			window_to TEXT NOT NULL
		)`, timestamp),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate rollup tables: %w", err)
		}
	}
	return nil
}

// Write replaces the stored rollup with snap
func (s *SQLSink) Write(ctx context.Context, snap *Snapshot) error {
	return s.breaker.Do("write rollup", func() error {
		err := s.write(ctx, snap)
		if err != nil && ctx.Err() == nil && !isEncodeError(err) {
			return storage.Unavailable("write rollup", err)
		}
		return err
	})
}

type encodeError struct{ err error }

func (e *encodeError) Error() string { return "failed to encode rollup row: " + e.err.Error() }
func (e *encodeError) Unwrap() error { return e.err }

func isEncodeError(err error) bool {
	var e *encodeError
	return errors.As(err, &e)
}

func (s *SQLSink) write(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	version := snap.Version.String()
	from, to := snap.Window.From.Format(time.DateOnly), snap.Window.To.Format(time.DateOnly)

	if _, err := tx.ExecContext(ctx, s.deleteDailySQL, from, to); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.deleteCohortSQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.deleteRunsSQL); err != nil {
		return err
	}

	for _, family := range Families {
		rows, err := snap.Tables.Rows(family, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		for _, r := range rows {
			payload, err := json.Marshal(r)
			if err != nil {
				return &encodeError{err}
			}
			if _, err := tx.ExecContext(ctx, s.insertDailySQL,
				family, r.Day().Format(time.DateOnly), version, string(payload)); err != nil {
				return err
			}
		}
	}

	for _, r := range snap.Tables.Cohorts {
		payload, err := json.Marshal(r)
		if err != nil {
			return &encodeError{err}
		}
		if _, err := tx.ExecContext(ctx, s.insertCohortSQL,
			r.InstallWeek.Format(time.DateOnly), version, string(payload)); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, s.insertRunSQL, version, snap.GeneratedAt, from, to); err != nil {
		return err
	}
	return tx.Commit()
}

// Latest loads the most recently written snapshot. It returns ErrNoSnapshot when
// nothing has been written yet.
func (s *SQLSink) Latest(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := s.breaker.Do("load rollup", func() error {
		var err error
		snap, err = s.latest(ctx)
		switch {
		case err == nil, errors.Is(err, ErrNoSnapshot), ctx.Err() != nil:
			return err
		case errors.Is(err, ErrUnknownFamily),
			errors.As(err, new(*json.SyntaxError)),
			errors.As(err, new(*json.UnmarshalTypeError)):
			return fmt.Errorf("corrupt rollup payload: %w", err)
		}
		return storage.Unavailable("load rollup", err)
	})
	return snap, err
}

func (s *SQLSink) latest(ctx context.Context) (*Snapshot, error) {
	var (
		version     string
		generatedAt time.Time
		from, to    string
	)
	err := s.db.QueryRowContext(ctx, s.latestRunSQL).Scan(&version, &generatedAt, &from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{GeneratedAt: generatedAt.UTC()}
	if snap.Version, err = uuid.Parse(version); err != nil {
		return nil, fmt.Errorf("invalid rollup version %q: %w", version, err)
	}
	if snap.Window.From, err = time.Parse(time.DateOnly, from); err != nil {
		return nil, err
	}
	if snap.Window.To, err = time.Parse(time.DateOnly, to); err != nil {
		return nil, err
	}

	t := &snap.Tables
	t.DAU, t.Revenue, t.Engagement = []DAURow{}, []RevenueRow{}, []EngagementRow{}
	t.Missions, t.Funnel, t.Currency = []MissionRow{}, []FunnelRow{}, []CurrencyRow{}
	t.Summary, t.Cohorts = []SummaryRow{}, []cohort.Row{}

	rows, err := s.db.QueryContext(ctx, s.loadDailySQL, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var family, payload string
		if err := rows.Scan(&family, &payload); err != nil {
			return nil, err
		}
		if err := t.decode(family, []byte(payload)); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cohorts, err := s.db.QueryContext(ctx, s.loadCohortSQL, version)
	if err != nil {
		return nil, err
	}
	defer cohorts.Close()

	for cohorts.Next() {
		var payload string
		if err := cohorts.Scan(&payload); err != nil {
			return nil, err
		}
		if err := decodeInto(&t.Cohorts, []byte(payload)); err != nil {
			return nil, err
		}
	}
	return snap, cohorts.Err()
}

// decode appends a stored row to the slice for its family
func (t *Tables) decode(family string, payload []byte) error {
	switch family {
	case FamilyDAU:
		return decodeInto(&t.DAU, payload)
	case FamilyRevenue:
		return decodeInto(&t.Revenue, payload)
	case FamilyEngagement:
		return decodeInto(&t.Engagement, payload)
	case FamilyMissions:
		return decodeInto(&t.Missions, payload)
	case FamilyFunnel:
		return decodeInto(&t.Funnel, payload)
	case FamilyCurrency:
		return decodeInto(&t.Currency, payload)
	case FamilySummary:
		return decodeInto(&t.Summary, payload)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFamily, family)
}

func decodeInto[T any](dst *[]T, payload []byte) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	*dst = append(*dst, v)
	return nil
}
