package rollup

import (
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/playerpulse/pkg/cohort"
	"github.com/platinummonkey/playerpulse/pkg/events"
)

// Window is the [From, To) range of event dates a snapshot was computed over
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TimeRange converts the window to a scan range
func (w Window) TimeRange() events.TimeRange {
	return events.TimeRange{From: w.From, To: w.To}
}

// Snapshot is one published rollup. It is never mutated after publishing.
type Snapshot struct {
	Version     uuid.UUID `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	Window      Window    `json:"window"`
	Tables      Tables    `json:"tables"`
}

// NewSnapshot stamps tables with a fresh version
func NewSnapshot(tables *Tables, window Window, generatedAt time.Time) *Snapshot {
	return &Snapshot{
		Version:     uuid.New(),
		GeneratedAt: generatedAt.UTC(),
		Window:      window,
		Tables:      *tables,
	}
}

// Rows returns the rows of a family between from and to, inclusive
func (s *Snapshot) Rows(family string, from, to time.Time) ([]DailyRow, error) {
	return s.Tables.Rows(family, from, to)
}

// Cohorts returns the cohorts whose install week falls between from and to, inclusive
func (s *Snapshot) Cohorts(from, to time.Time) []cohort.Row {
	return cohort.Between(s.Tables.Cohorts, from, to)
}
