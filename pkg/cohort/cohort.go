package cohort

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/playerpulse/pkg/events"
)

// DefaultMinSize is the smallest cohort that produces a row
const DefaultMinSize = 5

// retentionDays are the day offsets tracked per cohort
var retentionDays = [3]int{1, 7, 30}

// Row is one install-week cohort
type Row struct {
	InstallWeek   time.Time `json:"install_week"`
	CohortSize    int64     `json:"cohort_size"`
	Day1Retained  int64     `json:"day1_retained"`
	Day7Retained  int64     `json:"day7_retained"`
	Day30Retained int64     `json:"day30_retained"`
	Day1Rate      float64   `json:"day1_retention_rate"`
	Day7Rate      float64   `json:"day7_retention_rate"`
	Day30Rate     float64   `json:"day30_retention_rate"`
}

// WeekStart returns the Monday (UTC) of the ISO week containing t
func WeekStart(t time.Time) time.Time {
	d := events.Day(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// player tracks the distinct active days of one player, as days since the epoch
type player struct {
	install int64
	active  map[int64]struct{}
}

// Calculator accumulates events and produces cohort rows
type Calculator struct {
	minSize int
	players map[string]*player
}

// NewCalculator creates a calculator. minSize <= 0 uses DefaultMinSize.
func NewCalculator(minSize int) *Calculator {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Calculator{
		minSize: minSize,
		players: make(map[string]*player),
	}
}

func dayNumber(t time.Time) int64 {
	return events.Day(t).Unix() / 86400
}

// Add records one event. Order does not matter.
func (c *Calculator) Add(e *events.Event) {
	day := dayNumber(e.CreatedAt)

	p, ok := c.players[e.PlayerID]
	if !ok {
		p = &player{install: day, active: make(map[int64]struct{})}
		c.players[e.PlayerID] = p
	}
	if day < p.install {
		p.install = day
	}
	p.active[day] = struct{}{}
}

// Rows returns the cohorts ordered by install week, without those below the minimum size
func (c *Calculator) Rows() []Row {
	byWeek := make(map[int64]*Row)

	for _, p := range c.players {
		install := time.Unix(p.install*86400, 0).UTC()
		week := WeekStart(install)

		row, ok := byWeek[week.Unix()]
		if !ok {
			row = &Row{InstallWeek: week}
			byWeek[week.Unix()] = row
		}
		row.CohortSize++

		for _, n := range retentionDays {
			if _, ok := p.active[p.install+int64(n)]; !ok {
				continue
			}
			switch n {
			case 1:
				row.Day1Retained++
			case 7:
				row.Day7Retained++
			case 30:
				row.Day30Retained++
			}
		}
	}

	rows := make([]Row, 0, len(byWeek))
	for _, row := range byWeek {
		if row.CohortSize < int64(c.minSize) {
			continue
		}
		row.Day1Rate = Rate(row.Day1Retained, row.CohortSize)
		row.Day7Rate = Rate(row.Day7Retained, row.CohortSize)
		row.Day30Rate = Rate(row.Day30Retained, row.CohortSize)
		rows = append(rows, *row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].InstallWeek.Before(rows[j].InstallWeek)
	})
	return rows
}

// Compute scans events into cohort rows. It stops with ctx's error if cancelled.
func Compute(ctx context.Context, seq iter.Seq2[*events.Event, error], minSize int) ([]Row, error) {
	c := NewCalculator(minSize)
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.Add(e)
	}
	return c.Rows(), nil
}

// Rate returns part/whole as a percentage rounded to 2 decimals, or 0 when whole is 0
func Rate(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part * 100).DivRound(decimal.NewFromInt(whole), 2).InexactFloat64()
}

// Between returns the rows whose install week falls in the weeks of [from, to].
// A zero bound is open.
func Between(rows []Row, from, to time.Time) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if !from.IsZero() && r.InstallWeek.Before(WeekStart(from)) {
			continue
		}
		if !to.IsZero() && r.InstallWeek.After(WeekStart(to)) {
			continue
		}
		out = append(out, r)
	}
	return out
}
