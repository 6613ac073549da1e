package api

import (
	"time"

	"github.com/platinummonkey/playerpulse/pkg/cohort"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
)

// RollupResponse is the body of GET /api/v1/rollups/{family}
type RollupResponse struct {
	Family      string            `json:"family"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
	Version     string            `json:"version"`
	GeneratedAt time.Time         `json:"generated_at"`
	Rows        []rollup.DailyRow `json:"rows"`
}

// CohortResponse is the body of GET /api/v1/cohorts
type CohortResponse struct {
	From        string       `json:"from,omitempty"`
	To          string       `json:"to,omitempty"`
	Version     string       `json:"version"`
	GeneratedAt time.Time    `json:"generated_at"`
	Cohorts     []cohort.Row `json:"cohorts"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}
