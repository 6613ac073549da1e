package rollup

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/playerpulse/pkg/cohort"
)

// SummaryRow joins every family on date and adds derived ratios. A ratio whose
// denominator is zero is reported as zero.
type SummaryRow struct {
	Date                  time.Time       `json:"date"`
	DAU                   int64           `json:"dau"`
	Sessions              int64           `json:"sessions"`
	AvgSessionSeconds     float64         `json:"avg_session_seconds"`
	GamesPlayed           int64           `json:"games_played"`
	Purchases             int64           `json:"purchases"`
	PayingUsers           int64           `json:"paying_users"`
	Revenue               decimal.Decimal `json:"revenue"`
	ARPU                  decimal.Decimal `json:"arpu"`
	ARPPU                 decimal.Decimal `json:"arppu"`
	MissionsCompleted     int64           `json:"missions_completed"`
	MissionCompletionRate float64         `json:"mission_completion_rate"`
	AdsShown              int64           `json:"ads_shown"`
	AdCompletionRate      float64         `json:"ad_completion_rate"`
	ContinuesUsed         int64           `json:"continues_used"`
	AvgContinuesPerUser   float64         `json:"avg_continues_per_user"`
	CoinsEarned           int64           `json:"coins_earned"`
	CoinsSpent            int64           `json:"coins_spent"`
}

func (r SummaryRow) Family() string { return FamilySummary }
func (r SummaryRow) Day() time.Time { return r.Date }

// BuildSummary outer-joins the families of t by date. A date missing from a family
// contributes zeros for that family's columns.
func BuildSummary(t *Tables) []SummaryRow {
	byDate := map[time.Time]*SummaryRow{}
	row := func(d time.Time) *SummaryRow {
		r, ok := byDate[d]
		if !ok {
			r = &SummaryRow{Date: d, Revenue: decimal.Zero}
			byDate[d] = r
		}
		return r
	}

	for _, r := range t.DAU {
		row(r.Date).DAU = r.DAU
	}
	for _, r := range t.Engagement {
		s := row(r.Date)
		s.Sessions = r.Sessions
		s.AvgSessionSeconds = r.AvgSessionSeconds
		s.GamesPlayed = r.GamesPlayed
	}
	for _, r := range t.Revenue {
		s := row(r.Date)
		s.Purchases = r.Purchases
		s.PayingUsers = r.PayingUsers
		s.Revenue = r.Revenue
	}

	missionStarts := map[time.Time]int64{}
	for _, r := range t.Missions {
		row(r.Date).MissionsCompleted = r.MissionsCompleted
		missionStarts[r.Date] = r.MissionStarts
	}
	for _, r := range t.Funnel {
		s := row(r.Date)
		s.AdsShown = r.AdsShown
		s.AdCompletionRate = r.AdCompletionRate
		s.ContinuesUsed = r.ContinuesUsed
	}
	for _, r := range t.Currency {
		s := row(r.Date)
		s.CoinsEarned = r.CoinsEarned
		s.CoinsSpent = r.CoinsSpent
	}

	out := make([]SummaryRow, 0, len(byDate))
	for d, s := range byDate {
		s.ARPU = divMoney(s.Revenue, s.DAU)
		s.ARPPU = divMoney(s.Revenue, s.PayingUsers)
		s.AvgContinuesPerUser = ratio(s.ContinuesUsed, s.DAU)
		s.MissionCompletionRate = cohort.Rate(s.MissionsCompleted, missionStarts[d])
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func divMoney(amount decimal.Decimal, n int64) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return amount.DivRound(decimal.NewFromInt(n), 2)
}
