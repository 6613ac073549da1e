package rollup

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/playerpulse/pkg/cohort"
	"github.com/platinummonkey/playerpulse/pkg/events"
)

// Metric families
const (
	FamilyDAU        = "dau"
	FamilyRevenue    = "revenue"
	FamilyEngagement = "engagement"
	FamilyMissions   = "missions"
	FamilyFunnel     = "funnel"
	FamilyCurrency   = "currency"
	FamilySummary    = "summary"
)

// Families lists every family name accepted by Tables.Rows
var Families = []string{
	FamilyDAU, FamilyRevenue, FamilyEngagement, FamilyMissions, FamilyFunnel, FamilyCurrency, FamilySummary,
}

var (
	// ErrUnknownFamily is returned for a family name outside Families.
	ErrUnknownFamily = errors.New("unknown rollup family")

	// ErrNoSnapshot is returned before the first snapshot is published.
	ErrNoSnapshot = errors.New("no rollup snapshot published yet")

	// ErrSchedulerOverlap is returned when a run is skipped because another is active.
	ErrSchedulerOverlap = errors.New("rollup run skipped: previous run still active")
)

// DailyRow is one row of a family for one calendar date
type DailyRow interface {
	Family() string
	Day() time.Time
}

// DAURow counts distinct active players
type DAURow struct {
	Date         time.Time `json:"date"`
	DAU          int64     `json:"dau"`
	SessionUsers int64     `json:"session_users"`
	GamingUsers  int64     `json:"gaming_users"`
	AndroidUsers int64     `json:"android_users"`
	IOSUsers     int64     `json:"ios_users"`
}

// RevenueRow sums in-app purchases
type RevenueRow struct {
	Date        time.Time       `json:"date"`
	Purchases   int64           `json:"purchases"`
	PayingUsers int64           `json:"paying_users"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// EngagementRow describes sessions and play time
type EngagementRow struct {
	Date                 time.Time `json:"date"`
	Sessions             int64     `json:"sessions"`
	SessionUsers         int64     `json:"session_users"`
	TotalPlayTimeSeconds int64     `json:"total_play_time_seconds"`
	AvgSessionSeconds    float64   `json:"avg_session_seconds"`
	HighEngagementUsers  int64     `json:"high_engagement_users"`
	GamesPlayed          int64     `json:"games_played"`
}

// MissionRow counts mission and achievement progress
type MissionRow struct {
	Date                 time.Time `json:"date"`
	MissionsCompleted    int64     `json:"missions_completed"`
	MissionUsers         int64     `json:"mission_users"`
	AchievementsUnlocked int64     `json:"achievements_unlocked"`
	MissionStarts        int64     `json:"mission_starts"`
}

// FunnelRow describes the ad and continue funnel
type FunnelRow struct {
	Date             time.Time `json:"date"`
	AdsShown         int64     `json:"ads_shown"`
	AdsCompleted     int64     `json:"ads_completed"`
	AdsAbandoned     int64     `json:"ads_abandoned"`
	AdCompletionRate float64   `json:"ad_completion_rate"`
	ContinuesUsed    int64     `json:"continues_used"`
	ContinuesViaAd   int64     `json:"continues_via_ad"`
	ContinuesViaGems int64     `json:"continues_via_gems"`
	ContinueUsers    int64     `json:"continue_users"`
}

// CurrencyRow sums soft-currency flows
type CurrencyRow struct {
	Date        time.Time `json:"date"`
	CoinsEarned int64     `json:"coins_earned"`
	CoinsSpent  int64     `json:"coins_spent"`
	GemsEarned  int64     `json:"gems_earned"`
	GemsSpent   int64     `json:"gems_spent"`
}

func (r DAURow) Family() string        { return FamilyDAU }
func (r DAURow) Day() time.Time        { return r.Date }
func (r RevenueRow) Family() string    { return FamilyRevenue }
func (r RevenueRow) Day() time.Time    { return r.Date }
func (r EngagementRow) Family() string { return FamilyEngagement }
func (r EngagementRow) Day() time.Time { return r.Date }
func (r MissionRow) Family() string    { return FamilyMissions }
func (r MissionRow) Day() time.Time    { return r.Date }
func (r FunnelRow) Family() string     { return FamilyFunnel }
func (r FunnelRow) Day() time.Time     { return r.Date }
func (r CurrencyRow) Family() string   { return FamilyCurrency }
func (r CurrencyRow) Day() time.Time   { return r.Date }

// Tables is the full output of one rollup run. Every slice is ordered by date.
type Tables struct {
	DAU        []DAURow        `json:"dau"`
	Revenue    []RevenueRow    `json:"revenue"`
	Engagement []EngagementRow `json:"engagement"`
	Missions   []MissionRow    `json:"missions"`
	Funnel     []FunnelRow     `json:"funnel"`
	Currency   []CurrencyRow   `json:"currency"`
	Summary    []SummaryRow    `json:"summary"`
	Cohorts    []cohort.Row    `json:"cohorts"`
}

// Rows returns the rows of family with dates in [from, to]. Zero bounds are open.
func (t *Tables) Rows(family string, from, to time.Time) ([]DailyRow, error) {
	var all []DailyRow
	switch family {
	case FamilyDAU:
		all = toRows(t.DAU)
	case FamilyRevenue:
		all = toRows(t.Revenue)
	case FamilyEngagement:
		all = toRows(t.Engagement)
	case FamilyMissions:
		all = toRows(t.Missions)
	case FamilyFunnel:
		all = toRows(t.Funnel)
	case FamilyCurrency:
		all = toRows(t.Currency)
	case FamilySummary:
		all = toRows(t.Summary)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	out := make([]DailyRow, 0, len(all))
	for _, r := range all {
		d := r.Day()
		if !from.IsZero() && d.Before(events.Day(from)) {
			continue
		}
		if !to.IsZero() && d.After(events.Day(to)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func toRows[T DailyRow](rows []T) []DailyRow {
	out := make([]DailyRow, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// Options tunes the family reducers
type Options struct {
	// HighEngagementThreshold is the session length that makes a player highly engaged.
	HighEngagementThreshold time.Duration
}

// DefaultOptions returns the default reducer options
func DefaultOptions() Options {
	return Options{HighEngagementThreshold: 300 * time.Second}
}

// Stats describes the scan behind a Tables
type Stats struct {
	EventsScanned int64
	// Malformed counts parameters treated as zero, by parameter name.
	Malformed map[string]int64
}

type playerSet map[string]struct{}

func (s playerSet) add(id string) { s[id] = struct{}{} }

// dayAccumulator holds the running reductions for one date
type dayAccumulator struct {
	active, sessionUsers, gamingUsers, android, ios playerSet
	payingUsers, missionUsers, continueUsers        playerSet
	highEngagement                                  playerSet

	purchases int64
	revenue   decimal.Decimal

	sessions, sessionEnds, playTime, gamesPlayed int64

	missionsCompleted, missionStarts, achievements int64

	adsShown, adsCompleted, adsAbandoned       int64
	continues, continuesViaAd, continuesViaGem int64

	coinsEarned, coinsSpent, gemsEarned, gemsSpent int64
}

func newDayAccumulator() *dayAccumulator {
	return &dayAccumulator{
		active:         playerSet{},
		sessionUsers:   playerSet{},
		gamingUsers:    playerSet{},
		android:        playerSet{},
		ios:            playerSet{},
		payingUsers:    playerSet{},
		missionUsers:   playerSet{},
		continueUsers:  playerSet{},
		highEngagement: playerSet{},
	}
}

// reducer folds events into per-day accumulators
type reducer struct {
	opts  Options
	days  map[time.Time]*dayAccumulator
	stats Stats
}

func (r *reducer) malformed(param string) {
	r.stats.Malformed[param]++
}

func (r *reducer) add(e *events.Event) {
	r.stats.EventsScanned++

	day := e.Day()
	acc, ok := r.days[day]
	if !ok {
		acc = newDayAccumulator()
		r.days[day] = acc
	}

	acc.active.add(e.PlayerID)
	switch e.Platform {
	case events.PlatformAndroid:
		acc.android.add(e.PlayerID)
	case events.PlatformIOS:
		acc.ios.add(e.PlayerID)
	}

	switch e.Name {
	case events.SessionStart:
		acc.sessions++
		acc.sessionUsers.add(e.PlayerID)

	case events.SessionEnd:
		secs, err := e.Count(events.ParamSessionDuration)
		if err != nil {
			r.malformed(events.ParamSessionDuration)
		}
		acc.sessionEnds++
		acc.playTime = events.AddCount(acc.playTime, secs)
		if float64(secs) >= r.opts.HighEngagementThreshold.Seconds() {
			acc.highEngagement.add(e.PlayerID)
		}

	case events.GameStart:
		acc.gamesPlayed++
		acc.gamingUsers.add(e.PlayerID)

	case events.MissionStart:
		acc.missionStarts++
	case events.MissionComplete:
		acc.missionsCompleted++
		acc.missionUsers.add(e.PlayerID)
	case events.AchievementUnlock:
		acc.achievements++

	case events.AdShown:
		acc.adsShown++
	case events.AdCompleted:
		acc.adsCompleted++
	case events.AdAbandoned:
		acc.adsAbandoned++

	case events.ContinueUsed:
		acc.continues++
		acc.continueUsers.add(e.PlayerID)
		switch e.Text(events.ParamContinueType) {
		case "ad":
			acc.continuesViaAd++
		case "gems":
			acc.continuesViaGem++
		}

	case events.CurrencyEarned, events.CurrencySpent:
		r.addCurrency(acc, e)

	case events.IAPPurchase:
		acc.purchases++
		acc.payingUsers.add(e.PlayerID)
		price, err := e.Decimal(events.ParamPriceUSD)
		if err != nil || price.IsNegative() {
			r.malformed(events.ParamPriceUSD)
			price = decimal.Zero
		}
		acc.revenue = acc.revenue.Add(price)
	}
}

func (r *reducer) addCurrency(acc *dayAccumulator, e *events.Event) {
	var target *int64
	earned := e.Name == events.CurrencyEarned
	switch e.Text(events.ParamCurrencyType) {
	case "coins":
		target = &acc.coinsSpent
		if earned {
			target = &acc.coinsEarned
		}
	case "gems":
		target = &acc.gemsSpent
		if earned {
			target = &acc.gemsEarned
		}
	default:
		return
	}

	amount, err := e.Count(events.ParamAmount)
	if err != nil {
		r.malformed(events.ParamAmount)
		return
	}
	*target = events.AddCount(*target, amount)
}

// Compute reduces a scan into the six metric families in a single pass. Malformed
// parameters contribute zero and are reported in Stats. The Summary and Cohorts
// fields of the result are left empty.
func Compute(ctx context.Context, seq iter.Seq2[*events.Event, error], opts Options) (*Tables, Stats, error) {
	r := &reducer{
		opts:  opts,
		days:  make(map[time.Time]*dayAccumulator),
		stats: Stats{Malformed: map[string]int64{}},
	}

	for e, err := range seq {
		if err != nil {
			return nil, r.stats, err
		}
		if err := ctx.Err(); err != nil {
			return nil, r.stats, err
		}
		r.add(e)
	}

	dates := make([]time.Time, 0, len(r.days))
	for d := range r.days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	t := &Tables{
		DAU:        make([]DAURow, 0, len(dates)),
		Revenue:    make([]RevenueRow, 0, len(dates)),
		Engagement: make([]EngagementRow, 0, len(dates)),
		Missions:   make([]MissionRow, 0, len(dates)),
		Funnel:     make([]FunnelRow, 0, len(dates)),
		Currency:   make([]CurrencyRow, 0, len(dates)),
	}
	for _, d := range dates {
		acc := r.days[d]
		t.DAU = append(t.DAU, DAURow{
			Date:         d,
			DAU:          int64(len(acc.active)),
			SessionUsers: int64(len(acc.sessionUsers)),
			GamingUsers:  int64(len(acc.gamingUsers)),
			AndroidUsers: int64(len(acc.android)),
			IOSUsers:     int64(len(acc.ios)),
		})
		t.Revenue = append(t.Revenue, RevenueRow{
			Date:        d,
			Purchases:   acc.purchases,
			PayingUsers: int64(len(acc.payingUsers)),
			Revenue:     acc.revenue.Round(2),
		})
		t.Engagement = append(t.Engagement, EngagementRow{
			Date:                 d,
			Sessions:             acc.sessions,
			SessionUsers:         int64(len(acc.sessionUsers)),
			TotalPlayTimeSeconds: acc.playTime,
			AvgSessionSeconds:    ratio(acc.playTime, acc.sessionEnds),
			HighEngagementUsers:  int64(len(acc.highEngagement)),
			GamesPlayed:          acc.gamesPlayed,
		})
		t.Missions = append(t.Missions, MissionRow{
			Date:                 d,
			MissionsCompleted:    acc.missionsCompleted,
			MissionUsers:         int64(len(acc.missionUsers)),
			AchievementsUnlocked: acc.achievements,
			MissionStarts:        acc.missionStarts,
		})
		t.Funnel = append(t.Funnel, FunnelRow{
			Date:             d,
			AdsShown:         acc.adsShown,
			AdsCompleted:     acc.adsCompleted,
			AdsAbandoned:     acc.adsAbandoned,
			AdCompletionRate: cohort.Rate(acc.adsCompleted, acc.adsShown),
			ContinuesUsed:    acc.continues,
			ContinuesViaAd:   acc.continuesViaAd,
			ContinuesViaGems: acc.continuesViaGem,
			ContinueUsers:    int64(len(acc.continueUsers)),
		})
		t.Currency = append(t.Currency, CurrencyRow{
			Date:        d,
			CoinsEarned: acc.coinsEarned,
			CoinsSpent:  acc.coinsSpent,
			GemsEarned:  acc.gemsEarned,
			GemsSpent:   acc.gemsSpent,
		})
	}

	return t, r.stats, nil
}

// ratio returns num/den rounded to 2 decimals, or 0 when den is 0
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 2).InexactFloat64()
}
