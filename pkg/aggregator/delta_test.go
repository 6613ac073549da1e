package aggregator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
)

var (
	day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day1 = day0.AddDate(0, 0, 1)
)

func event(name string, at time.Time, params map[string]any) *events.Event {
	return &events.Event{ID: 1, PlayerID: "p1", Name: name, Parameters: params, CreatedAt: at}
}

func existing() counters.PlayerCounters {
	return counters.PlayerCounters{PlayerID: "p1", InstallDate: day0, LastSeenDate: day0}
}

func TestPlan_DeltaTable(t *testing.T) {
	tests := []struct {
		name   string
		event  *events.Event
		expect func(pc *counters.PlayerCounters)
	}{
		{"session_start", event(events.SessionStart, day0, nil), func(pc *counters.PlayerCounters) { pc.TotalSessions = 1 }},
		{"game_start", event(events.GameStart, day0, nil), func(pc *counters.PlayerCounters) { pc.TotalGamesPlayed = 1 }},
		{"session_end", event(events.SessionEnd, day0, map[string]any{"session_duration_seconds": 125}),
			func(pc *counters.PlayerCounters) { pc.TotalPlayTimeSeconds = 125 }},
		{"session_end string duration", event(events.SessionEnd, day0, map[string]any{"session_duration_seconds": "60"}),
			func(pc *counters.PlayerCounters) { pc.TotalPlayTimeSeconds = 60 }},
		{"game_end", event(events.GameEnd, day0, map[string]any{"score": 900}),
			func(pc *counters.PlayerCounters) { pc.TotalScore = 900; pc.BestScore = 900 }},
		{"mission_complete", event(events.MissionComplete, day0, nil), func(pc *counters.PlayerCounters) { pc.MissionsCompleted = 1 }},
		{"achievement_unlock", event(events.AchievementUnlock, day0, nil), func(pc *counters.PlayerCounters) { pc.AchievementsUnlocked = 1 }},
		{"continue via ad", event(events.ContinueUsed, day0, map[string]any{"continue_type": "ad"}),
			func(pc *counters.PlayerCounters) { pc.ContinuesUsedTotal = 1; pc.ContinuesViaAd = 1 }},
		{"continue via gems", event(events.ContinueUsed, day0, map[string]any{"continue_type": "gems"}),
			func(pc *counters.PlayerCounters) { pc.ContinuesUsedTotal = 1; pc.ContinuesViaGems = 1 }},
		{"continue other", event(events.ContinueUsed, day0, nil), func(pc *counters.PlayerCounters) { pc.ContinuesUsedTotal = 1 }},
		{"ad_shown", event(events.AdShown, day0, nil), func(pc *counters.PlayerCounters) { pc.AdsShown = 1 }},
		{"ad_completed", event(events.AdCompleted, day0, nil), func(pc *counters.PlayerCounters) { pc.AdsCompleted = 1 }},
		{"ad_abandoned", event(events.AdAbandoned, day0, nil), func(pc *counters.PlayerCounters) { pc.AdsAbandoned = 1 }},
		{"coins earned", event(events.CurrencyEarned, day0, map[string]any{"currency_type": "coins", "amount": 50}),
			func(pc *counters.PlayerCounters) { pc.CoinsEarnedTotal = 50 }},
		{"gems earned", event(events.CurrencyEarned, day0, map[string]any{"currency_type": "gems", "amount": 5}),
			func(pc *counters.PlayerCounters) { pc.GemsEarnedTotal = 5 }},
		{"coins spent", event(events.CurrencySpent, day0, map[string]any{"currency_type": "coins", "amount": 20}),
			func(pc *counters.PlayerCounters) { pc.CoinsSpentTotal = 20 }},
		{"gems spent", event(events.CurrencySpent, day0, map[string]any{"currency_type": "gems", "amount": 3}),
			func(pc *counters.PlayerCounters) { pc.GemsSpentTotal = 3 }},
		{"unknown currency is a no-op", event(events.CurrencyEarned, day0, map[string]any{"currency_type": "stars", "amount": 3}),
			func(pc *counters.PlayerCounters) {}},
		{"error_occurred", event(events.ErrorOccurred, day0, nil), func(pc *counters.PlayerCounters) { pc.TotalErrors = 1 }},
		{"unknown event", event("tutorial_step", day0, nil), func(pc *counters.PlayerCounters) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, errs := Plan(tt.event)
			assert.Empty(t, errs)

			want := existing()
			tt.expect(&want)
			assert.Equal(t, want, delta(existing(), false))
		})
	}
}

func TestPlan_Purchase(t *testing.T) {
	delta, errs := Plan(event(events.IAPPurchase, day0, map[string]any{"price_usd": "4.99"}))
	require.Empty(t, errs)

	pc := delta(existing(), false)
	pc = delta(pc, false)
	assert.Equal(t, int64(2), pc.TotalPurchases)
	assert.True(t, pc.TotalRevenue.Equal(decimal.RequireFromString("9.98")))
}

func TestPlan_MalformedParameters(t *testing.T) {
	tests := []struct {
		name  string
		event *events.Event
		check func(t *testing.T, pc counters.PlayerCounters)
	}{
		{"non-numeric price still counts the purchase",
			event(events.IAPPurchase, day0, map[string]any{"price_usd": "abc"}),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.Equal(t, int64(1), pc.TotalPurchases)
				assert.True(t, pc.TotalRevenue.IsZero())
			}},
		{"missing price",
			event(events.IAPPurchase, day0, nil),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.Equal(t, int64(1), pc.TotalPurchases)
				assert.True(t, pc.TotalRevenue.IsZero())
			}},
		{"negative price",
			event(events.IAPPurchase, day0, map[string]any{"price_usd": "-1"}),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.True(t, pc.TotalRevenue.IsZero())
			}},
		{"missing duration",
			event(events.SessionEnd, day0, nil),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.Equal(t, int64(0), pc.TotalPlayTimeSeconds)
			}},
		{"negative amount",
			event(events.CurrencyEarned, day0, map[string]any{"currency_type": "coins", "amount": -5}),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.Equal(t, int64(0), pc.CoinsEarnedTotal)
			}},
		{"amount beyond int64",
			event(events.CurrencyEarned, day0, map[string]any{"currency_type": "coins", "amount": "1e19"}),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.Equal(t, int64(0), pc.CoinsEarnedTotal)
			}},
		{"duration beyond int64",
			event(events.SessionEnd, day0, map[string]any{"session_duration_seconds": 1e300}),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.Equal(t, int64(0), pc.TotalPlayTimeSeconds)
			}},
		{"score beyond int64",
			event(events.GameEnd, day0, map[string]any{"score": 1e19}),
			func(t *testing.T, pc counters.PlayerCounters) {
				assert.Equal(t, int64(0), pc.TotalScore)
				assert.Equal(t, int64(0), pc.BestScore)
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, errs := Plan(tt.event)
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], events.ErrMalformedParameter)
			tt.check(t, delta(existing(), false))
		})
	}
}

func TestPlan_TotalsSaturate(t *testing.T) {
	pc := existing()
	pc.CoinsEarnedTotal = math.MaxInt64 - 10
	pc.TotalPlayTimeSeconds = math.MaxInt64 - 1

	delta, errs := Plan(event(events.CurrencyEarned, day0, map[string]any{"currency_type": "coins", "amount": 1 << 62}))
	require.Empty(t, errs)
	pc = delta(pc, false)
	assert.Equal(t, int64(math.MaxInt64), pc.CoinsEarnedTotal)

	delta, errs = Plan(event(events.SessionEnd, day0, map[string]any{"session_duration_seconds": 60}))
	require.Empty(t, errs)
	pc = delta(pc, false)
	assert.Equal(t, int64(math.MaxInt64), pc.TotalPlayTimeSeconds)
}

func TestPlan_Lifecycle(t *testing.T) {
	t.Run("new player installs on the event date", func(t *testing.T) {
		delta, _ := Plan(event(events.SessionStart, day1.Add(13*time.Hour), nil))
		pc := delta(counters.PlayerCounters{PlayerID: "p1", InstallDate: day0.AddDate(0, 0, 40)}, true)
		assert.Equal(t, day1, pc.InstallDate)
		assert.Equal(t, day1, pc.LastSeenDate)
	})

	t.Run("install date is never overwritten", func(t *testing.T) {
		delta, _ := Plan(event(events.SessionStart, day0.AddDate(0, 0, 3), nil))
		pc := delta(existing(), false)
		assert.Equal(t, day0, pc.InstallDate)
		assert.Equal(t, day0.AddDate(0, 0, 3), pc.LastSeenDate)
	})

	t.Run("late event does not move last seen backwards", func(t *testing.T) {
		cur := existing()
		cur.LastSeenDate = day0.AddDate(0, 0, 5)
		delta, _ := Plan(event("tutorial_step", day1, nil))
		assert.Equal(t, day0.AddDate(0, 0, 5), delta(cur, false).LastSeenDate)
	})

	t.Run("retention flags", func(t *testing.T) {
		cur := existing()
		for _, offset := range []int{1, 2, 7, 30} {
			delta, _ := Plan(event("tutorial_step", day0.AddDate(0, 0, offset), nil))
			cur = delta(cur, false)
		}
		assert.True(t, cur.Day1Retained)
		assert.True(t, cur.Day7Retained)
		assert.True(t, cur.Day30Retained)

		delta, _ := Plan(event("tutorial_step", day0.AddDate(0, 0, 8), nil))
		fresh := delta(existing(), false)
		assert.False(t, fresh.Day1Retained || fresh.Day7Retained || fresh.Day30Retained)
	})

	t.Run("best score keeps the maximum", func(t *testing.T) {
		cur := existing()
		for _, score := range []int{300, 900, 100} {
			delta, _ := Plan(event(events.GameEnd, day0, map[string]any{"score": score}))
			cur = delta(cur, false)
		}
		assert.Equal(t, int64(900), cur.BestScore)
		assert.Equal(t, int64(1300), cur.TotalScore)
	})
}

func TestPlan_DeltaIsPure(t *testing.T) {
	delta, _ := Plan(event(events.CurrencyEarned, day0, map[string]any{"currency_type": "coins", "amount": 10}))
	cur := existing()

	first := delta(cur, false)
	second := delta(cur, false)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(0), cur.CoinsEarnedTotal)
}
