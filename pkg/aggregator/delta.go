package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/events"
)

// step mutates a counter record for one event. Steps are built by Plan after all
// parameters are parsed and never fail.
type step func(pc *counters.PlayerCounters)

// planner parses an event's parameters and returns its step
type planner func(e *events.Event) (step, []error)

var planners = map[string]planner{
	events.SessionStart: constant(func(pc *counters.PlayerCounters) { pc.TotalSessions++ }),
	events.GameStart:    constant(func(pc *counters.PlayerCounters) { pc.TotalGamesPlayed++ }),
	events.SessionEnd:   planSessionEnd,
	events.GameEnd:      planGameEnd,

	events.MissionComplete:   constant(func(pc *counters.PlayerCounters) { pc.MissionsCompleted++ }),
	events.AchievementUnlock: constant(func(pc *counters.PlayerCounters) { pc.AchievementsUnlocked++ }),
	events.ContinueUsed:      planContinue,

	events.AdShown:     constant(func(pc *counters.PlayerCounters) { pc.AdsShown++ }),
	events.AdCompleted: constant(func(pc *counters.PlayerCounters) { pc.AdsCompleted++ }),
	events.AdAbandoned: constant(func(pc *counters.PlayerCounters) { pc.AdsAbandoned++ }),

	events.CurrencyEarned: planCurrency(true),
	events.CurrencySpent:  planCurrency(false),
	events.IAPPurchase:    planPurchase,

	events.ErrorOccurred: constant(func(pc *counters.PlayerCounters) { pc.TotalErrors++ }),
}

func constant(s step) planner {
	return func(*events.Event) (step, []error) {
		return s, nil
	}
}

// Plan builds the counter delta for e. The returned errors are malformed parameters
// that were treated as zero; the delta is always usable.
func Plan(e *events.Event) (counters.DeltaFunc, []error) {
	var (
		s    step
		errs []error
	)
	if p, ok := planners[e.Name]; ok {
		s, errs = p(e)
	}
	day := e.Day()

	return func(cur counters.PlayerCounters, isNew bool) counters.PlayerCounters {
		if isNew {
			cur.InstallDate = day
		}
		if day.After(cur.LastSeenDate) {
			cur.LastSeenDate = day
		}
		markRetention(&cur, day)
		if s != nil {
			s(&cur)
		}
		return cur
	}, errs
}

// markRetention sets the dayN flag when the event lands exactly N days after install
func markRetention(pc *counters.PlayerCounters, day time.Time) {
	if pc.InstallDate.IsZero() {
		return
	}
	switch int(day.Sub(pc.InstallDate).Hours() / 24) {
	case 1:
		pc.Day1Retained = true
	case 7:
		pc.Day7Retained = true
	case 30:
		pc.Day30Retained = true
	}
}

func planSessionEnd(e *events.Event) (step, []error) {
	n, err := e.Count(events.ParamSessionDuration)
	if err != nil {
		return nil, []error{err}
	}
	return func(pc *counters.PlayerCounters) {
		pc.TotalPlayTimeSeconds = events.AddCount(pc.TotalPlayTimeSeconds, n)
	}, nil
}

func planGameEnd(e *events.Event) (step, []error) {
	n, err := e.Count(events.ParamScore)
	if err != nil {
		return nil, []error{err}
	}
	return func(pc *counters.PlayerCounters) {
		pc.TotalScore = events.AddCount(pc.TotalScore, n)
		if n > pc.BestScore {
			pc.BestScore = n
		}
	}, nil
}

func planContinue(e *events.Event) (step, []error) {
	switch e.Text(events.ParamContinueType) {
	case "ad":
		return func(pc *counters.PlayerCounters) {
			pc.ContinuesUsedTotal++
			pc.ContinuesViaAd++
		}, nil
	case "gems":
		return func(pc *counters.PlayerCounters) {
			pc.ContinuesUsedTotal++
			pc.ContinuesViaGems++
		}, nil
	default:
		return func(pc *counters.PlayerCounters) { pc.ContinuesUsedTotal++ }, nil
	}
}

func planCurrency(earned bool) planner {
	return func(e *events.Event) (step, []error) {
		var field func(pc *counters.PlayerCounters) *int64
		switch e.Text(events.ParamCurrencyType) {
		case "coins":
			field = func(pc *counters.PlayerCounters) *int64 {
				if earned {
					return &pc.CoinsEarnedTotal
				}
				return &pc.CoinsSpentTotal
			}
		case "gems":
			field = func(pc *counters.PlayerCounters) *int64 {
				if earned {
					return &pc.GemsEarnedTotal
				}
				return &pc.GemsSpentTotal
			}
		default:
			return nil, nil
		}

		n, err := e.Count(events.ParamAmount)
		if err != nil {
			return nil, []error{err}
		}
		return func(pc *counters.PlayerCounters) {
			total := field(pc)
			*total = events.AddCount(*total, n)
		}, nil
	}
}

func planPurchase(e *events.Event) (step, []error) {
	price, err := e.Decimal(events.ParamPriceUSD)
	if err == nil && price.IsNegative() {
		err = &events.MalformedParameterError{EventID: e.ID, EventName: e.Name, Parameter: events.ParamPriceUSD, Value: price.String()}
	}

	var errs []error
	if err != nil {
		price = decimal.Zero
		errs = []error{err}
	}
	return func(pc *counters.PlayerCounters) {
		pc.TotalPurchases++
		pc.TotalRevenue = pc.TotalRevenue.Add(price)
	}, errs
}
