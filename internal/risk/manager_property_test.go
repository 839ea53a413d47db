package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"mt5-trader/internal/models"
)

// Property: for any balance, entry, and stop, a successful sizing lands
// inside [MinLot, MaxLot] and on a whole multiple of the lot step.
func TestProperty_PositionSizeWithinBoundsAndOnStep(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	balanceGen := gen.Float64Range(100, 10_000_000)
	entryGen := gen.Float64Range(0.5, 2.0)
	stopDistanceGen := gen.Float64Range(0.0001, 0.1)

	properties.Property("size within bounds and on a lot step", prop.ForAll(
		func(balance, entry, stopDistance float64) bool {
			m := NewManager(&fakeAccounts{balance: balance}, nil, Config{MaxRiskPerTradePct: 2.0}, zerolog.Nop())

			result := m.CalculatePositionSize(context.Background(), "EURUSD", entry, entry-stopDistance, SizeOptions{})
			if result.Err != "" {
				return false
			}
			if result.PositionSize < result.MinLot || result.PositionSize > result.MaxLot {
				return false
			}
			steps := result.PositionSize / result.LotStep
			return math.Abs(steps-math.Round(steps)) < 1e-6
		},
		balanceGen, entryGen, stopDistanceGen,
	))

	properties.TestingRun(t)
}

// Property: sizing never grows when the risk percentage shrinks, all
// else equal.
func TestProperty_PositionSizeMonotonicInRiskPercentage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	balanceGen := gen.Float64Range(1000, 1_000_000)
	pctPairGen := gopter.CombineGens(
		gen.Float64Range(0.1, 5.0),
		gen.Float64Range(0.1, 5.0),
	)

	properties.Property("lower risk percentage never sizes larger", prop.ForAll(
		func(balance float64, pcts []interface{}) bool {
			lo, hi := pcts[0].(float64), pcts[1].(float64)
			if lo > hi {
				lo, hi = hi, lo
			}
			m := NewManager(&fakeAccounts{balance: balance}, nil, Config{MaxRiskPerTradePct: 2.0}, zerolog.Nop())

			small := m.CalculatePositionSize(context.Background(), "EURUSD", 1.1000, 1.0950, SizeOptions{RiskPercentage: &lo})
			large := m.CalculatePositionSize(context.Background(), "EURUSD", 1.1000, 1.0950, SizeOptions{RiskPercentage: &hi})
			if small.Err != "" || large.Err != "" {
				return false
			}
			return small.PositionSize <= large.PositionSize+1e-9
		},
		balanceGen, pctPairGen,
	))

	properties.TestingRun(t)
}

// Property: validation accepts a setup exactly when the prices bracket
// the entry for the direction and the reward covers the risk.
func TestProperty_ValidationMatchesPriceOrderingAndRiskReward(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	entryGen := gen.Float64Range(0.5, 2.0)
	riskGen := gen.Float64Range(0.0005, 0.05)
	rewardGen := gen.Float64Range(0.0005, 0.05)
	directionGen := gen.OneConstOf(models.DirectionBuy, models.DirectionSell)

	properties.Property("valid exactly when ordered and reward covers risk", prop.ForAll(
		func(entry, riskDist, rewardDist float64, direction models.Direction) bool {
			m := NewManager(&fakeAccounts{balance: 10000}, nil, Config{MaxRiskPerTradePct: 2.0, MinRiskReward: 1.0}, zerolog.Nop())

			var stop, target float64
			if direction == models.DirectionBuy {
				stop = entry - riskDist
				target = entry + rewardDist
			} else {
				stop = entry + riskDist
				target = entry - rewardDist
			}

			result := m.ValidateTradeIdea(context.Background(), "EURUSD", direction, entry, stop, target, SizeOptions{})
			expected := rewardDist/riskDist >= 1.0
			return result.Valid == expected
		},
		entryGen, riskGen, rewardGen, directionGen,
	))

	properties.TestingRun(t)
}

// Property: adding a losing closed trade to today's history never
// lowers the reported daily risk.
func TestProperty_DailyRiskMonotonicInLosses(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	lossesGen := gen.SliceOfN(5, gen.Float64Range(1, 500))

	properties.Property("each extra loss keeps risk non-decreasing", prop.ForAll(
		func(losses []float64) bool {
			now := time.Now()
			var trades []models.Trade
			prev := 0.0
			for _, loss := range losses {
				pnl := -loss
				trades = append(trades, models.Trade{
					Symbol:     "EURUSD",
					EntryTime:  now,
					Status:     models.TradeClosed,
					ProfitLoss: &pnl,
				})

				m := NewManager(&fakeAccounts{balance: 100000}, &fakeTrades{trades: append([]models.Trade(nil), trades...)}, Config{MaxRiskPerTradePct: 2.0}, zerolog.Nop())
				report := m.CheckDailyRiskLimit(context.Background(), 50.0)
				if report.CurrentRisk+1e-9 < prev {
					return false
				}
				prev = report.CurrentRisk
			}
			return true
		},
		lossesGen,
	))

	properties.TestingRun(t)
}

// Property: adding an open position to today's history never lowers the
// reported daily risk, and never turns an exceeded limit back off.
func TestProperty_DailyRiskMonotonicInOpenPositions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	lossGen := gen.Float64Range(0, 2000)
	stopDistanceGen := gen.Float64Range(0.0005, 0.05)
	volumeGen := gen.Float64Range(0.01, 5.0)
	limitGen := gen.Float64Range(0.5, 10.0)

	properties.Property("an extra open position keeps risk non-decreasing", prop.ForAll(
		func(loss, stopDistance, volume, limit float64) bool {
			now := time.Now()
			pnl := -loss
			base := []models.Trade{{
				Symbol:     "EURUSD",
				EntryTime:  now,
				Status:     models.TradeClosed,
				ProfitLoss: &pnl,
			}}
			withOpen := append(append([]models.Trade(nil), base...), models.Trade{
				Symbol:     "EURUSD",
				EntryTime:  now,
				Status:     models.TradeOpen,
				EntryPrice: 1.1000,
				StopLoss:   1.1000 - stopDistance,
				Volume:     volume,
			})

			before := NewManager(&fakeAccounts{balance: 50000}, &fakeTrades{trades: base}, Config{MaxRiskPerTradePct: 2.0}, zerolog.Nop()).
				CheckDailyRiskLimit(context.Background(), limit)
			after := NewManager(&fakeAccounts{balance: 50000}, &fakeTrades{trades: withOpen}, Config{MaxRiskPerTradePct: 2.0}, zerolog.Nop()).
				CheckDailyRiskLimit(context.Background(), limit)

			if after.CurrentRisk+1e-9 < before.CurrentRisk {
				return false
			}
			if before.LimitExceeded && !after.LimitExceeded {
				return false
			}
			return true
		},
		lossGen, stopDistanceGen, volumeGen, limitGen,
	))

	properties.TestingRun(t)
}
