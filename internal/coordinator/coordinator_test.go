package coordinator

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-trader/internal/analysis"
	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
	"mt5-trader/internal/orders"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/store"
	"mt5-trader/internal/venue"
)

// scriptedAnalyzer returns a fixed decision and counts invocations.
type scriptedAnalyzer struct {
	action     string
	direction  models.Direction
	entryPrice float64
	stopLoss   float64
	takeProfit float64
	calls      atomic.Int64
}

func (s *scriptedAnalyzer) AnalyzeMarket(ctx context.Context, req analysis.Request) (*models.MarketAnalysis, error) {
	s.calls.Add(1)
	return &models.MarketAnalysis{
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		Action:     s.action,
		Direction:  s.direction,
		EntryPrice: s.entryPrice,
		StopLoss:   s.stopLoss,
		TakeProfit: s.takeProfit,
		Reason:     "scripted",
		Confidence: 80,
		CreatedAt:  time.Now(),
	}, nil
}

func enterAnalyzer() *scriptedAnalyzer {
	return &scriptedAnalyzer{
		action:     models.ActionEnter,
		direction:  models.DirectionBuy,
		entryPrice: 1.1000,
		stopLoss:   1.0950,
		takeProfit: 1.1100,
	}
}

func seedCandles(paper *venue.Paper, symbol, timeframe string) {
	candles := make([]models.Candle, 60)
	now := time.Now()
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: now.Add(time.Duration(i-60) * time.Minute),
			Open:      1.1000,
			High:      1.1010,
			Low:       1.0990,
			Close:     1.1000,
			Volume:    100,
		}
	}
	paper.SetCandles(symbol, timeframe, candles)
}

type testBench struct {
	paper       *venue.Paper
	store       store.Store
	coordinator *Coordinator
	analyzer    *scriptedAnalyzer
}

func newTestBench(t *testing.T, analyzer *scriptedAnalyzer, cfg Config) *testBench {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	paper := venue.NewPaper(venue.PaperConfig{Balance: 10000})
	paper.SetPrice("EURUSD", 1.1000)
	seedCandles(paper, "EURUSD", "H1")

	riskMgr := risk.NewManager(paper, st, risk.Config{MaxRiskPerTradePct: 2.0, MinRiskReward: 1.0}, zerolog.Nop())
	proc := orders.NewProcessor(paper, st, riskMgr, orders.Config{OrderTimeout: time.Second}, zerolog.Nop())

	if cfg.Symbols == nil {
		cfg.Symbols = []string{"EURUSD"}
	}
	if cfg.Timeframes == nil {
		cfg.Timeframes = []string{"H1"}
	}
	if cfg.AnalysisInterval == 0 {
		cfg.AnalysisInterval = 5 * time.Minute
	}

	return &testBench{
		paper:       paper,
		store:       st,
		coordinator: New(paper, st, analyzer, riskMgr, proc, cfg, zerolog.Nop()),
		analyzer:    analyzer,
	}
}

func TestAnalyzeMarket(t *testing.T) {
	ctx := context.Background()

	t.Run("second run inside the interval is skipped", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		first, err := b.coordinator.AnalyzeMarket(ctx, "EURUSD", "H1", false)
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := b.coordinator.AnalyzeMarket(ctx, "EURUSD", "H1", false)
		require.NoError(t, err)
		assert.Nil(t, second)
		assert.Equal(t, int64(1), b.analyzer.calls.Load())
	})

	t.Run("force ignores the interval", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		_, err := b.coordinator.AnalyzeMarket(ctx, "EURUSD", "H1", false)
		require.NoError(t, err)
		forced, err := b.coordinator.AnalyzeMarket(ctx, "EURUSD", "H1", true)
		require.NoError(t, err)
		assert.NotNil(t, forced)
		assert.Equal(t, int64(2), b.analyzer.calls.Load())
	})

	t.Run("enter decision persists a pending idea", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result, err := b.coordinator.AnalyzeMarket(ctx, "EURUSD", "H1", false)
		require.NoError(t, err)
		require.NotZero(t, result.TradeIdeaID)

		idea, err := b.store.GetTradeIdea(ctx, result.TradeIdeaID)
		require.NoError(t, err)
		require.NotNil(t, idea)
		assert.Equal(t, models.IdeaPending, idea.Status)
	})

	t.Run("no candles is an error", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		_, err := b.coordinator.AnalyzeMarket(ctx, "GBPUSD", "H1", false)
		assert.ErrorIs(t, err, errors.ErrNoData)
	})
}

func TestProcessAnalysisResult(t *testing.T) {
	ctx := context.Background()

	t.Run("wait is informational", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result := b.coordinator.ProcessAnalysisResult(ctx, &models.MarketAnalysis{Action: models.ActionWait, Reason: "no setup"}, true)
		assert.True(t, result.Success)
		assert.Equal(t, ActionWait, result.Action)
	})

	t.Run("nil analysis", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result := b.coordinator.ProcessAnalysisResult(ctx, nil, true)
		assert.Equal(t, ActionNone, result.Action)
	})

	t.Run("unknown action", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result := b.coordinator.ProcessAnalysisResult(ctx, &models.MarketAnalysis{Action: "HOLD"}, true)
		assert.False(t, result.Success)
		assert.Equal(t, ActionUnknown, result.Action)
	})

	t.Run("enter without auto trade only prepares", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result := b.coordinator.ProcessAnalysisResult(ctx, &models.MarketAnalysis{
			Symbol:     "EURUSD",
			Timeframe:  "H1",
			Action:     models.ActionEnter,
			Direction:  models.DirectionBuy,
			EntryPrice: 1.1000,
			StopLoss:   1.0950,
			TakeProfit: 1.1100,
		}, false)
		require.True(t, result.Success, result.Message)
		assert.Equal(t, ActionEnterPrepared, result.Action)
		require.NotZero(t, result.IdeaID)

		idea, err := b.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaPending, idea.Status)
	})

	t.Run("enter with auto trade executes", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{DailyRiskLimitPct: 50})

		result := b.coordinator.ProcessAnalysisResult(ctx, &models.MarketAnalysis{
			Symbol:     "EURUSD",
			Timeframe:  "H1",
			Action:     models.ActionEnter,
			Direction:  models.DirectionBuy,
			EntryPrice: 1.1000,
			StopLoss:   1.0950,
			TakeProfit: 1.1100,
		}, true)
		require.True(t, result.Success, result.Message)
		assert.Equal(t, ActionEnterExecuted, result.Action)
		assert.Greater(t, result.Ticket, int64(0))
		require.NotNil(t, result.Trade)
	})

	t.Run("enter blocked by daily risk limit", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{DailyRiskLimitPct: 1})

		// A losing trade from earlier today eats the whole limit.
		pnl := -200.0
		_, err := b.store.InsertTrade(ctx, &models.Trade{
			TradeIdeaID: 1,
			Ticket:      555,
			Symbol:      "EURUSD",
			Direction:   models.DirectionBuy,
			Volume:      0.1,
			EntryPrice:  1.1000,
			EntryTime:   time.Now(),
			Status:      models.TradeClosed,
			ProfitLoss:  &pnl,
		})
		require.NoError(t, err)

		result := b.coordinator.ProcessAnalysisResult(ctx, &models.MarketAnalysis{
			Symbol:     "EURUSD",
			Timeframe:  "H1",
			Action:     models.ActionEnter,
			Direction:  models.DirectionBuy,
			EntryPrice: 1.1000,
			StopLoss:   1.0950,
			TakeProfit: 1.1100,
		}, true)
		assert.False(t, result.Success)
		assert.Equal(t, ActionRiskLimitExceeded, result.Action)
		require.NotNil(t, result.RiskReport)
		assert.True(t, result.RiskReport.LimitExceeded)

		// The prepared idea stays pending, nothing reached the venue.
		positions, err := b.paper.Positions(ctx)
		require.NoError(t, err)
		assert.Empty(t, positions)
	})

	t.Run("exit without ticket fails", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result := b.coordinator.ProcessAnalysisResult(ctx, &models.MarketAnalysis{Action: models.ActionExit}, true)
		assert.False(t, result.Success)
		assert.Equal(t, ActionExitFailed, result.Action)
	})

	t.Run("exit without auto trade only prepares", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result := b.coordinator.ProcessAnalysisResult(ctx, &models.MarketAnalysis{Action: models.ActionExit, Ticket: 42}, false)
		assert.True(t, result.Success)
		assert.Equal(t, ActionExitPrepared, result.Action)
		assert.Equal(t, int64(42), result.Ticket)
	})
}

func TestRunMarketAnalysis(t *testing.T) {
	ctx := context.Background()

	t.Run("covers the symbol timeframe cross product", func(t *testing.T) {
		analyzer := &scriptedAnalyzer{action: models.ActionWait}
		b := newTestBench(t, analyzer, Config{
			Symbols:    []string{"EURUSD", "GBPUSD"},
			Timeframes: []string{"H1", "H4"},
		})
		for _, sym := range []string{"EURUSD", "GBPUSD"} {
			for _, tf := range []string{"H1", "H4"} {
				seedCandles(b.paper, sym, tf)
			}
		}

		runs, err := b.coordinator.RunMarketAnalysis(ctx, "", "", false)
		require.NoError(t, err)
		assert.Len(t, runs, 4)
		assert.Equal(t, int64(4), analyzer.calls.Load())
	})

	t.Run("explicit symbol restricts the run", func(t *testing.T) {
		analyzer := &scriptedAnalyzer{action: models.ActionWait}
		b := newTestBench(t, analyzer, Config{
			Symbols:    []string{"EURUSD", "GBPUSD"},
			Timeframes: []string{"H1"},
		})

		runs, err := b.coordinator.RunMarketAnalysis(ctx, "EURUSD", "H1", false)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
		assert.Equal(t, "EURUSD", runs[0].Symbol)
	})
}

func TestMonitoringLifecycle(t *testing.T) {
	t.Run("start and stop", func(t *testing.T) {
		b := newTestBench(t, &scriptedAnalyzer{action: models.ActionWait}, Config{AnalysisInterval: time.Hour})

		require.NoError(t, b.coordinator.StartMonitoring(false))
		assert.True(t, b.coordinator.Running())

		assert.ErrorIs(t, b.coordinator.StartMonitoring(false), errors.ErrAlreadyRunning)

		require.NoError(t, b.coordinator.StopMonitoring())
		assert.False(t, b.coordinator.Running())
	})

	t.Run("stop without start", func(t *testing.T) {
		b := newTestBench(t, &scriptedAnalyzer{action: models.ActionWait}, Config{})

		assert.ErrorIs(t, b.coordinator.StopMonitoring(), errors.ErrNotRunning)
	})

	t.Run("restart after stop", func(t *testing.T) {
		b := newTestBench(t, &scriptedAnalyzer{action: models.ActionWait}, Config{AnalysisInterval: time.Hour})

		require.NoError(t, b.coordinator.StartMonitoring(false))
		require.NoError(t, b.coordinator.StopMonitoring())
		require.NoError(t, b.coordinator.StartMonitoring(true))
		require.NoError(t, b.coordinator.StopMonitoring())
	})
}

func TestExecuteTradeIdeaRevalidates(t *testing.T) {
	ctx := context.Background()

	t.Run("stale idea is rejected before execution", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		// Persist a pending idea whose levels no longer validate.
		idea := &models.TradeIdea{
			Symbol:     "EURUSD",
			Direction:  models.DirectionBuy,
			EntryPrice: 1.1000,
			StopLoss:   1.0950,
			TakeProfit: 1.1020, // reward below risk
			Status:     models.IdeaPending,
		}
		id, err := b.store.InsertTradeIdea(ctx, idea)
		require.NoError(t, err)

		_, err = b.coordinator.ExecuteTradeIdea(ctx, id)
		require.Error(t, err)

		stored, err := b.store.GetTradeIdea(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaRejected, stored.Status)
		assert.NotEmpty(t, stored.RejectionReason)
	})

	t.Run("valid idea executes", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		result, err := b.coordinator.AnalyzeMarket(ctx, "EURUSD", "H1", false)
		require.NoError(t, err)
		require.NotZero(t, result.TradeIdeaID)

		trade, err := b.coordinator.ExecuteTradeIdea(ctx, result.TradeIdeaID)
		require.NoError(t, err)
		assert.Greater(t, trade.Ticket, int64(0))

		stored, err := b.store.GetTradeIdea(ctx, result.TradeIdeaID)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaExecuted, stored.Status)
	})

	t.Run("unknown idea", func(t *testing.T) {
		b := newTestBench(t, enterAnalyzer(), Config{})

		_, err := b.coordinator.ExecuteTradeIdea(ctx, 31337)
		assert.ErrorIs(t, err, errors.ErrIdeaNotFound)
	})
}
