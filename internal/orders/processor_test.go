package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/store"
	"mt5-trader/internal/venue"
)

type testPipeline struct {
	paper     *venue.Paper
	store     store.Store
	processor *Processor
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	paper := venue.NewPaper(venue.PaperConfig{Balance: 10000})
	paper.SetPrice("EURUSD", 1.1000)

	riskMgr := risk.NewManager(paper, st, risk.Config{MaxRiskPerTradePct: 2.0, MinRiskReward: 1.0}, zerolog.Nop())
	proc := NewProcessor(paper, st, riskMgr, Config{MagicNumber: 123456, OrderTimeout: time.Second}, zerolog.Nop())

	return &testPipeline{paper: paper, store: st, processor: proc}
}

func validIdea() *models.TradeIdea {
	return &models.TradeIdea{
		Symbol:     "EURUSD",
		Direction:  models.DirectionBuy,
		EntryPrice: 1.1000,
		StopLoss:   1.0950,
		TakeProfit: 1.1100,
		Timeframe:  "H1",
		Source:     "test",
	}
}

func TestProcessTradeIdea(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted idea stored pending with volume", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)
		assert.True(t, result.Accepted)
		assert.InDelta(t, 0.40, result.PositionSize, 1e-9)
		assert.InDelta(t, 2.0, result.RiskReward, 1e-9)

		stored, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, models.IdeaPending, stored.Status)
		require.NotNil(t, stored.Volume)
		assert.InDelta(t, 0.40, *stored.Volume, 1e-9)
	})

	t.Run("rejected idea stored with reason", func(t *testing.T) {
		p := newTestPipeline(t)

		idea := validIdea()
		idea.TakeProfit = 1.1020 // reward below risk

		result, err := p.processor.ProcessTradeIdea(ctx, idea)
		require.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.NotEmpty(t, result.Reason)

		stored, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, models.IdeaRejected, stored.Status)
		assert.Equal(t, result.Reason, stored.RejectionReason)
	})

	t.Run("caller volume wins over the computed size", func(t *testing.T) {
		p := newTestPipeline(t)

		idea := validIdea()
		requested := 0.05
		idea.Volume = &requested

		result, err := p.processor.ProcessTradeIdea(ctx, idea)
		require.NoError(t, err)
		require.True(t, result.Accepted)
		assert.InDelta(t, 0.05, result.PositionSize, 1e-9)

		stored, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		require.NotNil(t, stored.Volume)
		assert.InDelta(t, 0.05, *stored.Volume, 1e-9)

		trade, err := p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.InDelta(t, 0.05, trade.Volume, 1e-9)
	})

	t.Run("missing prices fail before anything is stored", func(t *testing.T) {
		p := newTestPipeline(t)

		for _, tc := range []struct {
			field string
			mod   func(*models.TradeIdea)
		}{
			{"entry_price", func(i *models.TradeIdea) { i.EntryPrice = 0 }},
			{"stop_loss", func(i *models.TradeIdea) { i.StopLoss = 0 }},
			{"take_profit", func(i *models.TradeIdea) { i.TakeProfit = 0 }},
		} {
			idea := validIdea()
			tc.mod(idea)
			_, err := p.processor.ProcessTradeIdea(ctx, idea)
			require.Error(t, err, tc.field)
			var missing *errors.MissingFieldError
			require.ErrorAs(t, err, &missing, tc.field)
			assert.Contains(t, missing.Error(), tc.field)
		}

		ideas, err := p.store.GetTradeIdeas(ctx, store.IdeaFilter{})
		require.NoError(t, err)
		assert.Empty(t, ideas)
	})

	t.Run("missing symbol is an error", func(t *testing.T) {
		p := newTestPipeline(t)

		idea := validIdea()
		idea.Symbol = ""
		_, err := p.processor.ProcessTradeIdea(ctx, idea)
		require.Error(t, err)
		var missing *errors.MissingFieldError
		assert.ErrorAs(t, err, &missing)
	})
}

func TestExecuteTradeIdea(t *testing.T) {
	ctx := context.Background()

	t.Run("pending idea executes into an open trade", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)
		require.True(t, result.Accepted)

		trade, err := p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.Greater(t, trade.Ticket, int64(0))
		assert.Equal(t, models.TradeOpen, trade.Status)
		assert.InDelta(t, 1.1000, trade.EntryPrice, 1e-9)
		assert.InDelta(t, 0.40, trade.Volume, 1e-9)

		idea, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaExecuted, idea.Status)
		assert.Equal(t, trade.Ticket, idea.Ticket)
		assert.NotNil(t, idea.ExecutedAt)

		stored, err := p.store.GetTradeByTicket(ctx, trade.Ticket)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, result.IdeaID, stored.TradeIdeaID)
	})

	t.Run("unknown idea", func(t *testing.T) {
		p := newTestPipeline(t)

		_, err := p.processor.ExecuteTradeIdea(ctx, 9999)
		assert.ErrorIs(t, err, errors.ErrIdeaNotFound)
	})

	t.Run("executed idea cannot run twice", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)
		_, err = p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)

		_, err = p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		assert.ErrorIs(t, err, errors.ErrInvalidStatus)
	})

	t.Run("venue rejection marks the idea failed", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)

		p.paper.FailNext("ERROR", "not enough money")
		_, err = p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		require.Error(t, err)
		var venueErr *errors.VenueError
		assert.ErrorAs(t, err, &venueErr)

		idea, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaFailed, idea.Status)
		assert.Contains(t, idea.RejectionReason, "not enough money")
	})

	t.Run("timeout leaves no trade behind", func(t *testing.T) {
		p := newTestPipeline(t)
		p.processor.orderTimeout = 20 * time.Millisecond
		p.paper.Latency = 500 * time.Millisecond

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)

		_, err = p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		assert.ErrorIs(t, err, errors.ErrTimeout)

		idea, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaFailed, idea.Status)

		trades, err := p.store.GetTrades(ctx, store.TradeFilter{})
		require.NoError(t, err)
		assert.Empty(t, trades)
	})

	t.Run("execution re-validates against current risk rules", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)
		require.True(t, result.Accepted)

		// Tighten the minimum risk/reward between acceptance and
		// execution; the 2.0 idea no longer qualifies.
		strictRisk := risk.NewManager(p.paper, p.store, risk.Config{MaxRiskPerTradePct: 2.0, MinRiskReward: 3.0}, zerolog.Nop())
		strict := NewProcessor(p.paper, p.store, strictRisk, Config{MagicNumber: 123456, OrderTimeout: time.Second}, zerolog.Nop())

		_, err = strict.ExecuteTradeIdea(ctx, result.IdeaID)
		require.Error(t, err)

		stored, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaRejected, stored.Status)
		assert.NotEmpty(t, stored.RejectionReason)

		trades, err := p.store.GetTrades(ctx, store.TradeFilter{})
		require.NoError(t, err)
		assert.Empty(t, trades)
	})

	t.Run("risk percentage re-sizes at execution", func(t *testing.T) {
		p := newTestPipeline(t)

		idea := validIdea()
		requested := 0.05
		pct := 1.0
		idea.Volume = &requested
		idea.RiskPercentage = &pct

		result, err := p.processor.ProcessTradeIdea(ctx, idea)
		require.NoError(t, err)
		require.True(t, result.Accepted)

		trade, err := p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.InDelta(t, 0.20, trade.Volume, 1e-9)
	})

	t.Run("idea past its validity window expires instead of executing", func(t *testing.T) {
		p := newTestPipeline(t)

		idea := validIdea()
		past := time.Now().Add(-time.Minute)
		idea.ValidUntil = &past
		idea.Status = models.IdeaPending
		volume := 0.1
		idea.Volume = &volume
		id, err := p.store.InsertTradeIdea(ctx, idea)
		require.NoError(t, err)

		_, err = p.processor.ExecuteTradeIdea(ctx, id)
		assert.ErrorIs(t, err, errors.ErrInvalidStatus)

		stored, err := p.store.GetTradeIdea(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaExpired, stored.Status)
	})
}

func TestUpdateTradeIdeaStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("pending transitions to rejected", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)

		err = p.processor.UpdateTradeIdeaStatus(ctx, result.IdeaID, models.IdeaRejected, StatusUpdate{RejectionReason: "manual review"})
		require.NoError(t, err)

		idea, err := p.store.GetTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)
		assert.Equal(t, models.IdeaRejected, idea.Status)
		assert.Equal(t, "manual review", idea.RejectionReason)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)

		err = p.processor.UpdateTradeIdeaStatus(ctx, result.IdeaID, models.IdeaPending, StatusUpdate{})
		assert.NoError(t, err)
	})

	t.Run("terminal status never transitions again", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)
		require.NoError(t, p.processor.UpdateTradeIdeaStatus(ctx, result.IdeaID, models.IdeaRejected, StatusUpdate{}))

		err = p.processor.UpdateTradeIdeaStatus(ctx, result.IdeaID, models.IdeaExecuted, StatusUpdate{})
		assert.ErrorIs(t, err, errors.ErrInvalidStatus)
	})

	t.Run("unknown idea", func(t *testing.T) {
		p := newTestPipeline(t)

		err := p.processor.UpdateTradeIdeaStatus(ctx, 424242, models.IdeaRejected, StatusUpdate{})
		assert.ErrorIs(t, err, errors.ErrIdeaNotFound)
	})
}

func TestClosePosition(t *testing.T) {
	ctx := context.Background()

	t.Run("close records exit and profit", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)
		trade, err := p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)

		p.paper.SetPrice("EURUSD", 1.1050)
		resp, err := p.processor.ClosePosition(ctx, trade.Ticket, "take profit reached", SendOptions{})
		require.NoError(t, err)
		assert.InDelta(t, 1.1050, resp.ClosePrice, 1e-9)
		assert.Greater(t, resp.ProfitLoss, 0.0)

		stored, err := p.store.GetTradeByTicket(ctx, trade.Ticket)
		require.NoError(t, err)
		assert.Equal(t, models.TradeClosed, stored.Status)
		require.NotNil(t, stored.ProfitLoss)
		assert.InDelta(t, resp.ProfitLoss, *stored.ProfitLoss, 1e-6)
	})

	t.Run("close unknown ticket fails", func(t *testing.T) {
		p := newTestPipeline(t)

		_, err := p.processor.ClosePosition(ctx, 777, "", SendOptions{})
		require.Error(t, err)
		var venueErr *errors.VenueError
		assert.ErrorAs(t, err, &venueErr)
	})
}

func TestModifyPosition(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t)

	result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
	require.NoError(t, err)
	trade, err := p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
	require.NoError(t, err)

	newStop := 1.0980
	resp, err := p.processor.ModifyPosition(ctx, trade.Ticket, &newStop, nil, SendOptions{})
	require.NoError(t, err)
	assert.InDelta(t, newStop, resp.StopLoss, 1e-9)

	_, err = p.processor.ModifyPosition(ctx, trade.Ticket, nil, nil, SendOptions{})
	require.Error(t, err)
	var missing *errors.MissingFieldError
	assert.ErrorAs(t, err, &missing)
}

func TestFireAndForget(t *testing.T) {
	ctx := context.Background()

	t.Run("send order without waiting returns submitted", func(t *testing.T) {
		p := newTestPipeline(t)
		p.paper.Latency = 500 * time.Millisecond

		order := &models.Order{
			Symbol:     "EURUSD",
			Direction:  models.DirectionBuy,
			Volume:     0.10,
			Price:      1.1000,
			StopLoss:   1.0950,
			TakeProfit: 1.1100,
			Magic:      123456,
		}

		started := time.Now()
		resp, err := p.processor.SendOrder(ctx, order, SendOptions{NoWait: true})
		require.NoError(t, err)
		assert.Equal(t, venue.StatusSubmitted, resp.Status)
		assert.Less(t, time.Since(started), 250*time.Millisecond)
	})

	t.Run("close without waiting leaves the trade record open", func(t *testing.T) {
		p := newTestPipeline(t)

		result, err := p.processor.ProcessTradeIdea(ctx, validIdea())
		require.NoError(t, err)
		trade, err := p.processor.ExecuteTradeIdea(ctx, result.IdeaID)
		require.NoError(t, err)

		p.paper.Latency = 500 * time.Millisecond
		resp, err := p.processor.ClosePosition(ctx, trade.Ticket, "drawdown guard", SendOptions{NoWait: true})
		require.NoError(t, err)
		assert.Equal(t, venue.StatusSubmitted, resp.Status)

		// The exit price is unknown without a confirmation, so the
		// stored trade stays open.
		stored, err := p.store.GetTradeByTicket(ctx, trade.Ticket)
		require.NoError(t, err)
		assert.Equal(t, models.TradeOpen, stored.Status)
	})
}

func TestExpireOldTradeIdeas(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t)

	// Fresh pending idea stays.
	fresh, err := p.processor.ProcessTradeIdea(ctx, validIdea())
	require.NoError(t, err)

	// Old pending idea without a validity window expires by age.
	old := validIdea()
	old.Status = models.IdeaPending
	old.CreatedAt = time.Now().Add(-time.Hour)
	old.UpdatedAt = old.CreatedAt
	oldID, err := p.store.InsertTradeIdea(ctx, old)
	require.NoError(t, err)

	// Idea whose validity window has passed expires regardless of age.
	stale := validIdea()
	stale.Status = models.IdeaPending
	past := time.Now().Add(-time.Minute)
	stale.ValidUntil = &past
	staleID, err := p.store.InsertTradeIdea(ctx, stale)
	require.NoError(t, err)

	count, err := p.processor.ExpireOldTradeIdeas(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for id, want := range map[int64]models.IdeaStatus{
		fresh.IdeaID: models.IdeaPending,
		oldID:        models.IdeaExpired,
		staleID:      models.IdeaExpired,
	} {
		idea, err := p.store.GetTradeIdea(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, idea.Status, "idea %d", id)
	}
}
