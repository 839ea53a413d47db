package venue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

func TestPendingResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("resolved before wait", func(t *testing.T) {
		p := Resolved(&Response{Status: StatusSuccess, Ticket: 1})
		resp, err := p.Wait(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.Ticket)
	})

	t.Run("resolved while waiting", func(t *testing.T) {
		p := NewPending()
		go func() {
			time.Sleep(10 * time.Millisecond)
			p.Resolve(&Response{Status: StatusSuccess})
		}()
		resp, err := p.Wait(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, resp.Status)
	})

	t.Run("timeout", func(t *testing.T) {
		p := NewPending()
		_, err := p.Wait(ctx, 10*time.Millisecond)
		assert.ErrorIs(t, err, errors.ErrTimeout)
	})

	t.Run("context cancellation", func(t *testing.T) {
		p := NewPending()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Wait(cancelled, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("response nil until resolved", func(t *testing.T) {
		p := NewPending()
		assert.Nil(t, p.Response())
		p.Resolve(&Response{Status: StatusSuccess})
		assert.NotNil(t, p.Response())
	})
}

func TestPaperTrading(t *testing.T) {
	ctx := context.Background()

	open := func(t *testing.T, p *Paper, volume float64) *Response {
		t.Helper()
		sl, tp := 1.0950, 1.1100
		pending, err := p.SendCommand(ctx, Command{
			Action:     ActionOpenPosition,
			Symbol:     "EURUSD",
			OrderType:  "BUY",
			Volume:     volume,
			Price:      1.1000,
			StopLoss:   &sl,
			TakeProfit: &tp,
			Magic:      123456,
		})
		require.NoError(t, err)
		resp, err := pending.Wait(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, resp.Status)
		return resp
	}

	t.Run("open close round trip updates the balance", func(t *testing.T) {
		p := NewPaper(PaperConfig{Balance: 10000})
		p.SetPrice("EURUSD", 1.1000)

		opened := open(t, p, 0.01)
		assert.Greater(t, opened.Ticket, int64(0))

		positions, err := p.Positions(ctx)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.Equal(t, int64(123456), positions[0].Magic)

		// 50 pips on 0.01 lots of a 100k contract: 50 profit.
		p.SetPrice("EURUSD", 1.1050)
		pending, err := p.SendCommand(ctx, Command{Action: ActionClosePosition, Ticket: opened.Ticket})
		require.NoError(t, err)
		closed, err := pending.Wait(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, closed.Status)
		assert.InDelta(t, 50.0, closed.ProfitLoss, 1e-6)

		account, err := p.AccountInfo(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 10050.0, account.Balance, 1e-6)

		positions, err = p.Positions(ctx)
		require.NoError(t, err)
		assert.Empty(t, positions)
	})

	t.Run("sell profits when price falls", func(t *testing.T) {
		p := NewPaper(PaperConfig{})
		p.SetPrice("EURUSD", 1.1000)

		pending, err := p.SendCommand(ctx, Command{
			Action:    ActionOpenPosition,
			Symbol:    "EURUSD",
			OrderType: "SELL",
			Volume:    0.01,
		})
		require.NoError(t, err)
		opened, err := pending.Wait(ctx, time.Second)
		require.NoError(t, err)

		p.SetPrice("EURUSD", 1.0950)
		pending, err = p.SendCommand(ctx, Command{Action: ActionClosePosition, Ticket: opened.Ticket})
		require.NoError(t, err)
		closed, err := pending.Wait(ctx, time.Second)
		require.NoError(t, err)
		assert.InDelta(t, 50.0, closed.ProfitLoss, 1e-6)
	})

	t.Run("modify adjusts stop and target", func(t *testing.T) {
		p := NewPaper(PaperConfig{})
		p.SetPrice("EURUSD", 1.1000)
		opened := open(t, p, 0.01)

		sl := 1.0975
		pending, err := p.SendCommand(ctx, Command{Action: ActionModifyPosition, Ticket: opened.Ticket, StopLoss: &sl})
		require.NoError(t, err)
		resp, err := pending.Wait(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, resp.Status)
		assert.InDelta(t, sl, resp.StopLoss, 1e-9)
		assert.InDelta(t, 1.1100, resp.TakeProfit, 1e-9)
	})

	t.Run("scripted failure", func(t *testing.T) {
		p := NewPaper(PaperConfig{})
		p.SetPrice("EURUSD", 1.1000)
		p.FailNext("ERROR", "market closed")

		pending, err := p.SendCommand(ctx, Command{Action: ActionOpenPosition, Symbol: "EURUSD", OrderType: "BUY", Volume: 0.01})
		require.NoError(t, err)
		resp, err := pending.Wait(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "ERROR", resp.Status)
		assert.Equal(t, "market closed", resp.Message)

		// Only the next command fails.
		opened := open(t, p, 0.01)
		assert.Equal(t, StatusSuccess, opened.Status)
	})

	t.Run("latency defers resolution", func(t *testing.T) {
		p := NewPaper(PaperConfig{})
		p.SetPrice("EURUSD", 1.1000)
		p.Latency = 30 * time.Millisecond

		pending, err := p.SendCommand(ctx, Command{Action: ActionOpenPosition, Symbol: "EURUSD", OrderType: "BUY", Volume: 0.01})
		require.NoError(t, err)
		assert.Nil(t, pending.Response())

		resp, err := pending.Wait(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, resp.Status)
	})

	t.Run("candle history is bounded by count", func(t *testing.T) {
		p := NewPaper(PaperConfig{})
		candles := make([]models.Candle, 10)
		for i := range candles {
			candles[i] = models.Candle{Close: float64(i)}
		}
		p.SetCandles("EURUSD", "H1", candles)

		got, err := p.Candles(ctx, "EURUSD", "H1", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 9.0, got[2].Close)
	})
}
