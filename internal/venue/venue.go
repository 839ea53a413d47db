// Package venue provides the trading venue connector contract and
// implementations. The venue is an MT5 terminal driven by an expert
// advisor that accepts commands and answers with status responses.
package venue

import (
	"context"
	"time"

	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

// Action identifies the command sent to the venue.
type Action string

const (
	ActionOpenPosition   Action = "OPEN_POSITION"
	ActionClosePosition  Action = "CLOSE_POSITION"
	ActionModifyPosition Action = "MODIFY_POSITION"
	ActionGetAccountInfo Action = "GET_ACCOUNT_INFO"
	ActionGetCandles     Action = "GET_CANDLES"
	ActionGetPositions   Action = "GET_POSITIONS"
)

const (
	// StatusSuccess is the venue's confirmation status. Anything else
	// in a resolved response is a venue-side failure.
	StatusSuccess = "SUCCESS"
	// StatusSubmitted marks a command handed to the venue without
	// waiting for its answer. The venue never sends it.
	StatusSubmitted = "SUBMITTED"
)

// Command is the payload submitted to the expert advisor.
type Command struct {
	Action     Action
	Symbol     string
	OrderType  string // BUY / SELL
	Volume     float64
	Price      float64
	StopLoss   *float64
	TakeProfit *float64
	Ticket     int64
	Magic      int64
	Comment    string
}

// Response is the venue's answer to a command. Which fields are set
// depends on the action: OPEN_POSITION carries Ticket/OpenPrice/OpenTime,
// CLOSE_POSITION carries ClosePrice/CloseTime/ProfitLoss.
type Response struct {
	Status     string
	Message    string
	Ticket     int64
	OpenPrice  float64
	OpenTime   time.Time
	ClosePrice float64
	CloseTime  time.Time
	ProfitLoss float64
	StopLoss   float64
	TakeProfit float64
}

// Pending is a deferred venue response. The connector returns it
// immediately; the response arrives later via Resolve.
type Pending struct {
	done chan struct{}
	resp *Response
}

// NewPending creates an unresolved pending response.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolved creates a pending response that is already resolved.
func Resolved(resp *Response) *Pending {
	p := NewPending()
	p.Resolve(resp)
	return p
}

// Resolve sets the response and signals waiters. Resolving twice panics,
// as the venue must answer each command exactly once.
func (p *Pending) Resolve(resp *Response) {
	p.resp = resp
	close(p.done)
}

// Done returns a channel closed when the response is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Response returns the resolved response, or nil if not yet resolved.
func (p *Pending) Response() *Response {
	select {
	case <-p.done:
		return p.resp
	default:
		return nil
	}
}

// Wait blocks until the response arrives, the timeout elapses, or the
// context is cancelled. Timeout is reported as errors.ErrTimeout so
// callers can tell it apart from a venue-side failure.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (*Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.resp, nil
	case <-timer.C:
		return nil, errors.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connector is the contract the pipeline depends on. Implementations
// bridge to a live MT5 terminal or simulate one in process.
type Connector interface {
	// SendCommand submits a command and returns a deferred response.
	SendCommand(ctx context.Context, cmd Command) (*Pending, error)

	// AccountInfo returns the current account state.
	AccountInfo(ctx context.Context) (*models.AccountInfo, error)

	// SymbolInfo returns contract specifications for a symbol.
	SymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error)

	// Candles returns the most recent count candles for a symbol/timeframe.
	Candles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error)

	// Positions returns the currently open positions.
	Positions(ctx context.Context) ([]models.Position, error)
}
