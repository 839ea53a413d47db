package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mt5-trader/internal/models"
)

// Paper implements Connector as an in-process simulated MT5 terminal.
// Used for paper trading mode and tests.
type Paper struct {
	mu sync.RWMutex

	account models.AccountInfo
	symbols map[string]models.SymbolInfo
	prices  map[string]float64
	candles map[string][]models.Candle

	positions map[int64]*models.Position
	ticketSeq int64

	// Latency delays resolution of every command response. Zero resolves
	// synchronously before SendCommand returns.
	Latency time.Duration

	// FailNext, when set, makes the next trading command resolve with
	// this status/message instead of SUCCESS.
	failStatus  string
	failMessage string
}

// PaperConfig holds the initial state of a simulated terminal.
type PaperConfig struct {
	Balance  float64
	Currency string
	Symbols  []models.SymbolInfo
}

// NewPaper creates a simulated terminal.
func NewPaper(cfg PaperConfig) *Paper {
	balance := cfg.Balance
	if balance == 0 {
		balance = 10000
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}

	p := &Paper{
		account: models.AccountInfo{
			Login:    10001,
			Balance:  balance,
			Equity:   balance,
			Currency: currency,
		},
		symbols:   make(map[string]models.SymbolInfo),
		prices:    make(map[string]float64),
		candles:   make(map[string][]models.Candle),
		positions: make(map[int64]*models.Position),
	}
	for _, si := range cfg.Symbols {
		p.symbols[si.Symbol] = si
	}
	return p
}

// SetPrice sets the simulated market price for a symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetCandles seeds candle history for a symbol/timeframe pair.
func (p *Paper) SetCandles(symbol, timeframe string, candles []models.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[symbol+"/"+timeframe] = candles
}

// FailNext makes the next trading command resolve with a failure.
func (p *Paper) FailNext(status, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failStatus = status
	p.failMessage = message
}

// SendCommand simulates the expert advisor handling a command.
func (p *Paper) SendCommand(ctx context.Context, cmd Command) (*Pending, error) {
	pending := NewPending()

	resolve := func() {
		pending.Resolve(p.execute(cmd))
	}

	if p.Latency > 0 {
		go func() {
			select {
			case <-time.After(p.Latency):
				resolve()
			case <-ctx.Done():
				// Command abandoned; the response never arrives.
			}
		}()
	} else {
		resolve()
	}

	return pending, nil
}

func (p *Paper) execute(cmd Command) *Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failStatus != "" {
		resp := &Response{Status: p.failStatus, Message: p.failMessage}
		p.failStatus = ""
		p.failMessage = ""
		return resp
	}

	switch cmd.Action {
	case ActionOpenPosition:
		return p.openPosition(cmd)
	case ActionClosePosition:
		return p.closePosition(cmd)
	case ActionModifyPosition:
		return p.modifyPosition(cmd)
	default:
		return &Response{
			Status:  "ERROR",
			Message: fmt.Sprintf("unsupported action: %s", cmd.Action),
		}
	}
}

func (p *Paper) openPosition(cmd Command) *Response {
	price, ok := p.prices[cmd.Symbol]
	if !ok {
		price = cmd.Price
	}

	p.ticketSeq++
	ticket := p.ticketSeq
	now := time.Now()

	pos := &models.Position{
		Ticket:    ticket,
		Symbol:    cmd.Symbol,
		Direction: models.Direction(strings.ToLower(cmd.OrderType)),
		Volume:    cmd.Volume,
		OpenPrice: price,
		Magic:     cmd.Magic,
		OpenTime:  now,
	}
	if cmd.StopLoss != nil {
		pos.StopLoss = *cmd.StopLoss
	}
	if cmd.TakeProfit != nil {
		pos.TakeProfit = *cmd.TakeProfit
	}
	p.positions[ticket] = pos

	return &Response{
		Status:     StatusSuccess,
		Ticket:     ticket,
		OpenPrice:  price,
		OpenTime:   now,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
	}
}

func (p *Paper) closePosition(cmd Command) *Response {
	pos, ok := p.positions[cmd.Ticket]
	if !ok {
		return &Response{
			Status:  "ERROR",
			Message: fmt.Sprintf("position not found: %d", cmd.Ticket),
		}
	}

	price, ok := p.prices[pos.Symbol]
	if !ok {
		price = pos.OpenPrice
	}

	// Profit per price unit scales with contract size through volume;
	// the simulation keeps the simple 100k-contract forex convention.
	diff := price - pos.OpenPrice
	if pos.Direction == models.DirectionSell {
		diff = -diff
	}
	profit := diff * pos.Volume * models.DefaultContractSize

	delete(p.positions, cmd.Ticket)
	p.account.Balance += profit
	p.account.Equity = p.account.Balance

	return &Response{
		Status:     StatusSuccess,
		Ticket:     cmd.Ticket,
		ClosePrice: price,
		CloseTime:  time.Now(),
		ProfitLoss: profit,
	}
}

func (p *Paper) modifyPosition(cmd Command) *Response {
	pos, ok := p.positions[cmd.Ticket]
	if !ok {
		return &Response{
			Status:  "ERROR",
			Message: fmt.Sprintf("position not found: %d", cmd.Ticket),
		}
	}

	if cmd.StopLoss != nil {
		pos.StopLoss = *cmd.StopLoss
	}
	if cmd.TakeProfit != nil {
		pos.TakeProfit = *cmd.TakeProfit
	}

	return &Response{
		Status:     StatusSuccess,
		Ticket:     cmd.Ticket,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
	}
}

// AccountInfo returns the simulated account state.
func (p *Paper) AccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	account := p.account
	return &account, nil
}

// SymbolInfo returns the simulated contract specification, falling back
// to forex defaults for unknown symbols.
func (p *Paper) SymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if si, ok := p.symbols[symbol]; ok {
		return &si, nil
	}
	si := models.DefaultSymbolInfo(symbol)
	return &si, nil
}

// Candles returns seeded candle history.
func (p *Paper) Candles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	candles := p.candles[symbol+"/"+timeframe]
	if count > 0 && len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// Positions returns the simulated open positions.
func (p *Paper) Positions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}
