package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

// Bridge connects to the expert advisor bridge over TCP with
// newline-delimited JSON messages. Each request carries an id; the
// reader goroutine matches responses back to their waiters, so commands
// can be in flight concurrently.
type Bridge struct {
	conn    net.Conn
	enc     *json.Encoder
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[int64]chan *wireResponse
	nextID  int64
	closed  bool
}

// BridgeConfig holds the bridge connection settings.
type BridgeConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
}

type wireRequest struct {
	ID         int64    `json:"id"`
	Action     string   `json:"action"`
	Symbol     string   `json:"symbol,omitempty"`
	OrderType  string   `json:"order_type,omitempty"`
	Volume     float64  `json:"volume,omitempty"`
	Price      float64  `json:"price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Ticket     int64    `json:"ticket,omitempty"`
	Magic      int64    `json:"magic,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	Timeframe  string   `json:"timeframe,omitempty"`
	Count      int      `json:"count,omitempty"`
}

type wireResponse struct {
	ID         int64          `json:"id"`
	Status     string         `json:"status"`
	Message    string         `json:"message,omitempty"`
	Ticket     int64          `json:"ticket,omitempty"`
	OpenPrice  float64        `json:"open_price,omitempty"`
	OpenTime   int64          `json:"open_time,omitempty"`
	ClosePrice float64        `json:"close_price,omitempty"`
	CloseTime  int64          `json:"close_time,omitempty"`
	ProfitLoss float64        `json:"profit_loss,omitempty"`
	StopLoss   float64        `json:"stop_loss,omitempty"`
	TakeProfit float64        `json:"take_profit,omitempty"`
	Account    *wireAccount   `json:"account,omitempty"`
	Symbol     *wireSymbol    `json:"symbol_info,omitempty"`
	Candles    []wireCandle   `json:"candles,omitempty"`
	Positions  []wirePosition `json:"positions,omitempty"`
}

type wireAccount struct {
	Login    int64   `json:"login"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Margin   float64 `json:"margin"`
	Currency string  `json:"currency"`
}

type wireSymbol struct {
	Symbol       string  `json:"symbol"`
	ContractSize float64 `json:"contract_size"`
	PipSize      float64 `json:"pip_size"`
	MinLot       float64 `json:"min_lot"`
	MaxLot       float64 `json:"max_lot"`
	LotStep      float64 `json:"lot_step"`
	Digits       int     `json:"digits"`
	Point        float64 `json:"point"`
}

type wireCandle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type wirePosition struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	OrderType  string  `json:"order_type"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Profit     float64 `json:"profit"`
	Magic      int64   `json:"magic"`
	OpenTime   int64   `json:"open_time"`
}

// NewBridge dials the bridge endpoint. Endpoint accepts "host:port" or
// "tcp://host:port".
func NewBridge(cfg BridgeConfig, logger zerolog.Logger) (*Bridge, error) {
	addr := strings.TrimPrefix(cfg.Endpoint, "tcp://")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	conn, err := net.DialTimeout("tcp", addr, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to venue bridge at %s: %w", addr, err)
	}

	b := &Bridge{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		timeout: cfg.RequestTimeout,
		logger:  logger.With().Str("component", "venue").Logger(),
		pending: make(map[int64]chan *wireResponse),
	}
	go b.readLoop()
	return b, nil
}

func (b *Bridge) readLoop() {
	dec := json.NewDecoder(b.conn)
	for {
		var resp wireResponse
		if err := dec.Decode(&resp); err != nil {
			b.failAll(err)
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if !ok {
			b.logger.Warn().Int64("id", resp.ID).Msg("Response for unknown request")
			continue
		}
		ch <- &resp
	}
}

// failAll answers every in-flight request with an error status after
// the connection breaks.
func (b *Bridge) failAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.logger.Error().Err(err).Msg("Venue bridge connection lost")
	}
	for id, ch := range b.pending {
		ch <- &wireResponse{ID: id, Status: "ERROR", Message: "connection lost"}
		delete(b.pending, id)
	}
	b.closed = true
}

// submit encodes a request and registers a channel for its response.
func (b *Bridge) submit(req wireRequest) (chan *wireResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("venue bridge is closed")
	}

	b.nextID++
	req.ID = b.nextID
	ch := make(chan *wireResponse, 1)
	b.pending[req.ID] = ch

	if err := b.enc.Encode(req); err != nil {
		delete(b.pending, req.ID)
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	return ch, nil
}

// request sends a command and waits for the full wire response.
func (b *Bridge) request(ctx context.Context, req wireRequest) (*wireResponse, error) {
	ch, err := b.submit(req)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, errors.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendCommand submits a trading command and returns a deferred
// response resolved when the venue answers.
func (b *Bridge) SendCommand(ctx context.Context, cmd Command) (*Pending, error) {
	ch, err := b.submit(wireRequest{
		Action:     string(cmd.Action),
		Symbol:     cmd.Symbol,
		OrderType:  cmd.OrderType,
		Volume:     cmd.Volume,
		Price:      cmd.Price,
		StopLoss:   cmd.StopLoss,
		TakeProfit: cmd.TakeProfit,
		Ticket:     cmd.Ticket,
		Magic:      cmd.Magic,
		Comment:    cmd.Comment,
	})
	if err != nil {
		return nil, err
	}

	p := NewPending()
	go func() {
		resp := <-ch
		p.Resolve(&Response{
			Status:     resp.Status,
			Message:    resp.Message,
			Ticket:     resp.Ticket,
			OpenPrice:  resp.OpenPrice,
			OpenTime:   unixTime(resp.OpenTime),
			ClosePrice: resp.ClosePrice,
			CloseTime:  unixTime(resp.CloseTime),
			ProfitLoss: resp.ProfitLoss,
			StopLoss:   resp.StopLoss,
			TakeProfit: resp.TakeProfit,
		})
	}()
	return p, nil
}

// AccountInfo queries the venue for the current account state.
func (b *Bridge) AccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	resp, err := b.request(ctx, wireRequest{Action: string(ActionGetAccountInfo)})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusSuccess || resp.Account == nil {
		return nil, errors.NewVenueError(string(ActionGetAccountInfo), resp.Status, resp.Message)
	}
	return &models.AccountInfo{
		Login:    resp.Account.Login,
		Balance:  resp.Account.Balance,
		Equity:   resp.Account.Equity,
		Margin:   resp.Account.Margin,
		Currency: resp.Account.Currency,
	}, nil
}

// SymbolInfo queries contract specifications, falling back to forex
// defaults when the venue does not provide them.
func (b *Bridge) SymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	resp, err := b.request(ctx, wireRequest{Action: "GET_SYMBOL_INFO", Symbol: symbol})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusSuccess || resp.Symbol == nil {
		info := models.DefaultSymbolInfo(symbol)
		return &info, nil
	}
	return &models.SymbolInfo{
		Symbol:       resp.Symbol.Symbol,
		ContractSize: resp.Symbol.ContractSize,
		PipSize:      resp.Symbol.PipSize,
		MinLot:       resp.Symbol.MinLot,
		MaxLot:       resp.Symbol.MaxLot,
		LotStep:      resp.Symbol.LotStep,
		Digits:       resp.Symbol.Digits,
		Point:        resp.Symbol.Point,
	}, nil
}

// Candles fetches the most recent count candles for a symbol/timeframe.
func (b *Bridge) Candles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	resp, err := b.request(ctx, wireRequest{
		Action:    string(ActionGetCandles),
		Symbol:    symbol,
		Timeframe: timeframe,
		Count:     count,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusSuccess {
		return nil, errors.NewVenueError(string(ActionGetCandles), resp.Status, resp.Message)
	}

	candles := make([]models.Candle, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		candles = append(candles, models.Candle{
			Timestamp: unixTime(c.Time),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return candles, nil
}

// Positions fetches the currently open positions.
func (b *Bridge) Positions(ctx context.Context) ([]models.Position, error) {
	resp, err := b.request(ctx, wireRequest{Action: string(ActionGetPositions)})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusSuccess {
		return nil, errors.NewVenueError(string(ActionGetPositions), resp.Status, resp.Message)
	}

	positions := make([]models.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		direction := models.DirectionBuy
		if strings.EqualFold(p.OrderType, "SELL") {
			direction = models.DirectionSell
		}
		positions = append(positions, models.Position{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Direction:  direction,
			Volume:     p.Volume,
			OpenPrice:  p.OpenPrice,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			Profit:     p.Profit,
			Magic:      p.Magic,
			OpenTime:   unixTime(p.OpenTime),
		})
	}
	return positions, nil
}

// Close shuts down the connection and fails any in-flight requests.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.conn.Close()
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
