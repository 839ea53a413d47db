// Package orders turns validated trade ideas into venue orders and owns
// the trade idea lifecycle. All status transitions go through this
// package so an idea can never be executed twice.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
	"mt5-trader/internal/monitoring"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/store"
	"mt5-trader/internal/venue"
)

// DefaultOrderTimeout bounds the wait for a venue response.
const DefaultOrderTimeout = 30 * time.Second

// Processor validates, persists, and executes trade ideas.
type Processor struct {
	connector    venue.Connector
	store        store.Store
	risk         *risk.Manager
	magic        int64
	orderTimeout time.Duration
	logger       zerolog.Logger

	// ideaLocks serializes work per idea id so concurrent execution
	// attempts on the same idea cannot both pass the status check.
	mu        sync.Mutex
	ideaLocks map[int64]*sync.Mutex
}

// Config carries the processor's tunables.
type Config struct {
	MagicNumber  int64
	OrderTimeout time.Duration
}

// NewProcessor creates an order processor. A zero magic number falls
// back to 123456 and a zero timeout to DefaultOrderTimeout.
func NewProcessor(connector venue.Connector, st store.Store, riskMgr *risk.Manager, cfg Config, logger zerolog.Logger) *Processor {
	if cfg.MagicNumber == 0 {
		cfg.MagicNumber = 123456
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = DefaultOrderTimeout
	}
	return &Processor{
		connector:    connector,
		store:        st,
		risk:         riskMgr,
		magic:        cfg.MagicNumber,
		orderTimeout: cfg.OrderTimeout,
		logger:       logger.With().Str("component", "orders").Logger(),
		ideaLocks:    make(map[int64]*sync.Mutex),
	}
}

func (p *Processor) lockIdea(id int64) func() {
	p.mu.Lock()
	lock, ok := p.ideaLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		p.ideaLocks[id] = lock
	}
	p.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// ProcessResult reports the outcome of submitting a trade idea.
type ProcessResult struct {
	IdeaID       int64
	Accepted     bool
	Reason       string
	PositionSize float64
	RiskReward   float64
}

// ProcessTradeIdea runs a proposed idea through risk validation and
// persists it as PENDING with its computed volume, or REJECTED with the
// rejection reason. The idea is stored either way so every proposal is
// auditable.
func (p *Processor) ProcessTradeIdea(ctx context.Context, idea *models.TradeIdea) (*ProcessResult, error) {
	if p.store == nil {
		return nil, errors.ErrNoStore
	}
	if p.risk == nil {
		return nil, errors.ErrNoRiskManager
	}
	if idea.Symbol == "" {
		return nil, errors.NewMissingFieldError("symbol")
	}
	if !idea.Direction.Valid() {
		return nil, errors.NewValidationError("direction", idea.Direction, "must be buy or sell")
	}
	if idea.EntryPrice == 0 {
		return nil, errors.NewMissingFieldError("entry_price")
	}
	if idea.StopLoss == 0 {
		return nil, errors.NewMissingFieldError("stop_loss")
	}
	if idea.TakeProfit == 0 {
		return nil, errors.NewMissingFieldError("take_profit")
	}

	opts := risk.SizeOptions{RiskPercentage: idea.RiskPercentage}
	validation := p.risk.ValidateTradeIdea(ctx, idea.Symbol, idea.Direction, idea.EntryPrice, idea.StopLoss, idea.TakeProfit, opts)

	now := time.Now()
	idea.CreatedAt = now
	idea.UpdatedAt = now
	idea.RiskReward = idea.ComputeRiskReward()

	if validation.Valid {
		idea.Status = models.IdeaPending
		// A caller-supplied volume wins; the computed size is the
		// fallback when the idea carries none.
		if idea.Volume == nil {
			volume := validation.PositionSize
			idea.Volume = &volume
			if idea.RiskPercentage == nil {
				pct := validation.RiskPercentage
				idea.RiskPercentage = &pct
			}
		}
	} else {
		idea.Status = models.IdeaRejected
		idea.RejectionReason = validation.Reason
	}

	id, err := p.store.InsertTradeIdea(ctx, idea)
	if err != nil {
		return nil, fmt.Errorf("failed to store trade idea: %w", err)
	}
	idea.ID = id

	monitoring.RecordIdea(idea.Symbol, string(idea.Status))
	if validation.Valid {
		p.logger.Info().
			Int64("idea_id", id).
			Str("symbol", idea.Symbol).
			Str("direction", string(idea.Direction)).
			Float64("volume", *idea.Volume).
			Float64("risk_reward", validation.RiskReward).
			Msg("Trade idea accepted")
	} else {
		p.logger.Warn().
			Int64("idea_id", id).
			Str("symbol", idea.Symbol).
			Str("reason", validation.Reason).
			Msg("Trade idea rejected")
	}

	result := &ProcessResult{
		IdeaID:     id,
		Accepted:   validation.Valid,
		Reason:     validation.Reason,
		RiskReward: validation.RiskReward,
	}
	if validation.Valid {
		result.PositionSize = *idea.Volume
	} else {
		result.PositionSize = validation.PositionSize
	}
	return result, nil
}

// SendOptions controls how a venue command is confirmed. The zero value
// waits for the venue's answer with the processor's configured timeout.
type SendOptions struct {
	// NoWait returns a SUBMITTED response as soon as the command is
	// handed to the venue, without confirmation.
	NoWait bool
	// Timeout overrides the processor's configured wait when positive.
	Timeout time.Duration
}

func (p *Processor) waitTimeout(opts SendOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return p.orderTimeout
}

// SendOrder submits an open-position order. By default it waits up to
// the configured timeout for the venue's answer: a non-success status
// is returned as a VenueError, a timeout as errors.ErrTimeout with no
// assumption about whether the venue filled the order. With NoWait set
// it returns a SUBMITTED response immediately after handing the order
// to the venue.
func (p *Processor) SendOrder(ctx context.Context, order *models.Order, opts SendOptions) (*venue.Response, error) {
	if p.connector == nil {
		return nil, errors.ErrNoConnector
	}

	stopLoss := order.StopLoss
	takeProfit := order.TakeProfit
	cmd := venue.Command{
		Action:     venue.ActionOpenPosition,
		Symbol:     order.Symbol,
		OrderType:  order.Direction.OrderType(),
		Volume:     order.Volume,
		Price:      order.Price,
		StopLoss:   &stopLoss,
		TakeProfit: &takeProfit,
		Magic:      order.Magic,
		Comment:    order.Comment,
	}

	started := time.Now()
	pending, err := p.connector.SendCommand(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to send order: %w", err)
	}
	if opts.NoWait {
		monitoring.RecordOrder(order.Symbol, string(order.Direction), "submitted")
		p.logger.Info().
			Str("symbol", order.Symbol).
			Str("direction", string(order.Direction)).
			Float64("volume", order.Volume).
			Msg("Order submitted without waiting for confirmation")
		return &venue.Response{Status: venue.StatusSubmitted, Message: "order submitted, confirmation not awaited"}, nil
	}

	resp, err := pending.Wait(ctx, p.waitTimeout(opts))
	monitoring.ObserveOrderLatency(order.Symbol, time.Since(started).Seconds())
	if err != nil {
		monitoring.RecordOrder(order.Symbol, string(order.Direction), "timeout")
		return nil, err
	}
	if resp.Status != venue.StatusSuccess {
		monitoring.RecordOrder(order.Symbol, string(order.Direction), "rejected")
		return nil, errors.NewVenueError(string(venue.ActionOpenPosition), resp.Status, resp.Message)
	}

	monitoring.RecordOrder(order.Symbol, string(order.Direction), "filled")
	p.logger.Info().
		Str("symbol", order.Symbol).
		Str("direction", string(order.Direction)).
		Float64("volume", order.Volume).
		Int64("ticket", resp.Ticket).
		Msg("Order filled")
	return resp, nil
}

// ExecuteTradeIdea sends the order for a pending idea and records the
// resulting trade. The idea must be PENDING; on venue success it becomes
// EXECUTED with the ticket, on any failure it becomes FAILED with the
// reason. Calls for the same idea are serialized.
func (p *Processor) ExecuteTradeIdea(ctx context.Context, ideaID int64) (*models.Trade, error) {
	if p.store == nil {
		return nil, errors.ErrNoStore
	}

	unlock := p.lockIdea(ideaID)
	defer unlock()

	idea, err := p.store.GetTradeIdea(ctx, ideaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade idea %d: %w", ideaID, err)
	}
	if idea == nil {
		return nil, errors.ErrIdeaNotFound
	}
	if idea.Status != models.IdeaPending {
		return nil, fmt.Errorf("trade idea %d has status %s: %w", ideaID, idea.Status, errors.ErrInvalidStatus)
	}
	if idea.ValidUntil != nil && time.Now().After(*idea.ValidUntil) {
		p.markIdea(ctx, ideaID, models.IdeaExpired, "validity window elapsed", 0)
		return nil, fmt.Errorf("trade idea %d expired: %w", ideaID, errors.ErrInvalidStatus)
	}

	volume := models.DefaultMinLot
	if idea.Volume != nil {
		volume = *idea.Volume
	}
	if p.risk != nil {
		// Market conditions may have moved since the idea was
		// accepted; check it again before committing money.
		opts := risk.SizeOptions{RiskPercentage: idea.RiskPercentage}
		validation := p.risk.ValidateTradeIdea(ctx, idea.Symbol, idea.Direction, idea.EntryPrice, idea.StopLoss, idea.TakeProfit, opts)
		if !validation.Valid {
			p.markIdea(ctx, ideaID, models.IdeaRejected, validation.Reason, 0)
			return nil, fmt.Errorf("trade idea %d rejected: %s", ideaID, validation.Reason)
		}
		if idea.RiskPercentage != nil {
			sized := p.risk.CalculatePositionSize(ctx, idea.Symbol, idea.EntryPrice, idea.StopLoss, opts)
			if sized.Err == "" {
				volume = sized.PositionSize
			}
		}
	}

	order := &models.Order{
		Action:      string(venue.ActionOpenPosition),
		Symbol:      idea.Symbol,
		Direction:   idea.Direction,
		Volume:      volume,
		Price:       idea.EntryPrice,
		StopLoss:    idea.StopLoss,
		TakeProfit:  idea.TakeProfit,
		Magic:       p.magic,
		Comment:     fmt.Sprintf("LLM_Trade_%d", time.Now().Unix()),
		TradeIdeaID: idea.ID,
		AnalysisID:  idea.AnalysisID,
	}

	resp, err := p.SendOrder(ctx, order, SendOptions{})
	if err != nil {
		p.markIdea(ctx, ideaID, models.IdeaFailed, err.Error(), 0)
		return nil, err
	}

	entryPrice := resp.OpenPrice
	if entryPrice == 0 {
		entryPrice = idea.EntryPrice
	}
	entryTime := resp.OpenTime
	if entryTime.IsZero() {
		entryTime = time.Now()
	}

	trade := &models.Trade{
		TradeIdeaID: idea.ID,
		Ticket:      resp.Ticket,
		Symbol:      idea.Symbol,
		Direction:   idea.Direction,
		Volume:      volume,
		EntryPrice:  entryPrice,
		EntryTime:   entryTime,
		StopLoss:    idea.StopLoss,
		TakeProfit:  idea.TakeProfit,
		Status:      models.TradeOpen,
		Comment:     order.Comment,
	}
	tradeID, err := p.store.InsertTrade(ctx, trade)
	if err != nil {
		// The position is open at the venue; surface the persistence
		// failure without marking the idea FAILED.
		p.logger.Error().Err(err).Int64("ticket", resp.Ticket).Msg("Failed to record trade")
		return nil, fmt.Errorf("order filled (ticket %d) but trade not recorded: %w", resp.Ticket, err)
	}
	trade.ID = tradeID

	p.markIdea(ctx, ideaID, models.IdeaExecuted, "", resp.Ticket)
	monitoring.RecordIdea(idea.Symbol, string(models.IdeaExecuted))
	return trade, nil
}

// markIdea applies a terminal status directly; callers already hold the
// idea lock.
func (p *Processor) markIdea(ctx context.Context, ideaID int64, status models.IdeaStatus, reason string, ticket int64) {
	now := time.Now()
	update := store.IdeaUpdate{Status: &status, UpdatedAt: &now}
	if reason != "" {
		update.RejectionReason = &reason
	}
	if ticket != 0 {
		update.Ticket = &ticket
	}
	if status == models.IdeaExecuted {
		update.ExecutedAt = &now
	}
	if err := p.store.UpdateTradeIdea(ctx, ideaID, update); err != nil {
		p.logger.Error().Err(err).Int64("idea_id", ideaID).Str("status", string(status)).Msg("Failed to update trade idea status")
	}
}

// StatusUpdate carries optional fields for a status transition.
type StatusUpdate struct {
	RejectionReason string
	Ticket          int64
}

// UpdateTradeIdeaStatus transitions an idea out of PENDING. Transitions
// from a terminal status are refused so the lifecycle only moves
// forward. Safe for concurrent use; calls for the same idea serialize.
func (p *Processor) UpdateTradeIdeaStatus(ctx context.Context, ideaID int64, status models.IdeaStatus, update StatusUpdate) error {
	if p.store == nil {
		return errors.ErrNoStore
	}

	unlock := p.lockIdea(ideaID)
	defer unlock()

	idea, err := p.store.GetTradeIdea(ctx, ideaID)
	if err != nil {
		return fmt.Errorf("failed to load trade idea %d: %w", ideaID, err)
	}
	if idea == nil {
		return errors.ErrIdeaNotFound
	}
	if idea.Status == status {
		return nil
	}
	if idea.Status.Terminal() {
		return fmt.Errorf("trade idea %d is already %s: %w", ideaID, idea.Status, errors.ErrInvalidStatus)
	}

	p.markIdea(ctx, ideaID, status, update.RejectionReason, update.Ticket)
	monitoring.RecordIdea(idea.Symbol, string(status))
	return nil
}

// ClosePosition closes an open position at the venue and marks the
// corresponding trade closed with its exit price and realized profit.
// The reason is stamped into the close comment; empty defaults to
// "Manual close". With NoWait the trade record is left untouched since
// the exit price is unknown.
func (p *Processor) ClosePosition(ctx context.Context, ticket int64, reason string, opts SendOptions) (*venue.Response, error) {
	if p.connector == nil {
		return nil, errors.ErrNoConnector
	}
	if reason == "" {
		reason = "Manual close"
	}

	pending, err := p.connector.SendCommand(ctx, venue.Command{
		Action:  venue.ActionClosePosition,
		Ticket:  ticket,
		Magic:   p.magic,
		Comment: fmt.Sprintf("LLM_Close_%s_%d", reason, time.Now().Unix()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send close command: %w", err)
	}
	if opts.NoWait {
		p.logger.Info().Int64("ticket", ticket).Str("reason", reason).Msg("Close submitted without waiting for confirmation")
		return &venue.Response{Status: venue.StatusSubmitted, Message: "close submitted, confirmation not awaited"}, nil
	}
	resp, err := pending.Wait(ctx, p.waitTimeout(opts))
	if err != nil {
		return nil, err
	}
	if resp.Status != venue.StatusSuccess {
		return nil, errors.NewVenueError(string(venue.ActionClosePosition), resp.Status, resp.Message)
	}

	if p.store != nil {
		trade, err := p.store.GetTradeByTicket(ctx, ticket)
		if err != nil {
			p.logger.Error().Err(err).Int64("ticket", ticket).Msg("Failed to look up trade for closed position")
		} else if trade != nil {
			closed := models.TradeClosed
			exitTime := resp.CloseTime
			if exitTime.IsZero() {
				exitTime = time.Now()
			}
			update := store.TradeUpdate{
				ExitPrice:  &resp.ClosePrice,
				ExitTime:   &exitTime,
				ProfitLoss: &resp.ProfitLoss,
				Status:     &closed,
			}
			if err := p.store.UpdateTrade(ctx, trade.ID, update); err != nil {
				p.logger.Error().Err(err).Int64("ticket", ticket).Msg("Failed to record trade close")
			}
		}
	}

	p.logger.Info().
		Int64("ticket", ticket).
		Float64("close_price", resp.ClosePrice).
		Float64("profit", resp.ProfitLoss).
		Msg("Position closed")
	return resp, nil
}

// ModifyPosition changes the stop loss and/or take profit of an open
// position. Nil fields are left unchanged at the venue.
func (p *Processor) ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit *float64, opts SendOptions) (*venue.Response, error) {
	if p.connector == nil {
		return nil, errors.ErrNoConnector
	}
	if stopLoss == nil && takeProfit == nil {
		return nil, errors.NewMissingFieldError("stop_loss or take_profit")
	}

	pending, err := p.connector.SendCommand(ctx, venue.Command{
		Action:     venue.ActionModifyPosition,
		Ticket:     ticket,
		Magic:      p.magic,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send modify command: %w", err)
	}
	if opts.NoWait {
		return &venue.Response{Status: venue.StatusSubmitted, Message: "modify submitted, confirmation not awaited"}, nil
	}
	resp, err := pending.Wait(ctx, p.waitTimeout(opts))
	if err != nil {
		return nil, err
	}
	if resp.Status != venue.StatusSuccess {
		return nil, errors.NewVenueError(string(venue.ActionModifyPosition), resp.Status, resp.Message)
	}
	return resp, nil
}

// ExpireOldTradeIdeas marks pending ideas EXPIRED when their validity
// window has passed, or when they are older than maxAge for ideas
// without one. Returns the number of ideas expired.
func (p *Processor) ExpireOldTradeIdeas(ctx context.Context, maxAge time.Duration) (int, error) {
	if p.store == nil {
		return 0, errors.ErrNoStore
	}

	pending, err := p.store.GetTradeIdeas(ctx, store.IdeaFilter{Status: models.IdeaPending})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending trade ideas: %w", err)
	}

	now := time.Now()
	expired := 0
	for _, idea := range pending {
		stale := false
		switch {
		case idea.ValidUntil != nil:
			stale = now.After(*idea.ValidUntil)
		case maxAge > 0:
			stale = now.Sub(idea.CreatedAt) > maxAge
		}
		if !stale {
			continue
		}
		if err := p.UpdateTradeIdeaStatus(ctx, idea.ID, models.IdeaExpired, StatusUpdate{RejectionReason: "validity window elapsed"}); err != nil {
			p.logger.Error().Err(err).Int64("idea_id", idea.ID).Msg("Failed to expire trade idea")
			continue
		}
		expired++
	}

	if expired > 0 {
		p.logger.Info().Int("count", expired).Msg("Expired stale trade ideas")
	}
	return expired, nil
}

// MagicNumber returns the magic number stamped on orders.
func (p *Processor) MagicNumber() int64 {
	return p.magic
}
