// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"mt5-trader/internal/models"
)

// Store defines the interface for pipeline persistence.
type Store interface {
	// Trade ideas
	InsertTradeIdea(ctx context.Context, idea *models.TradeIdea) (int64, error)
	GetTradeIdea(ctx context.Context, id int64) (*models.TradeIdea, error)
	GetTradeIdeas(ctx context.Context, filter IdeaFilter) ([]models.TradeIdea, error)
	UpdateTradeIdea(ctx context.Context, id int64, fields IdeaUpdate) error
	GetTradeIdeaStats(ctx context.Context) (map[models.IdeaStatus]int, error)

	// Trades
	InsertTrade(ctx context.Context, trade *models.Trade) (int64, error)
	UpdateTrade(ctx context.Context, id int64, fields TradeUpdate) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	GetTradeByTicket(ctx context.Context, ticket int64) (*models.Trade, error)

	// Analyses
	InsertAnalysis(ctx context.Context, analysis *models.MarketAnalysis) (int64, error)

	// Audit log
	InsertLog(ctx context.Context, level, component, message string) error

	// Lifecycle
	Close() error
}

// IdeaFilter represents filters for querying trade ideas.
type IdeaFilter struct {
	Symbol string
	Status models.IdeaStatus
	Limit  int
}

// IdeaUpdate represents a partial update of a trade idea. Nil fields are
// left untouched.
type IdeaUpdate struct {
	Status          *models.IdeaStatus
	RejectionReason *string
	Ticket          *int64
	UpdatedAt       *time.Time
	ExecutedAt      *time.Time
}

// TradeUpdate represents a partial update of a trade.
type TradeUpdate struct {
	ExitPrice  *float64
	ExitTime   *time.Time
	ProfitLoss *float64
	Status     *models.TradeStatus
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol    string
	Status    models.TradeStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
