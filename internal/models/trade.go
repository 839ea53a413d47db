package models

import "time"

// TradeStatus represents whether a trade is still open at the venue.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade represents a position confirmed by the venue. Created when an
// order confirmation arrives, updated when the position is closed.
type Trade struct {
	ID          int64
	TradeIdeaID int64
	Ticket      int64
	Symbol      string
	Direction   Direction
	Volume      float64
	EntryPrice  float64
	EntryTime   time.Time
	ExitPrice   float64
	ExitTime    *time.Time
	StopLoss    float64
	TakeProfit  float64
	ProfitLoss  *float64
	Status      TradeStatus
	Comment     string
	CreatedAt   time.Time
}

// MarketAnalysis represents a persisted analysis outcome, optionally
// carrying an actionable trade signal.
type MarketAnalysis struct {
	ID          int64
	Symbol      string
	Timeframe   string
	Action      string
	Direction   Direction
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	Ticket      int64
	Reason      string
	Confidence  float64
	Indicators  map[string]float64
	TradeIdeaID int64
	CreatedAt   time.Time
}

// Analysis actions produced by the analysis collaborator.
const (
	ActionEnter = "ENTER"
	ActionExit  = "EXIT"
	ActionWait  = "WAIT"
)
