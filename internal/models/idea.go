package models

import "time"

// IdeaStatus represents the lifecycle state of a trade idea.
type IdeaStatus string

const (
	IdeaPending  IdeaStatus = "PENDING"
	IdeaExecuted IdeaStatus = "EXECUTED"
	IdeaRejected IdeaStatus = "REJECTED"
	IdeaExpired  IdeaStatus = "EXPIRED"
	IdeaFailed   IdeaStatus = "FAILED"
)

// Terminal reports whether an idea in this status can no longer change.
// PENDING is the only non-terminal state.
func (s IdeaStatus) Terminal() bool {
	return s != IdeaPending
}

// TradeIdea is a proposed position awaiting risk validation and execution.
// Status is mutated only through OrderProcessor.UpdateTradeIdeaStatus.
type TradeIdea struct {
	ID              int64
	AnalysisID      int64
	Symbol          string
	Direction       Direction
	EntryPrice      float64
	StopLoss        float64
	TakeProfit      float64
	RiskReward      float64
	RiskPercentage  *float64
	Volume          *float64
	Status          IdeaStatus
	RejectionReason string
	Ticket          int64
	Timeframe       string
	Strategy        string
	Source          string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExecutedAt      *time.Time
	ValidUntil      *time.Time
}

// ComputeRiskReward returns reward distance over risk distance for the
// idea's direction, or 0 when the risk distance is not positive.
func (ti *TradeIdea) ComputeRiskReward() float64 {
	var risk, reward float64
	if ti.Direction == DirectionBuy {
		risk = ti.EntryPrice - ti.StopLoss
		reward = ti.TakeProfit - ti.EntryPrice
	} else {
		risk = ti.StopLoss - ti.EntryPrice
		reward = ti.EntryPrice - ti.TakeProfit
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}
