package models

// Order is the payload built per submission to the venue. Orders are
// transient: only the resulting Trade or response is persisted.
type Order struct {
	Action      string
	Symbol      string
	Direction   Direction
	Volume      float64
	Price       float64
	StopLoss    float64
	TakeProfit  float64
	Ticket      int64
	Magic       int64
	Comment     string
	TradeIdeaID int64
	AnalysisID  int64
}
