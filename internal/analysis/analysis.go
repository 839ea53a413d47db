// Package analysis provides the market analysis collaborator contract.
// The production analyzer lives in a separate LLM service; this package
// defines the interface the coordinator depends on plus a deterministic
// technical analyzer usable without that service.
package analysis

import (
	"context"

	"mt5-trader/internal/models"
)

// Request carries the market data handed to the analyzer.
type Request struct {
	Symbol     string
	Timeframe  string
	Candles    []models.Candle
	Indicators map[string]float64
}

// Analyzer produces a market analysis, optionally carrying an actionable
// trade signal (action ENTER or EXIT), from price data and indicators.
type Analyzer interface {
	AnalyzeMarket(ctx context.Context, req Request) (*models.MarketAnalysis, error)
}
