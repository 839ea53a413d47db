package analysis

import (
	"context"
	"fmt"
	"time"

	"mt5-trader/internal/models"
)

// TechnicalAnalyzer is a deterministic Analyzer built on moving-average
// and RSI signals. It stands in for the LLM analysis service in paper
// mode and tests, producing the same analysis shape.
type TechnicalAnalyzer struct {
	FastPeriod int
	SlowPeriod int
	RSIPeriod  int
	ATRPeriod  int

	// StopATR and TargetATR size the stop/target distances as ATR
	// multiples. Target must be at least Stop for ideas to pass the
	// minimum risk/reward check downstream.
	StopATR   float64
	TargetATR float64
}

// NewTechnicalAnalyzer creates an analyzer with conventional periods.
func NewTechnicalAnalyzer() *TechnicalAnalyzer {
	return &TechnicalAnalyzer{
		FastPeriod: 20,
		SlowPeriod: 50,
		RSIPeriod:  14,
		ATRPeriod:  14,
		StopATR:    1.5,
		TargetATR:  3.0,
	}
}

// AnalyzeMarket evaluates the candle series and returns an analysis with
// an ENTER signal on a moving-average trend confirmed by RSI, WAIT
// otherwise.
func (a *TechnicalAnalyzer) AnalyzeMarket(ctx context.Context, req Request) (*models.MarketAnalysis, error) {
	if len(req.Candles) == 0 {
		return nil, ErrInsufficientData
	}

	fast, err := SMA(req.Candles, a.FastPeriod)
	if err != nil {
		return nil, fmt.Errorf("fast sma: %w", err)
	}
	slow, err := SMA(req.Candles, a.SlowPeriod)
	if err != nil {
		return nil, fmt.Errorf("slow sma: %w", err)
	}
	rsi, err := RSI(req.Candles, a.RSIPeriod)
	if err != nil {
		return nil, fmt.Errorf("rsi: %w", err)
	}
	atr, err := ATR(req.Candles, a.ATRPeriod)
	if err != nil {
		return nil, fmt.Errorf("atr: %w", err)
	}

	price := req.Candles[len(req.Candles)-1].Close

	result := &models.MarketAnalysis{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Action:    models.ActionWait,
		Indicators: map[string]float64{
			"sma_fast": fast,
			"sma_slow": slow,
			"rsi":      rsi,
			"atr":      atr,
			"close":    price,
		},
		CreatedAt: time.Now(),
	}
	for k, v := range req.Indicators {
		result.Indicators[k] = v
	}

	switch {
	case fast > slow && rsi < 70:
		result.Action = models.ActionEnter
		result.Direction = models.DirectionBuy
		result.EntryPrice = price
		result.StopLoss = price - a.StopATR*atr
		result.TakeProfit = price + a.TargetATR*atr
		result.Confidence = trendConfidence(fast, slow, atr)
		result.Reason = fmt.Sprintf("uptrend: SMA%d %.5f above SMA%d %.5f, RSI %.1f", a.FastPeriod, fast, a.SlowPeriod, slow, rsi)
	case fast < slow && rsi > 30:
		result.Action = models.ActionEnter
		result.Direction = models.DirectionSell
		result.EntryPrice = price
		result.StopLoss = price + a.StopATR*atr
		result.TakeProfit = price - a.TargetATR*atr
		result.Confidence = trendConfidence(slow, fast, atr)
		result.Reason = fmt.Sprintf("downtrend: SMA%d %.5f below SMA%d %.5f, RSI %.1f", a.FastPeriod, fast, a.SlowPeriod, slow, rsi)
	default:
		result.Reason = fmt.Sprintf("no clear trend: RSI %.1f at extreme or flat averages", rsi)
	}

	if result.Action == models.ActionEnter && result.StopLoss <= 0 {
		// Degenerate stop placement on very volatile low-priced data.
		result.Action = models.ActionWait
		result.Reason = "volatility too high for a workable stop"
	}

	return result, nil
}

// trendConfidence maps the separation of the averages, measured in ATR
// units, onto a 0-100 scale.
func trendConfidence(upper, lower, atr float64) float64 {
	if atr <= 0 {
		return 50
	}
	sep := (upper - lower) / atr
	confidence := 50 + sep*20
	if confidence > 95 {
		confidence = 95
	}
	if confidence < 50 {
		confidence = 50
	}
	return confidence
}
