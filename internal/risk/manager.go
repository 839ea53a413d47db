// Package risk provides position sizing, trade-idea validation, and
// account-wide risk limits. Every operation is read-only against its
// collaborators and safe to call from any goroutine.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"mt5-trader/internal/models"
	"mt5-trader/internal/store"
)

// AccountProvider supplies account and contract data, typically the
// venue connector.
type AccountProvider interface {
	AccountInfo(ctx context.Context) (*models.AccountInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error)
}

// TradeReader reads trade history for daily risk aggregation.
type TradeReader interface {
	GetTrades(ctx context.Context, filter store.TradeFilter) ([]models.Trade, error)
}

// Manager performs risk arithmetic for the trading pipeline.
type Manager struct {
	accounts        AccountProvider
	trades          TradeReader
	maxRiskPerTrade float64
	minRiskReward   float64
	logger          zerolog.Logger
}

// Config holds the risk thresholds.
type Config struct {
	MaxRiskPerTradePct float64
	MinRiskReward      float64
}

// NewManager creates a risk manager. Zero thresholds fall back to 2%
// risk per trade and a 1.0 minimum risk/reward ratio.
func NewManager(accounts AccountProvider, trades TradeReader, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.MaxRiskPerTradePct <= 0 {
		cfg.MaxRiskPerTradePct = 2.0
	}
	if cfg.MinRiskReward <= 0 {
		cfg.MinRiskReward = 1.0
	}
	return &Manager{
		accounts:        accounts,
		trades:          trades,
		maxRiskPerTrade: cfg.MaxRiskPerTradePct,
		minRiskReward:   cfg.MinRiskReward,
		logger:          logger.With().Str("component", "risk").Logger(),
	}
}

// PositionSizeResult contains the computed lot size and its inputs.
// When sizing fails, Err holds the reason and PositionSize holds the
// minimum lot as a conservative fallback; sizing failures are never
// raised as Go errors.
type PositionSizeResult struct {
	PositionSize   float64
	AccountBalance float64
	RiskAmount     float64
	RiskPercentage float64
	PipsRisk       float64
	PipCost        float64
	MinLot         float64
	MaxLot         float64
	LotStep        float64
	Err            string
}

// SizeOptions overrides the balance and risk percentage for one call.
type SizeOptions struct {
	AccountBalance *float64
	RiskPercentage *float64
}

// CalculatePositionSize computes the lot size that puts the configured
// percentage of the balance at risk between entry and stop. The result
// is rounded to the lot step and clamped to the symbol's lot range.
func (m *Manager) CalculatePositionSize(ctx context.Context, symbol string, entryPrice, stopLoss float64, opts SizeOptions) PositionSizeResult {
	result := PositionSizeResult{
		PositionSize: models.DefaultMinLot,
		MinLot:       models.DefaultMinLot,
		MaxLot:       models.DefaultMaxLot,
		LotStep:      models.DefaultLotStep,
	}

	balance, err := m.resolveBalance(ctx, opts.AccountBalance)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	result.AccountBalance = balance

	riskPct := m.maxRiskPerTrade
	if opts.RiskPercentage != nil {
		riskPct = *opts.RiskPercentage
	}
	result.RiskPercentage = riskPct

	priceDistance := math.Abs(entryPrice - stopLoss)
	if priceDistance <= 0 {
		result.Err = "entry price and stop loss must differ"
		return result
	}

	info, err := m.symbolInfo(ctx, symbol)
	if err != nil {
		result.Err = fmt.Sprintf("cannot get symbol info for %s: %v", symbol, err)
		return result
	}
	result.MinLot = info.MinLot
	result.MaxLot = info.MaxLot
	result.LotStep = info.LotStep
	result.PositionSize = info.MinLot

	riskAmount := balance * (riskPct / 100)
	pipsRisk := priceDistance / info.PipSize
	pipCost := info.ContractSize * info.PipSize

	result.RiskAmount = riskAmount
	result.PipsRisk = pipsRisk
	result.PipCost = pipCost

	lotSize := info.MinLot
	if pipsRisk > 0 && pipCost > 0 {
		lotSize = riskAmount / (pipsRisk * pipCost)
	}

	// Round to the lot step, then clamp into the allowed range.
	lotSize = math.Round(lotSize/info.LotStep) * info.LotStep
	lotSize = math.Max(info.MinLot, math.Min(lotSize, info.MaxLot))

	result.PositionSize = lotSize
	return result
}

func (m *Manager) resolveBalance(ctx context.Context, override *float64) (float64, error) {
	if override != nil {
		if *override <= 0 {
			return 0, fmt.Errorf("invalid account balance: %v", *override)
		}
		return *override, nil
	}
	if m.accounts == nil {
		return 0, fmt.Errorf("no account provider configured")
	}
	info, err := m.accounts.AccountInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot get account info: %v", err)
	}
	if info == nil || info.Balance <= 0 {
		return 0, fmt.Errorf("invalid account balance")
	}
	return info.Balance, nil
}

func (m *Manager) symbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	if m.accounts == nil {
		return nil, fmt.Errorf("no account provider configured")
	}
	info, err := m.accounts.SymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("symbol info unavailable")
	}
	return info, nil
}

// ValidationResult is the outcome of validating a trade idea. Ephemeral:
// produced per call, never persisted on its own.
type ValidationResult struct {
	Valid          bool
	Reason         string
	PositionSize   float64
	RiskReward     float64
	RiskPercentage float64
	PipsRisk       float64
}

// ValidateTradeIdea checks a proposed position against the risk rules:
// known direction, positive prices, price ordering consistent with the
// direction, sufficient risk/reward, and a computable position size.
func (m *Manager) ValidateTradeIdea(ctx context.Context, symbol string, direction models.Direction, entryPrice, stopLoss, takeProfit float64, opts SizeOptions) ValidationResult {
	if !direction.Valid() {
		return ValidationResult{Reason: fmt.Sprintf("invalid direction: %s", direction)}
	}

	if entryPrice <= 0 || stopLoss <= 0 || takeProfit <= 0 {
		return ValidationResult{Reason: "prices must be greater than zero"}
	}

	var orderedOK bool
	if direction == models.DirectionBuy {
		orderedOK = stopLoss < entryPrice && entryPrice < takeProfit
	} else {
		orderedOK = stopLoss > entryPrice && entryPrice > takeProfit
	}
	if !orderedOK {
		return ValidationResult{Reason: fmt.Sprintf("invalid price levels for %s: stop loss and take profit must bracket the entry", direction)}
	}

	riskDistance := math.Abs(entryPrice - stopLoss)
	rewardDistance := math.Abs(takeProfit - entryPrice)

	riskReward := rewardDistance / riskDistance
	if riskReward < m.minRiskReward {
		return ValidationResult{
			Reason:     fmt.Sprintf("risk/reward ratio too low: %.2f", riskReward),
			RiskReward: riskReward,
		}
	}

	sizing := m.CalculatePositionSize(ctx, symbol, entryPrice, stopLoss, opts)
	if sizing.Err != "" {
		return ValidationResult{Reason: sizing.Err, RiskReward: riskReward}
	}

	return ValidationResult{
		Valid:          true,
		RiskReward:     riskReward,
		PositionSize:   sizing.PositionSize,
		RiskPercentage: sizing.RiskPercentage,
		PipsRisk:       sizing.PipsRisk,
	}
}

// DailyRiskReport aggregates today's realized and potential losses as a
// share of the account balance. Computed on demand, never persisted.
type DailyRiskReport struct {
	LimitExceeded   bool
	CurrentRisk     float64
	RiskLimit       float64
	RemainingRisk   float64
	TotalRiskAmount float64
	AccountBalance  float64
	Reason          string
}

// Pip conventions for potential-loss estimation on open positions: a
// 4-digit quote and 0.1 account-currency per pip per standard lot.
const (
	estimationPipSize   = 0.0001
	estimationPipValue  = 0.1
	dailyTradeScanLimit = 100
)

// CheckDailyRiskLimit scans trades entered today. Closed losing trades
// contribute their realized loss; open trades contribute their
// stop-distance loss estimate. The limit is exceeded when the total
// reaches limitPct of the balance. An unobtainable balance is reported
// conservatively as exceeded.
func (m *Manager) CheckDailyRiskLimit(ctx context.Context, limitPct float64) DailyRiskReport {
	report := DailyRiskReport{RiskLimit: limitPct, RemainingRisk: limitPct}

	todayTrades := m.todaysTrades(ctx)
	if len(todayTrades) == 0 {
		return report
	}

	balance, err := m.resolveBalance(ctx, nil)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Daily risk check without balance, reporting limit exceeded")
		return DailyRiskReport{
			LimitExceeded: true,
			RiskLimit:     limitPct,
			Reason:        "cannot get account balance",
		}
	}
	report.AccountBalance = balance

	totalRisk := 0.0
	for _, trade := range todayTrades {
		switch trade.Status {
		case models.TradeClosed:
			if trade.ProfitLoss != nil && *trade.ProfitLoss < 0 {
				totalRisk += math.Abs(*trade.ProfitLoss)
			}
		case models.TradeOpen:
			pipsRisk := math.Abs(trade.EntryPrice-trade.StopLoss) / estimationPipSize
			totalRisk += pipsRisk * estimationPipValue * trade.Volume
		}
	}

	report.TotalRiskAmount = totalRisk
	report.CurrentRisk = totalRisk / balance * 100
	report.LimitExceeded = report.CurrentRisk >= limitPct
	report.RemainingRisk = math.Max(0, limitPct-report.CurrentRisk)
	if report.LimitExceeded {
		report.Reason = fmt.Sprintf("daily risk %.2f%% at or above limit %.2f%%", report.CurrentRisk, limitPct)
	}
	return report
}

// todaysTrades returns recent trades whose entry time falls on the
// current local calendar day.
func (m *Manager) todaysTrades(ctx context.Context) []models.Trade {
	if m.trades == nil {
		return nil
	}

	recent, err := m.trades.GetTrades(ctx, store.TradeFilter{Limit: dailyTradeScanLimit})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to read trade history")
		return nil
	}

	today := time.Now()
	var out []models.Trade
	for _, trade := range recent {
		y1, m1, d1 := trade.EntryTime.Date()
		y2, m2, d2 := today.Date()
		if y1 == y2 && m1 == m2 && d1 == d2 {
			out = append(out, trade)
		}
	}
	return out
}

// MinRiskReward returns the configured minimum risk/reward ratio.
func (m *Manager) MinRiskReward() float64 {
	return m.minRiskReward
}

// MaxRiskPerTrade returns the configured default risk percentage.
func (m *Manager) MaxRiskPerTrade() float64 {
	return m.maxRiskPerTrade
}
