// Package coordinator orchestrates the trading pipeline: it schedules
// market analysis, routes analysis results through risk checks into
// orders, and runs the background monitoring loop.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mt5-trader/internal/analysis"
	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
	"mt5-trader/internal/monitoring"
	"mt5-trader/internal/orders"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/store"
	"mt5-trader/internal/venue"
)

// Dispatch actions reported by ProcessAnalysisResult.
const (
	ActionNone              = "NONE"
	ActionWait              = "WAIT"
	ActionEnterPrepared     = "ENTER_PREPARED"
	ActionEnterExecuted     = "ENTER_EXECUTED"
	ActionEnterFailed       = "ENTER_FAILED"
	ActionRiskLimitExceeded = "RISK_LIMIT_EXCEEDED"
	ActionExitPrepared      = "EXIT_PREPARED"
	ActionExitExecuted      = "EXIT_EXECUTED"
	ActionExitFailed        = "EXIT_FAILED"
	ActionUnknown           = "UNKNOWN"
)

const (
	analysisCandleCount = 100
	errorBackoff        = 10 * time.Second
	stopTimeout         = 5 * time.Second
)

// Config carries the coordinator's scheduling and risk settings.
type Config struct {
	Symbols           []string
	Timeframes        []string
	AnalysisInterval  time.Duration
	DailyRiskLimitPct float64
	AutoTrade         bool
	IdeaMaxAge        time.Duration
}

// Coordinator wires the analyzer, risk manager, order processor, store,
// and venue connector into one pipeline. Scheduling state is guarded by
// an internal mutex; all exported methods are safe for concurrent use.
type Coordinator struct {
	connector venue.Connector
	store     store.Store
	analyzer  analysis.Analyzer
	risk      *risk.Manager
	orders    *orders.Processor
	cfg       Config
	logger    zerolog.Logger

	mu           sync.Mutex
	lastAnalysis map[string]time.Time
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// New creates a coordinator. A zero analysis interval falls back to
// five minutes.
func New(connector venue.Connector, st store.Store, analyzer analysis.Analyzer, riskMgr *risk.Manager, proc *orders.Processor, cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = 5 * time.Minute
	}
	if cfg.DailyRiskLimitPct <= 0 {
		cfg.DailyRiskLimitPct = 5.0
	}
	return &Coordinator{
		connector:    connector,
		store:        st,
		analyzer:     analyzer,
		risk:         riskMgr,
		orders:       proc,
		cfg:          cfg,
		logger:       logger.With().Str("component", "coordinator").Logger(),
		lastAnalysis: make(map[string]time.Time),
	}
}

// shouldAnalyze consumes the debounce slot for symbol+timeframe. It
// returns false while the analysis interval since the last run has not
// elapsed, unless force is set.
func (c *Coordinator) shouldAnalyze(symbol, timeframe string, force bool) bool {
	key := symbol + "_" + timeframe
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !force {
		if last, ok := c.lastAnalysis[key]; ok && now.Sub(last) < c.cfg.AnalysisInterval {
			return false
		}
	}
	c.lastAnalysis[key] = now
	return true
}

// AnalyzeMarket runs one analysis for a symbol and timeframe. Runs
// inside the debounce window return (nil, nil). The analysis is
// persisted; when it recommends entering, the derived trade idea is run
// through the order processor and its id attached to the result.
func (c *Coordinator) AnalyzeMarket(ctx context.Context, symbol, timeframe string, force bool) (*models.MarketAnalysis, error) {
	if c.connector == nil {
		return nil, errors.ErrNoConnector
	}
	if c.analyzer == nil {
		return nil, errors.ErrNoAnalyzer
	}
	if !c.shouldAnalyze(symbol, timeframe, force) {
		c.logger.Debug().Str("symbol", symbol).Str("timeframe", timeframe).Msg("Analysis skipped, interval not elapsed")
		return nil, nil
	}

	candles, err := c.connector.Candles(ctx, symbol, timeframe, analysisCandleCount)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s %s: %w", symbol, timeframe, err)
	}
	if len(candles) == 0 {
		return nil, errors.ErrNoData
	}

	result, err := c.analyzer.AnalyzeMarket(ctx, analysis.Request{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Candles:    candles,
		Indicators: buildIndicators(candles),
	})
	if err != nil {
		return nil, fmt.Errorf("analysis failed for %s %s: %w", symbol, timeframe, err)
	}

	monitoring.RecordAnalysis(symbol, result.Action)

	if c.store != nil {
		id, err := c.store.InsertAnalysis(ctx, result)
		if err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist analysis")
		} else {
			result.ID = id
		}
	}

	if result.Action == models.ActionEnter && c.orders != nil {
		idea := ideaFromAnalysis(result, timeframe)
		proc, err := c.orders.ProcessTradeIdea(ctx, idea)
		if err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to process derived trade idea")
		} else {
			result.TradeIdeaID = proc.IdeaID
		}
	}

	c.logger.Info().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Str("action", result.Action).
		Float64("confidence", result.Confidence).
		Msg("Market analysis complete")
	return result, nil
}

func buildIndicators(candles []models.Candle) map[string]float64 {
	indicators := make(map[string]float64)
	if v, err := analysis.SMA(candles, 50); err == nil {
		indicators["sma_50"] = v
	}
	if v, err := analysis.EMA(candles, 20); err == nil {
		indicators["ema_20"] = v
	}
	if v, err := analysis.RSI(candles, 14); err == nil {
		indicators["rsi"] = v
	}
	if v, err := analysis.ATR(candles, 14); err == nil {
		indicators["atr"] = v
	}
	return indicators
}

func ideaFromAnalysis(a *models.MarketAnalysis, timeframe string) *models.TradeIdea {
	idea := &models.TradeIdea{
		AnalysisID: a.ID,
		Symbol:     a.Symbol,
		Direction:  a.Direction,
		EntryPrice: a.EntryPrice,
		StopLoss:   a.StopLoss,
		TakeProfit: a.TakeProfit,
		Timeframe:  timeframe,
		Source:     "analysis",
		Notes:      a.Reason,
	}
	idea.RiskReward = idea.ComputeRiskReward()
	return idea
}

// Result is the outcome of dispatching one analysis.
type Result struct {
	Success    bool
	Action     string
	Message    string
	IdeaID     int64
	Ticket     int64
	Trade      *models.Trade
	RiskReport *risk.DailyRiskReport
}

// ProcessAnalysisResult dispatches an analysis: WAIT is informational,
// ENTER routes the idea through validation and, with autoTrade, the
// daily risk gate and execution, EXIT closes the referenced position.
// Without autoTrade nothing is sent to the venue; prepared actions are
// reported instead.
func (c *Coordinator) ProcessAnalysisResult(ctx context.Context, a *models.MarketAnalysis, autoTrade bool) *Result {
	if a == nil {
		return &Result{Action: ActionNone, Message: "no analysis result"}
	}

	switch strings.ToUpper(a.Action) {
	case models.ActionWait:
		return &Result{Success: true, Action: ActionWait, Message: a.Reason}

	case models.ActionEnter:
		return c.processEnter(ctx, a, autoTrade)

	case models.ActionExit:
		return c.processExit(ctx, a, autoTrade)

	default:
		return &Result{Action: ActionUnknown, Message: fmt.Sprintf("unrecognized action: %s", a.Action)}
	}
}

func (c *Coordinator) processEnter(ctx context.Context, a *models.MarketAnalysis, autoTrade bool) *Result {
	if c.orders == nil {
		return &Result{Action: ActionEnterFailed, Message: "order processor not configured"}
	}

	ideaID := a.TradeIdeaID
	if ideaID == 0 {
		proc, err := c.orders.ProcessTradeIdea(ctx, ideaFromAnalysis(a, a.Timeframe))
		if err != nil {
			return &Result{Action: ActionEnterFailed, Message: err.Error()}
		}
		if !proc.Accepted {
			return &Result{Action: ActionEnterFailed, Message: proc.Reason, IdeaID: proc.IdeaID}
		}
		ideaID = proc.IdeaID
	}

	if !autoTrade {
		return &Result{Success: true, Action: ActionEnterPrepared, Message: "trade idea prepared, auto trade disabled", IdeaID: ideaID}
	}

	if c.risk != nil {
		report := c.risk.CheckDailyRiskLimit(ctx, c.cfg.DailyRiskLimitPct)
		monitoring.SetDailyRisk(report.CurrentRisk)
		if report.LimitExceeded {
			c.logger.Warn().Float64("current_risk", report.CurrentRisk).Msg("Daily risk limit exceeded")
			return &Result{Action: ActionRiskLimitExceeded, Message: report.Reason, IdeaID: ideaID, RiskReport: &report}
		}
	}

	trade, err := c.orders.ExecuteTradeIdea(ctx, ideaID)
	if err != nil {
		return &Result{Action: ActionEnterFailed, Message: err.Error(), IdeaID: ideaID}
	}
	return &Result{Success: true, Action: ActionEnterExecuted, IdeaID: ideaID, Ticket: trade.Ticket, Trade: trade}
}

func (c *Coordinator) processExit(ctx context.Context, a *models.MarketAnalysis, autoTrade bool) *Result {
	if a.Ticket == 0 {
		return &Result{Action: ActionExitFailed, Message: "no position ticket to close"}
	}
	if !autoTrade {
		return &Result{Success: true, Action: ActionExitPrepared, Message: "close prepared, auto trade disabled", Ticket: a.Ticket}
	}
	if c.orders == nil {
		return &Result{Action: ActionExitFailed, Message: "order processor not configured"}
	}

	reason := a.Reason
	if reason == "" {
		reason = "Analysis"
	}
	resp, err := c.orders.ClosePosition(ctx, a.Ticket, reason, orders.SendOptions{})
	if err != nil {
		return &Result{Action: ActionExitFailed, Message: err.Error(), Ticket: a.Ticket}
	}
	return &Result{Success: true, Action: ActionExitExecuted, Message: resp.Message, Ticket: a.Ticket}
}

// AnalysisRun pairs one symbol+timeframe analysis with its dispatch.
type AnalysisRun struct {
	Symbol     string
	Timeframe  string
	Analysis   *models.MarketAnalysis
	Processing *Result
}

// RunMarketAnalysis analyzes the cross product of the given symbol and
// timeframe, or the configured ones when empty, and dispatches each
// result. Debounced combinations are omitted from the results.
func (c *Coordinator) RunMarketAnalysis(ctx context.Context, symbol, timeframe string, autoTrade bool) ([]AnalysisRun, error) {
	symbols := c.cfg.Symbols
	if symbol != "" {
		symbols = []string{symbol}
	}
	timeframes := c.cfg.Timeframes
	if timeframe != "" {
		timeframes = []string{timeframe}
	}

	var runs []AnalysisRun
	for _, sym := range symbols {
		for _, tf := range timeframes {
			if err := ctx.Err(); err != nil {
				return runs, err
			}
			result, err := c.AnalyzeMarket(ctx, sym, tf, false)
			if err != nil {
				c.logger.Error().Err(err).Str("symbol", sym).Str("timeframe", tf).Msg("Market analysis failed")
				monitoring.RecordError("coordinator")
				c.logToStore(ctx, "ERROR", fmt.Sprintf("analysis %s %s: %v", sym, tf, err))
				continue
			}
			if result == nil {
				continue
			}
			runs = append(runs, AnalysisRun{
				Symbol:     sym,
				Timeframe:  tf,
				Analysis:   result,
				Processing: c.ProcessAnalysisResult(ctx, result, autoTrade),
			})
		}
	}
	return runs, nil
}

// ManageOpenPositions fetches open positions from the venue, refreshes
// the position gauge, and logs each position. Extension point for
// trailing stop logic.
func (c *Coordinator) ManageOpenPositions(ctx context.Context) error {
	if c.connector == nil {
		return errors.ErrNoConnector
	}
	positions, err := c.connector.Positions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch open positions: %w", err)
	}

	monitoring.SetOpenPositions(len(positions))
	for _, pos := range positions {
		c.logger.Debug().
			Int64("ticket", pos.Ticket).
			Str("symbol", pos.Symbol).
			Float64("profit", pos.Profit).
			Msg("Managing open position")
	}
	return nil
}

// ExecuteTradeIdea re-validates a pending idea and executes it. A
// failed re-validation marks the idea REJECTED; execution outcome marks
// it EXECUTED or FAILED via the order processor.
func (c *Coordinator) ExecuteTradeIdea(ctx context.Context, ideaID int64) (*models.Trade, error) {
	if c.store == nil {
		return nil, errors.ErrNoStore
	}
	if c.orders == nil {
		return nil, fmt.Errorf("order processor not configured")
	}

	idea, err := c.store.GetTradeIdea(ctx, ideaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade idea %d: %w", ideaID, err)
	}
	if idea == nil {
		return nil, errors.ErrIdeaNotFound
	}
	if idea.Status != models.IdeaPending {
		return nil, fmt.Errorf("trade idea %d has status %s: %w", ideaID, idea.Status, errors.ErrInvalidStatus)
	}

	// Re-validation and re-sizing happen inside the order processor,
	// which owns the idea lifecycle.
	return c.orders.ExecuteTradeIdea(ctx, ideaID)
}

// StartMonitoring launches the background monitoring loop. Only one
// loop runs per coordinator; a second start reports ErrAlreadyRunning.
func (c *Coordinator) StartMonitoring(autoTrade bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.monitoringLoop(ctx, autoTrade, c.done)
	c.logger.Info().Bool("auto_trade", autoTrade).Msg("Market monitoring started")
	return nil
}

// StopMonitoring signals the loop to stop and waits up to a bounded
// timeout for it to exit.
func (c *Coordinator) StopMonitoring() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errors.ErrNotRunning
	}
	cancel := c.cancel
	done := c.done
	c.running = false
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		c.logger.Info().Msg("Market monitoring stopped")
		return nil
	case <-time.After(stopTimeout):
		return errors.ErrStopTimeout
	}
}

// Running reports whether the monitoring loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) monitoringLoop(ctx context.Context, autoTrade bool, done chan<- struct{}) {
	defer close(done)
	c.logger.Info().Bool("auto_trade", autoTrade).Msg("Monitoring loop started")

	for {
		if err := c.monitoringPass(ctx, autoTrade); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error().Err(err).Msg("Monitoring pass failed")
			monitoring.RecordError("coordinator")
			c.logToStore(ctx, "ERROR", fmt.Sprintf("monitoring loop: %v", err))
			if !sleepCtx(ctx, errorBackoff) {
				break
			}
			continue
		}
		if !sleepCtx(ctx, c.cfg.AnalysisInterval) {
			break
		}
	}

	c.logger.Info().Msg("Monitoring loop finished")
}

func (c *Coordinator) monitoringPass(ctx context.Context, autoTrade bool) error {
	if _, err := c.RunMarketAnalysis(ctx, "", "", autoTrade); err != nil {
		return err
	}
	if err := c.ManageOpenPositions(ctx); err != nil {
		return err
	}
	if c.orders != nil && c.cfg.IdeaMaxAge > 0 {
		if _, err := c.orders.ExpireOldTradeIdeas(ctx, c.cfg.IdeaMaxAge); err != nil {
			return err
		}
	}
	if c.connector != nil {
		if info, err := c.connector.AccountInfo(ctx); err == nil && info != nil {
			monitoring.SetAccountBalance(info.Balance)
		}
	}
	return nil
}

func (c *Coordinator) logToStore(ctx context.Context, level, message string) {
	if c.store == nil {
		return
	}
	if err := c.store.InsertLog(ctx, level, "coordinator", message); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to write audit log")
	}
}

// sleepCtx waits for d, returning false when the context is cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
