package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mt5-trader/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Trade ideas awaiting or past execution
	CREATE TABLE IF NOT EXISTS trade_ideas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id INTEGER,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		risk_reward REAL,
		risk_percentage REAL,
		volume REAL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		rejection_reason TEXT,
		ticket INTEGER,
		timeframe TEXT,
		strategy TEXT,
		source TEXT,
		notes TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		executed_at DATETIME,
		valid_until DATETIME
	);

	-- Trades confirmed by the venue
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_idea_id INTEGER,
		ticket INTEGER,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		volume REAL NOT NULL,
		entry_price REAL NOT NULL,
		entry_time DATETIME NOT NULL,
		exit_price REAL,
		exit_time DATETIME,
		stop_loss REAL,
		take_profit REAL,
		profit_loss REAL,
		status TEXT NOT NULL DEFAULT 'open',
		comment TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (trade_idea_id) REFERENCES trade_ideas(id)
	);

	-- Market analyses
	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		action TEXT,
		direction TEXT,
		entry_price REAL,
		stop_loss REAL,
		take_profit REAL,
		reason TEXT,
		confidence REAL,
		indicators TEXT,
		created_at DATETIME NOT NULL
	);

	-- Audit log
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		level TEXT NOT NULL,
		component TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ideas_symbol ON trade_ideas(symbol);
	CREATE INDEX IF NOT EXISTS idx_ideas_status ON trade_ideas(status);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
	CREATE INDEX IF NOT EXISTS idx_analyses_symbol ON analyses(symbol, timeframe);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Trade Idea Methods
// ============================================================================

// InsertTradeIdea saves a trade idea and returns its id.
func (s *SQLiteStore) InsertTradeIdea(ctx context.Context, idea *models.TradeIdea) (int64, error) {
	now := time.Now()
	if idea.CreatedAt.IsZero() {
		idea.CreatedAt = now
	}
	if idea.UpdatedAt.IsZero() {
		idea.UpdatedAt = now
	}
	if idea.Status == "" {
		idea.Status = models.IdeaPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_ideas (analysis_id, symbol, direction, entry_price, stop_loss, take_profit,
			risk_reward, risk_percentage, volume, status, rejection_reason, ticket, timeframe,
			strategy, source, notes, created_at, updated_at, executed_at, valid_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, idea.AnalysisID, idea.Symbol, idea.Direction, idea.EntryPrice, idea.StopLoss, idea.TakeProfit,
		idea.RiskReward, idea.RiskPercentage, idea.Volume, idea.Status, nullString(idea.RejectionReason),
		nullInt(idea.Ticket), nullString(idea.Timeframe), nullString(idea.Strategy),
		nullString(idea.Source), nullString(idea.Notes), idea.CreatedAt, idea.UpdatedAt,
		idea.ExecutedAt, idea.ValidUntil)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade idea: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade idea id: %w", err)
	}
	idea.ID = id
	return id, nil
}

const ideaColumns = `id, analysis_id, symbol, direction, entry_price, stop_loss, take_profit,
	risk_reward, risk_percentage, volume, status, rejection_reason, ticket, timeframe,
	strategy, source, notes, created_at, updated_at, executed_at, valid_until`

// GetTradeIdea retrieves a trade idea by id. Returns nil when not found.
func (s *SQLiteStore) GetTradeIdea(ctx context.Context, id int64) (*models.TradeIdea, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM trade_ideas WHERE id = ?`, id)
	idea, err := scanIdea(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade idea: %w", err)
	}
	return idea, nil
}

// GetTradeIdeas retrieves trade ideas matching the filter, newest first.
func (s *SQLiteStore) GetTradeIdeas(ctx context.Context, filter IdeaFilter) ([]models.TradeIdea, error) {
	query := `SELECT ` + ideaColumns + ` FROM trade_ideas WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade ideas: %w", err)
	}
	defer rows.Close()

	var ideas []models.TradeIdea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade idea: %w", err)
		}
		ideas = append(ideas, *idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade ideas: %w", err)
	}
	return ideas, nil
}

// UpdateTradeIdea applies a partial update to a trade idea.
func (s *SQLiteStore) UpdateTradeIdea(ctx context.Context, id int64, fields IdeaUpdate) error {
	sets := []string{}
	args := []interface{}{}

	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *fields.Status)
	}
	if fields.RejectionReason != nil {
		sets = append(sets, "rejection_reason = ?")
		args = append(args, *fields.RejectionReason)
	}
	if fields.Ticket != nil {
		sets = append(sets, "ticket = ?")
		args = append(args, *fields.Ticket)
	}
	if fields.UpdatedAt != nil {
		sets = append(sets, "updated_at = ?")
		args = append(args, *fields.UpdatedAt)
	}
	if fields.ExecutedAt != nil {
		sets = append(sets, "executed_at = ?")
		args = append(args, *fields.ExecutedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	_, err := s.db.ExecContext(ctx,
		"UPDATE trade_ideas SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update trade idea: %w", err)
	}
	return nil
}

// GetTradeIdeaStats returns a count of ideas per status.
func (s *SQLiteStore) GetTradeIdeaStats(ctx context.Context) (map[models.IdeaStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM trade_ideas GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query idea stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.IdeaStatus]int)
	for rows.Next() {
		var status models.IdeaStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan idea stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ============================================================================
// Trade Methods
// ============================================================================

// InsertTrade saves a confirmed trade and returns its id.
func (s *SQLiteStore) InsertTrade(ctx context.Context, trade *models.Trade) (int64, error) {
	if trade.Status == "" {
		trade.Status = models.TradeOpen
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (trade_idea_id, ticket, symbol, direction, volume, entry_price,
			entry_time, exit_price, exit_time, stop_loss, take_profit, profit_loss, status, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.TradeIdeaID, trade.Ticket, trade.Symbol, trade.Direction, trade.Volume,
		trade.EntryPrice, trade.EntryTime, trade.ExitPrice, trade.ExitTime,
		trade.StopLoss, trade.TakeProfit, trade.ProfitLoss, trade.Status, nullString(trade.Comment))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}
	trade.ID = id
	return id, nil
}

// UpdateTrade applies a partial update to a trade.
func (s *SQLiteStore) UpdateTrade(ctx context.Context, id int64, fields TradeUpdate) error {
	sets := []string{}
	args := []interface{}{}

	if fields.ExitPrice != nil {
		sets = append(sets, "exit_price = ?")
		args = append(args, *fields.ExitPrice)
	}
	if fields.ExitTime != nil {
		sets = append(sets, "exit_time = ?")
		args = append(args, *fields.ExitTime)
	}
	if fields.ProfitLoss != nil {
		sets = append(sets, "profit_loss = ?")
		args = append(args, *fields.ProfitLoss)
	}
	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *fields.Status)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	_, err := s.db.ExecContext(ctx,
		"UPDATE trades SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	return nil
}

const tradeColumns = `id, trade_idea_id, ticket, symbol, direction, volume, entry_price,
	entry_time, exit_price, exit_time, stop_loss, take_profit, profit_loss, status, comment, created_at`

// GetTrades retrieves trades matching the filter, newest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// GetTradeByTicket retrieves the trade holding a venue ticket. Returns
// nil when not found.
func (s *SQLiteStore) GetTradeByTicket(ctx context.Context, ticket int64) (*models.Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE ticket = ?`, ticket)
	trade, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade by ticket: %w", err)
	}
	return trade, nil
}

// ============================================================================
// Analysis & Log Methods
// ============================================================================

// InsertAnalysis saves a market analysis and returns its id.
func (s *SQLiteStore) InsertAnalysis(ctx context.Context, analysis *models.MarketAnalysis) (int64, error) {
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}

	indicators, _ := json.Marshal(analysis.Indicators)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (symbol, timeframe, action, direction, entry_price, stop_loss,
			take_profit, reason, confidence, indicators, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, analysis.Symbol, analysis.Timeframe, analysis.Action, analysis.Direction,
		analysis.EntryPrice, analysis.StopLoss, analysis.TakeProfit, analysis.Reason,
		analysis.Confidence, string(indicators), analysis.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analysis: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read analysis id: %w", err)
	}
	analysis.ID = id
	return id, nil
}

// InsertLog saves an audit log entry.
func (s *SQLiteStore) InsertLog(ctx context.Context, level, component, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (level, component, message) VALUES (?, ?, ?)`,
		level, component, message)
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

// ============================================================================
// Scan helpers
// ============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdea(row rowScanner) (*models.TradeIdea, error) {
	var idea models.TradeIdea
	var analysisID, ticket sql.NullInt64
	var riskReward, riskPct, volume sql.NullFloat64
	var rejection, timeframe, strategy, source, notes sql.NullString
	var executedAt, validUntil sql.NullTime

	err := row.Scan(&idea.ID, &analysisID, &idea.Symbol, &idea.Direction, &idea.EntryPrice,
		&idea.StopLoss, &idea.TakeProfit, &riskReward, &riskPct, &volume, &idea.Status,
		&rejection, &ticket, &timeframe, &strategy, &source, &notes,
		&idea.CreatedAt, &idea.UpdatedAt, &executedAt, &validUntil)
	if err != nil {
		return nil, err
	}

	idea.AnalysisID = analysisID.Int64
	idea.RiskReward = riskReward.Float64
	if riskPct.Valid {
		idea.RiskPercentage = &riskPct.Float64
	}
	if volume.Valid {
		idea.Volume = &volume.Float64
	}
	idea.RejectionReason = rejection.String
	idea.Ticket = ticket.Int64
	idea.Timeframe = timeframe.String
	idea.Strategy = strategy.String
	idea.Source = source.String
	idea.Notes = notes.String
	if executedAt.Valid {
		idea.ExecutedAt = &executedAt.Time
	}
	if validUntil.Valid {
		idea.ValidUntil = &validUntil.Time
	}
	return &idea, nil
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var trade models.Trade
	var ideaID, ticket sql.NullInt64
	var exitPrice, stopLoss, takeProfit, profitLoss sql.NullFloat64
	var exitTime sql.NullTime
	var comment sql.NullString

	err := row.Scan(&trade.ID, &ideaID, &ticket, &trade.Symbol, &trade.Direction,
		&trade.Volume, &trade.EntryPrice, &trade.EntryTime, &exitPrice, &exitTime,
		&stopLoss, &takeProfit, &profitLoss, &trade.Status, &comment, &trade.CreatedAt)
	if err != nil {
		return nil, err
	}

	trade.TradeIdeaID = ideaID.Int64
	trade.Ticket = ticket.Int64
	trade.ExitPrice = exitPrice.Float64
	if exitTime.Valid {
		trade.ExitTime = &exitTime.Time
	}
	trade.StopLoss = stopLoss.Float64
	trade.TakeProfit = takeProfit.Float64
	if profitLoss.Valid {
		trade.ProfitLoss = &profitLoss.Float64
	}
	trade.Comment = comment.String
	return &trade, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}
