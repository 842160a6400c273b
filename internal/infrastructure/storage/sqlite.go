package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_dip_bot/internal/domain"
)

// SQLiteStore is the trade journal. It is append-only; the engine never
// reads it back to make decisions.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			lot_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			quote_amount REAL NOT NULL,
			commission REAL NOT NULL DEFAULT 0,
			profit REAL NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lot_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			total_invested REAL NOT NULL,
			net_revenue REAL NOT NULL,
			profit REAL NOT NULL,
			reason TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: journals created before profit/reason were tracked.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE trades ADD COLUMN profit REAL NOT NULL DEFAULT 0`)
	_, _ = s.db.Exec(`ALTER TABLE trades ADD COLUMN reason TEXT NOT NULL DEFAULT ''`)

	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	query := `INSERT INTO trades (order_id, lot_id, symbol, side, quantity, price, quote_amount, commission, profit, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		trade.OrderID, trade.LotID, trade.Symbol, string(trade.Side), trade.Quantity, trade.Price,
		trade.QuoteAmount, trade.Commission, trade.Profit, trade.Reason, trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		trade.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, order_id, lot_id, symbol, side, quantity, price, quote_amount, commission, profit, reason, created_at
			  FROM trades ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.LotID, &t.Symbol, &side, &t.Quantity, &t.Price,
			&t.QuoteAmount, &t.Commission, &t.Profit, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	query := `INSERT INTO position_history (lot_id, symbol, quantity, entry_price, exit_price, total_invested, net_revenue, profit, reason, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		h.LotID, h.Symbol, h.Quantity, h.EntryPrice, h.ExitPrice, h.TotalInvested,
		h.NetRevenue, h.Profit, h.Reason, h.OpenedAt, h.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to insert position history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, lot_id, symbol, quantity, entry_price, exit_price, total_invested, net_revenue, profit, reason, opened_at, closed_at
			  FROM position_history ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		if err := rows.Scan(&h.ID, &h.LotID, &h.Symbol, &h.Quantity, &h.EntryPrice, &h.ExitPrice,
			&h.TotalInvested, &h.NetRevenue, &h.Profit, &h.Reason, &h.OpenedAt, &h.ClosedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// SessionSummary aggregates the closed-lot journal.
type SessionSummary struct {
	ClosedLots  int     `json:"closed_lots"`
	TotalProfit float64 `json:"total_profit"`
}

func (s *SQLiteStore) Summary(ctx context.Context) (*SessionSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(profit), 0) FROM position_history`)
	var sum SessionSummary
	if err := row.Scan(&sum.ClosedLots, &sum.TotalProfit); err != nil {
		return nil, err
	}
	return &sum, nil
}
