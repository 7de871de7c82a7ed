package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_gc_bot/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			ts DATETIME NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (symbol, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			mode TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			notional REAL NOT NULL,
			fee REAL NOT NULL,
			tp REAL,
			sl REAL,
			order_id TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			entry_ts DATETIME NOT NULL,
			exit_ts DATETIME NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			quantity REAL NOT NULL,
			reason TEXT NOT NULL,
			entry_fee REAL NOT NULL,
			exit_fee REAL NOT NULL,
			notional REAL NOT NULL,
			pnl REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_metrics (
			date TEXT PRIMARY KEY,
			trades INTEGER NOT NULL,
			win INTEGER NOT NULL,
			loss INTEGER NOT NULL,
			win_rate REAL NOT NULL,
			pnl_day REAL NOT NULL,
			pnl_cum REAL NOT NULL,
			max_dd REAL NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// CandleRepository Implementation

// SaveCandles upserts bars by (symbol, timestamp): last write wins on
// collision.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol string, candles []domain.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO candles (symbol, ts, open, high, low, close, volume)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol, ts) DO UPDATE SET
			  open=excluded.open, high=excluded.high, low=excluded.low,
			  close=excluded.close, volume=excluded.volume`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, c.Time.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetCandles returns up to limit bars for a symbol, oldest first.
// limit <= 0 returns everything.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	query := `SELECT ts, open, high, low, close, volume FROM candles WHERE symbol = ? ORDER BY ts DESC`
	args := []any{symbol}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query is newest first for the LIMIT; callers want chronological.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTradeLog(ctx context.Context, entry *domain.TradeLogEntry) error {
	query := `INSERT INTO trades (ts, mode, symbol, side, quantity, price, notional, fee, tp, sl, order_id)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		entry.Timestamp.UTC(), string(entry.Mode), entry.Symbol, string(entry.Side),
		entry.Quantity, entry.Price, entry.Notional, entry.Fee,
		entry.TakeProfit, entry.StopLoss, entry.OrderID)
	return err
}

func (s *SQLiteStore) ListTradeLog(ctx context.Context, symbol string, limit int) ([]*domain.TradeLogEntry, error) {
	query := `SELECT ts, mode, symbol, side, quantity, price, notional, fee, tp, sl, order_id
			  FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.TradeLogEntry
	for rows.Next() {
		var e domain.TradeLogEntry
		var mode, side string
		var ts time.Time
		if err := rows.Scan(&ts, &mode, &e.Symbol, &side, &e.Quantity, &e.Price, &e.Notional, &e.Fee, &e.TakeProfit, &e.StopLoss, &e.OrderID); err != nil {
			return nil, err
		}
		e.Timestamp = ts
		e.Mode = domain.OrderMode(mode)
		e.Side = domain.Side(side)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, record *domain.TradeRecord) error {
	query := `INSERT INTO position_history (symbol, entry_ts, exit_ts, entry_price, exit_price, quantity, reason, entry_fee, exit_fee, notional, pnl)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		record.Symbol, record.EntryTime.UTC(), record.ExitTime.UTC(),
		record.EntryPrice, record.ExitPrice, record.Quantity, string(record.Reason),
		record.EntryFee, record.ExitFee, record.Notional, record.PnL)
	return err
}

// ListPositionHistory returns closed trades, oldest first. limit <= 0
// returns everything.
func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT symbol, entry_ts, exit_ts, entry_price, exit_price, quantity, reason, entry_fee, exit_fee, notional, pnl
			  FROM position_history ORDER BY id`
	args := []any{}
	if limit > 0 {
		// Subquery keeps chronological order while limiting to the
		// most recent rows.
		query = `SELECT symbol, entry_ts, exit_ts, entry_price, exit_price, quantity, reason, entry_fee, exit_fee, notional, pnl
			  FROM position_history WHERE id IN (SELECT id FROM position_history ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var reason string
		if err := rows.Scan(&r.Symbol, &r.EntryTime, &r.ExitTime, &r.EntryPrice, &r.ExitPrice, &r.Quantity, &reason, &r.EntryFee, &r.ExitFee, &r.Notional, &r.PnL); err != nil {
			return nil, err
		}
		r.Reason = domain.ExitReason(reason)
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveDailyMetrics(ctx context.Context, m *domain.DailyMetrics) error {
	query := `INSERT INTO daily_metrics (date, trades, win, loss, win_rate, pnl_day, pnl_cum, max_dd)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(date) DO UPDATE SET
			  trades=excluded.trades, win=excluded.win, loss=excluded.loss,
			  win_rate=excluded.win_rate, pnl_day=excluded.pnl_day,
			  pnl_cum=excluded.pnl_cum, max_dd=excluded.max_dd`
	_, err := s.db.ExecContext(ctx, query,
		m.Date, m.Trades, m.Wins, m.Losses, m.WinRate, m.PnLDay, m.PnLCum, m.MaxDrawdown)
	return err
}
