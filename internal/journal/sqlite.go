package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			source TEXT NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			filled_qty INTEGER NOT NULL DEFAULT 0,
			avg_price TEXT NOT NULL DEFAULT '0',
			success INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			client_order_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON executions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_source ON executions(source)`,

		`CREATE TABLE IF NOT EXISTS close_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			success INTEGER NOT NULL,
			nothing_to_close INTEGER NOT NULL DEFAULT 0,
			closed_qty INTEGER NOT NULL DEFAULT 0,
			positions INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_close_runs_timestamp ON close_runs(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveExecution records a single order execution outcome.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, rec ExecutionRecord) error {
	query := `INSERT INTO executions
		(timestamp, source, symbol, action, quantity, filled_qty, avg_price, success, message, error_kind, order_id, client_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.Timestamp,
		rec.Source,
		rec.Symbol,
		rec.Action,
		rec.Quantity,
		rec.FilledQty,
		rec.AvgPrice.String(),
		rec.Success,
		rec.Message,
		rec.ErrorKind,
		rec.OrderID,
		rec.ClientOrderID,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

// RecentExecutions returns the most recent execution records, newest first.
func (r *SQLiteRepository) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, timestamp, source, symbol, action, quantity, filled_qty, avg_price, success, message, error_kind, order_id, client_order_id
		FROM executions ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var avgPrice string

		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.Source,
			&rec.Symbol,
			&rec.Action,
			&rec.Quantity,
			&rec.FilledQty,
			&avgPrice,
			&rec.Success,
			&rec.Message,
			&rec.ErrorKind,
			&rec.OrderID,
			&rec.ClientOrderID,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}

		rec.AvgPrice, err = decimal.NewFromString(avgPrice)
		if err != nil {
			return nil, fmt.Errorf("parse avg price: %w", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveCloseRun records the aggregate result of a close-all run.
func (r *SQLiteRepository) SaveCloseRun(ctx context.Context, rec CloseRunRecord) error {
	query := `INSERT INTO close_runs
		(timestamp, success, nothing_to_close, closed_qty, positions, failed, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.Timestamp,
		rec.Success,
		rec.NothingToClose,
		rec.ClosedQty,
		rec.Positions,
		rec.Failed,
		rec.Message,
	)
	if err != nil {
		return fmt.Errorf("insert close run: %w", err)
	}

	return nil
}

// RecentCloseRuns returns the most recent close-all runs, newest first.
func (r *SQLiteRepository) RecentCloseRuns(ctx context.Context, limit int) ([]CloseRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, timestamp, success, nothing_to_close, closed_qty, positions, failed, message
		FROM close_runs ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query close runs: %w", err)
	}
	defer rows.Close()

	var records []CloseRunRecord
	for rows.Next() {
		var rec CloseRunRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.Success,
			&rec.NothingToClose,
			&rec.ClosedQty,
			&rec.Positions,
			&rec.Failed,
			&rec.Message,
		); err != nil {
			return nil, fmt.Errorf("scan close run: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteRepository implements Repository
var _ Repository = (*SQLiteRepository)(nil)
