// Package storage persists finished test executions to SQLite so history
// survives restarts. Only terminal executions are written; the live run
// stays in memory.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/stressor/pkg/types"
)

// ErrNotFound is returned when the requested execution does not exist.
var ErrNotFound = errors.New("storage: execution not found")

// SQLiteStorage persists executions, their transactions and errors.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStorage opens (or creates) the database at dbPath and runs
// migrations. WAL mode keeps writers from blocking readers.
func NewSQLiteStorage(dbPath string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		current_iteration INTEGER DEFAULT 0,
		total_iterations INTEGER NOT NULL,
		success_count INTEGER DEFAULT 0,
		failure_count INTEGER DEFAULT 0,
		tps REAL DEFAULT 0,
		config TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at DESC);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		account TEXT NOT NULL,
		tx_hash TEXT,
		status TEXT NOT NULL,
		gas_used INTEGER DEFAULT 0,
		confirmation_time_ms INTEGER DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_execution ON transactions(execution_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_hash ON transactions(tx_hash);

	CREATE TABLE IF NOT EXISTS errors (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_errors_execution ON errors(execution_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveExecution writes a terminal execution together with its errors.
// Existing rows with the same id are replaced, so a stop-after-retry
// never duplicates history.
func (s *SQLiteStorage) SaveExecution(ctx context.Context, exec types.TestExecution) error {
	configJSON, err := json.Marshal(exec.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
			(id, name, status, current_iteration, total_iterations,
			 success_count, failure_count, tps, config, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.Name, string(exec.Status), exec.CurrentIteration, exec.TotalIterations,
		exec.SuccessCount, exec.FailureCount, exec.TransactionsPerSecond,
		string(configJSON), exec.StartedAt, nullTime(exec.CompletedAt))
	if err != nil {
		return err
	}

	for _, te := range exec.Errors {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO errors (id, execution_id, iteration, type, message, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, te.ID, te.ExecutionID, te.Iteration, string(te.Type), te.Message, te.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// BulkInsertTransactions writes transaction records in one database
// transaction. The fsync cost dominates small inserts, so batching wins.
func (s *SQLiteStorage) BulkInsertTransactions(ctx context.Context, txs []types.TestTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transactions
			(id, execution_id, iteration, account, tx_hash, status,
			 gas_used, confirmation_time_ms, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range txs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := stmt.ExecContext(ctx, t.ID, t.ExecutionID, t.Iteration, t.Account,
			nullString(t.Hash), string(t.Status), t.GasUsed, t.ConfirmationTimeMs, t.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetExecution loads one execution with its errors.
func (s *SQLiteStorage) GetExecution(ctx context.Context, id string) (*types.TestExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, current_iteration, total_iterations,
		       success_count, failure_count, tps, config, started_at, completed_at
		FROM executions WHERE id = ?
	`, id)

	exec, err := s.scanExecution(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, iteration, type, message, occurred_at
		FROM errors WHERE execution_id = ? ORDER BY occurred_at
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var te types.TestError
		var errType string
		if err := rows.Scan(&te.ID, &te.ExecutionID, &te.Iteration, &errType, &te.Message, &te.Timestamp); err != nil {
			return nil, err
		}
		te.Type = types.ErrorType(errType)
		exec.Errors = append(exec.Errors, te)
	}

	return exec, rows.Err()
}

// ListExecutions returns finished executions, most recent first.
func (s *SQLiteStorage) ListExecutions(ctx context.Context, limit, offset int) ([]types.TestExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, current_iteration, total_iterations,
		       success_count, failure_count, tps, config, started_at, completed_at
		FROM executions ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []types.TestExecution
	for rows.Next() {
		exec, err := s.scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}

	return execs, rows.Err()
}

// GetTransactions returns the stored transactions of one execution in
// submission order.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, executionID string, limit, offset int) ([]types.TestTransaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, iteration, account, tx_hash, status,
		       gas_used, confirmation_time_ms, submitted_at
		FROM transactions WHERE execution_id = ?
		ORDER BY iteration LIMIT ? OFFSET ?
	`, executionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []types.TestTransaction
	for rows.Next() {
		var t types.TestTransaction
		var hash sql.NullString
		var status string
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.Iteration, &t.Account, &hash,
			&status, &t.GasUsed, &t.ConfirmationTimeMs, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Hash = hash.String
		t.Status = types.TxStatus(status)
		txs = append(txs, t)
	}

	return txs, rows.Err()
}

// DeleteExecution removes one execution with its transactions and errors.
func (s *SQLiteStorage) DeleteExecution(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanExecution(row *sql.Row) (*types.TestExecution, error) {
	exec, err := scanExecutionFields(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exec, err
}

func (s *SQLiteStorage) scanExecutionRows(rows *sql.Rows) (*types.TestExecution, error) {
	return scanExecutionFields(rows)
}

func scanExecutionFields(row rowScanner) (*types.TestExecution, error) {
	var exec types.TestExecution
	var status, configJSON string
	var completedAt sql.NullTime

	err := row.Scan(&exec.ID, &exec.Name, &status, &exec.CurrentIteration,
		&exec.TotalIterations, &exec.SuccessCount, &exec.FailureCount,
		&exec.TransactionsPerSecond, &configJSON, &exec.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	exec.Status = types.ExecutionStatus(status)
	if completedAt.Valid {
		exec.CompletedAt = completedAt.Time
	}
	if err := json.Unmarshal([]byte(configJSON), &exec.Config); err != nil {
		// Config corruption should not hide the execution row.
		slog.Warn("failed to unmarshal execution config",
			"executionID", exec.ID, "error", err.Error())
	}

	return &exec, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
