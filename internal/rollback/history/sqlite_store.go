// Package history provides an optional SQLite-backed store for the
// RollbackLog's forensics ring buffer (spec §3 "history... retained for
// forensics"), as an alternative to the default NDJSON file the rollback
// package writes on its own. Useful when an operator wants to query
// transaction history with SQL instead of scanning a log file.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fileforge/atomix/internal/rollback"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists rollback.HistoryEntry records to a SQLite database,
// wrapping every write in its own transaction so a crash mid-insert never
// leaves a half-written row.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history store: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS rollback_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id TEXT NOT NULL,
	status TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	operation_count INTEGER NOT NULL,
	description TEXT
);
CREATE INDEX IF NOT EXISTS idx_rollback_history_finished_at ON rollback_history(finished_at);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate rollback_history schema: %w", err)
	}
	return nil
}

// inTransaction runs fn inside a SQL transaction, committing on success and
// rolling back on any error returned by fn or encountered while committing.
func (s *SQLiteStore) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history row: %w", err)
	}
	return nil
}

// Record appends one finished transaction to the store. Implements
// rollback.HistoryStore so Manager.SetHistoryStore can select this backend.
func (s *SQLiteStore) Record(entry rollback.HistoryEntry) error {
	ctx := context.Background()
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rollback_history (transaction_id, status, finished_at, operation_count, description)
			 VALUES (?, ?, ?, ?, ?)`,
			string(entry.TransactionID), string(entry.Status), entry.FinishedAt.UTC().Format(time.RFC3339Nano),
			entry.OperationCount, entry.Description,
		)
		if err != nil {
			return fmt.Errorf("insert history row: %w", err)
		}
		return nil
	})
}

// Recent returns the most recently finished transactions, newest first, up
// to limit entries (limit <= 0 means unbounded). Implements
// rollback.HistoryStore.
func (s *SQLiteStore) Recent(limit int) ([]rollback.HistoryEntry, error) {
	ctx := context.Background()
	query := `SELECT transaction_id, status, finished_at, operation_count, description
	          FROM rollback_history ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rollback_history: %w", err)
	}
	defer rows.Close()

	var entries []rollback.HistoryEntry
	for rows.Next() {
		var (
			entry       rollback.HistoryEntry
			status      string
			finishedAt  string
			description sql.NullString
		)
		if err := rows.Scan(&entry.TransactionID, &status, &finishedAt, &entry.OperationCount, &description); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Status = rollback.Status(status)
		if ts, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			entry.FinishedAt = ts
		}
		entry.Description = description.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
