// Package stratasqlite provides a strata driver implementation for SQLite
// through Go's built-in database/sql, and tested against the cgo-free
// modernc.org/sqlite.
//
// SQLite pools should be configured with a maximum of one open connection
// (sql.DB.SetMaxOpenConns(1)) to avoid table lock errors under concurrent use.
package stratasqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/stratadb/strata/stratadriver"
)

// Driver is an implementation of stratadriver.Driver for database/sql backed
// by SQLite.
type Driver struct {
	dbPool *sql.DB
}

// New returns a new SQLite strata driver.
//
// The pool stays owned by the caller and must not be closed while a migration
// run is in flight.
func New(dbPool *sql.DB) *Driver {
	return &Driver{dbPool: dbPool}
}

func (d *Driver) GetExecutor() stratadriver.Executor {
	return &Executor{dbtx: d.dbPool, dbPool: d.dbPool}
}

// dbtx is the subset of operations shared between sql.DB and sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Executor struct {
	dbtx   dbtx
	dbPool *sql.DB // nil when already in a transaction
}

func (e *Executor) Begin(ctx context.Context) (stratadriver.ExecutorTx, error) {
	if e.dbPool == nil {
		// database/sql has no savepoints; nested transactions aren't needed by
		// the migrator, so this is simply not supported.
		return nil, fmt.Errorf("transaction already in progress")
	}
	tx, err := e.dbPool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{Executor: Executor{dbtx: tx}, tx: tx}, nil
}

func (e *Executor) Exec(ctx context.Context, query string) error {
	_, err := e.dbtx.ExecContext(ctx, query)
	return err
}

func (e *Executor) LedgerEnsure(ctx context.Context) error {
	_, err := e.dbtx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+stratadriver.LedgerTable+` (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    executed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    checksum TEXT NOT NULL DEFAULT '',
    execution_time INTEGER NOT NULL DEFAULT 0
)`)
	if err != nil {
		return fmt.Errorf("error ensuring ledger table: %w", err)
	}
	return nil
}

func (e *Executor) LedgerGetAll(ctx context.Context) ([]*stratadriver.LedgerEntry, error) {
	rows, err := e.dbtx.QueryContext(ctx, `
SELECT id, version, name, executed_at, checksum, execution_time
FROM `+stratadriver.LedgerTable+`
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*stratadriver.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (e *Executor) LedgerInsert(ctx context.Context, params *stratadriver.LedgerInsertParams) (*stratadriver.LedgerEntry, error) {
	row := e.dbtx.QueryRowContext(ctx, `
INSERT INTO `+stratadriver.LedgerTable+` (version, name, checksum, execution_time)
VALUES (?, ?, ?, ?)
RETURNING id, version, name, executed_at, checksum, execution_time`,
		params.Version, params.Name, params.Checksum, params.ExecutionTimeMS)

	entry, err := scanLedgerEntry(row.Scan)
	if err != nil {
		// modernc.org/sqlite surfaces constraint violations as plain errors;
		// the message is stable enough to classify on. Same technique as
		// detecting "already exists" DDL errors on this backend.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, stratadriver.ErrVersionConflict
		}
		return nil, err
	}
	return entry, nil
}

// scanLedgerEntry scans a ledger row, tolerating SQLite's loose typing for the
// executed_at column (modernc returns TIMESTAMP defaults as strings).
func scanLedgerEntry(scan func(dest ...any) error) (*stratadriver.LedgerEntry, error) {
	var (
		entry      stratadriver.LedgerEntry
		executedAt any
	)
	if err := scan(&entry.ID, &entry.Version, &entry.Name, &executedAt, &entry.Checksum, &entry.ExecutionTimeMS); err != nil {
		return nil, err
	}

	switch value := executedAt.(type) {
	case time.Time:
		entry.ExecutedAt = value
	case string:
		parsed, err := parseSQLiteTime(value)
		if err != nil {
			return nil, fmt.Errorf("error parsing executed_at %q: %w", value, err)
		}
		entry.ExecutedAt = parsed
	case []byte:
		parsed, err := parseSQLiteTime(string(value))
		if err != nil {
			return nil, fmt.Errorf("error parsing executed_at %q: %w", value, err)
		}
		entry.ExecutedAt = parsed
	default:
		return nil, fmt.Errorf("unexpected executed_at type %T", executedAt)
	}

	return &entry, nil
}

func parseSQLiteTime(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time layout")
}

type ExecutorTx struct {
	Executor
	tx *sql.Tx
}

func (t *ExecutorTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *ExecutorTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }
