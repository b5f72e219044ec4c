// Package stratapgxv5 provides a strata driver implementation for Pgx v5.
package stratapgxv5

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratadb/strata/stratadriver"
)

// Driver is an implementation of stratadriver.Driver for Pgx v5.
type Driver struct {
	dbPool *pgxpool.Pool
}

// New returns a new Pgx v5 strata driver.
//
// It takes a pgxpool.Pool for use with strata. The pool stays owned by the
// caller and must not be closed while a migration run is in flight.
func New(dbPool *pgxpool.Pool) *Driver {
	return &Driver{dbPool: dbPool}
}

func (d *Driver) GetExecutor() stratadriver.Executor {
	return &Executor{dbtx: d.dbPool}
}

// dbtx is the subset of operations shared between pgxpool.Pool and pgx.Tx,
// letting Executor serve both as the pool-level executor and the
// transaction-level one.
type dbtx interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Executor struct {
	dbtx dbtx
}

func (e *Executor) Begin(ctx context.Context) (stratadriver.ExecutorTx, error) {
	tx, err := e.dbtx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{Executor: Executor{dbtx: tx}, tx: tx}, nil
}

func (e *Executor) Exec(ctx context.Context, sql string) error {
	_, err := e.dbtx.Exec(ctx, sql)
	return err
}

func (e *Executor) LedgerEnsure(ctx context.Context) error {
	_, err := e.dbtx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+stratadriver.LedgerTable+` (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    version TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    executed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    checksum TEXT NOT NULL DEFAULT '',
    execution_time BIGINT NOT NULL DEFAULT 0
)`)
	if err != nil {
		return fmt.Errorf("error ensuring ledger table: %w", err)
	}
	return nil
}

func (e *Executor) LedgerGetAll(ctx context.Context) ([]*stratadriver.LedgerEntry, error) {
	rows, err := e.dbtx.Query(ctx, `
SELECT id, version, name, executed_at, checksum, execution_time
FROM `+stratadriver.LedgerTable+`
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*stratadriver.LedgerEntry
	for rows.Next() {
		var entry stratadriver.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.Version, &entry.Name, &entry.ExecutedAt, &entry.Checksum, &entry.ExecutionTimeMS); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (e *Executor) LedgerInsert(ctx context.Context, params *stratadriver.LedgerInsertParams) (*stratadriver.LedgerEntry, error) {
	var entry stratadriver.LedgerEntry
	err := e.dbtx.QueryRow(ctx, `
INSERT INTO `+stratadriver.LedgerTable+` (version, name, checksum, execution_time)
VALUES ($1, $2, $3, $4)
RETURNING id, version, name, executed_at, checksum, execution_time`,
		params.Version, params.Name, params.Checksum, params.ExecutionTimeMS,
	).Scan(&entry.ID, &entry.Version, &entry.Name, &entry.ExecutedAt, &entry.Checksum, &entry.ExecutionTimeMS)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, stratadriver.ErrVersionConflict
		}
		return nil, err
	}
	return &entry, nil
}

type ExecutorTx struct {
	Executor
	tx pgx.Tx
}

func (t *ExecutorTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *ExecutorTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
