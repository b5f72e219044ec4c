// Package stratadriver exposes generic constructs to be implemented by
// specific drivers that wrap third party database packages, with the aim being
// to keep the main strata interface decoupled from a specific database package
// so that multiple databases (and multiple major versions of their Go drivers)
// can be supported at once.
//
// Two drivers are currently provided, one for Pgx v5 and one for the built-in
// database/sql package backed by modernc.org/sqlite. See packages stratapgxv5
// and stratasqlite respectively.
package stratadriver

import (
	"context"
	"errors"
	"time"
)

// LedgerTable is the name of the table in which applied migrations are
// recorded. Drivers create it idempotently via LedgerEnsure.
const LedgerTable = "strata_migration"

// ErrVersionConflict is returned by LedgerInsert when a row with the same
// version already exists. Because the migrator diffs out applied versions
// before applying anything, seeing this error generally indicates a second
// migrator racing against the same ledger.
var ErrVersionConflict = errors.New("migration version already recorded in ledger")

// LedgerEntry is one row of the migration ledger: a record of a single change
// script which has been applied. Entries are immutable once written.
type LedgerEntry struct {
	// ID is an auto-assigned surrogate key. It increases monotonically in
	// insertion order, which is the authoritative "already applied" history
	// (and may differ from lexicographic version order when an operator has
	// backfilled an older script by hand).
	ID int64

	// Version is the unique version identifier of the applied script.
	Version string

	// Name is the human-readable name derived from the version. Informational
	// only.
	Name string

	// ExecutedAt is the time the ledger row was inserted. Never updated.
	ExecutedAt time.Time

	// Checksum is a hex-encoded digest of the script's raw content at the
	// moment it was applied.
	Checksum string

	// ExecutionTimeMS is the wall-clock duration of applying the script, in
	// milliseconds.
	ExecutionTimeMS int64
}

// LedgerInsertParams are parameters for recording a newly applied script.
type LedgerInsertParams struct {
	Version         string
	Name            string
	Checksum        string
	ExecutionTimeMS int64
}

// Driver provides a database driver for use with strata.Migrator.
//
// Its purpose is to wrap the interface of a third party database package, with
// the aim being to keep the main strata interface decoupled from a specific
// database package so that other packages or major versions of packages can be
// supported in the future.
type Driver interface {
	// GetExecutor gets an executor for the driver's underlying connection
	// pool. The pool itself stays owned by whoever opened it; drivers never
	// close it.
	GetExecutor() Executor
}

// Executor is capable of executing arbitrary SQL statements and the fixed set
// of ledger queries the migrator needs.
type Executor interface {
	// Begin starts a transaction on the underlying pool (or a savepoint when
	// already inside a transaction, on backends that support them).
	Begin(ctx context.Context) (ExecutorTx, error)

	// Exec executes raw SQL. Used to run the statements of change scripts.
	Exec(ctx context.Context, sql string) error

	// LedgerEnsure idempotently creates the ledger table. Safe to call on
	// every process start; a pre-existing table is not an error and is left
	// untouched.
	LedgerEnsure(ctx context.Context) error

	// LedgerGetAll returns every ledger entry ordered by insertion (id), not
	// by version string.
	LedgerGetAll(ctx context.Context) ([]*LedgerEntry, error)

	// LedgerInsert appends one ledger entry, returning the stored row. Returns
	// ErrVersionConflict when the version is already recorded.
	LedgerInsert(ctx context.Context, params *LedgerInsertParams) (*LedgerEntry, error)
}

// ExecutorTx is an Executor which is a transaction, and therefore can be
// committed or rolled back.
type ExecutorTx interface {
	Executor

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
