// Package strata is a schema migration engine. It brings a relational
// database's schema to a desired state by applying an ordered, append-only
// sequence of versioned change scripts exactly once each, recording every
// application in a ledger table, and halting the whole run on the first
// failure.
//
// Change scripts are plain SQL files discovered from a directory; their file
// names (minus extension) are their versions and must sort lexicographically
// in intended application order. There are no down migrations, no schema
// diffing, and no history branching.
//
// Drivers for Pgx v5 and for database/sql-backed SQLite are provided under
// stratadriver. A typical run looks like:
//
//	dbPool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil {
//		// handle error
//	}
//	defer dbPool.Close()
//
//	migrator := strata.New(stratapgxv5.New(dbPool), &strata.Config{Dir: "migrations"})
//
//	res, err := migrator.Migrate(ctx)
//	if err != nil {
//		// handle error
//	}
package strata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stratadb/strata/stratadriver"
)

// Config contains configuration for Migrator.
type Config struct {
	// Dir is the directory change scripts are discovered from. Defaults to
	// "migrations". A missing directory is created on first run.
	Dir string

	// Logger is the structured logger to use for logging purposes. If none is
	// specified, logs will be emitted to STDOUT with messages at warn level
	// or higher.
	Logger *slog.Logger

	// StrictChecksums upgrades checksum drift on already-applied scripts from
	// a logged warning to a fatal ChecksumMismatchError, failing the run
	// before any pending script is attempted.
	StrictChecksums bool
}

// Migrator applies pending change scripts in ascending version order and
// records each success in the ledger. It runs strictly sequentially; only one
// migrator is expected to execute against a given ledger at a time, and the
// ledger's unique version constraint turns a concurrent-run race into
// ErrDuplicateVersion for the loser rather than a silent double-application.
type Migrator struct {
	config *Config
	driver stratadriver.Driver
	logger *slog.Logger
	source *Source
}

// New returns a new migrator with the given database driver and
// configuration. The config parameter may be omitted as nil.
func New(driver stratadriver.Driver, config *Config) *Migrator {
	if config == nil {
		config = &Config{}
	}

	dir := config.Dir
	if dir == "" {
		dir = "migrations"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))
	}

	return &Migrator{
		config: config,
		driver: driver,
		logger: logger,
		source: NewSource(dir),
	}
}

// MigrateResult is the result of a migrate run.
type MigrateResult struct {
	// Discovered is the number of change scripts found in the source,
	// applied or not.
	Discovered int

	// AlreadyApplied is the number of discovered scripts that were skipped
	// because the ledger already contained their version.
	AlreadyApplied int

	// Applied are the scripts newly applied by this run, in application
	// order.
	Applied []MigrateVersion
}

// MigrateVersion is the result for a single applied change script.
type MigrateVersion struct {
	// Version is the version of the script applied.
	Version string

	// Name is the human-readable name of the script applied.
	Name string

	// Checksum is the content digest recorded in the ledger.
	Checksum string

	// Duration is the wall-clock time applying the script took.
	Duration time.Duration
}

// ListResult is the result of a List call.
type ListResult struct {
	// Applied are ledger entries in insertion order, the authoritative
	// application history.
	Applied []*stratadriver.LedgerEntry

	// Pending are discovered scripts not yet present in the ledger, in
	// ascending version order.
	Pending []*ChangeScript
}

// Initialize connects to the database far enough to idempotently create the
// ledger table. Safe to call on every process start. Migrate calls it
// implicitly; it's exposed for callers that want schema readiness checked
// separately from a run.
func (m *Migrator) Initialize(ctx context.Context) error {
	if err := m.driver.GetExecutor().LedgerEnsure(ctx); err != nil {
		return &InitializationError{Err: err}
	}
	return nil
}

// CreateMigration writes a new templated change script into the migrator's
// source directory, named with a current-timestamp version and a normalized
// form of name. Returns the path of the created file. Authoring only; the
// database is not touched.
func (m *Migrator) CreateMigration(name string) (string, error) {
	return Create(m.source.dir, name)
}

// Migrate applies every pending change script in ascending version order,
// recording each success in the ledger. It stops at the first failure,
// leaving scripts applied earlier in the run applied; there are no automatic
// retries and no rollback across scripts. Safe to call repeatedly: a run with
// nothing pending is a no-op reporting zero newly applied.
func (m *Migrator) Migrate(ctx context.Context) (*MigrateResult, error) {
	exec := m.driver.GetExecutor()

	if err := exec.LedgerEnsure(ctx); err != nil {
		return nil, &InitializationError{Err: err}
	}

	available, err := m.source.ListAvailable()
	if err != nil {
		return nil, err
	}

	appliedEntries, err := exec.LedgerGetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading ledger: %w", err)
	}

	appliedByVersion := make(map[string]*stratadriver.LedgerEntry, len(appliedEntries))
	for _, entry := range appliedEntries {
		appliedByVersion[entry.Version] = entry
	}

	// Diff available against applied, keyed strictly by version string.
	// Source order (ascending by version) is preserved for the pending set.
	res := &MigrateResult{Discovered: len(available)}
	var pending []*ChangeScript
	for _, script := range available {
		entry, ok := appliedByVersion[script.Version]
		if !ok {
			pending = append(pending, script)
			continue
		}

		res.AlreadyApplied++
		if err := m.checkDrift(ctx, script, entry); err != nil {
			return nil, err
		}
	}

	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "No migrations to apply",
			slog.Int("discovered", res.Discovered),
			slog.Int("already_applied", res.AlreadyApplied),
		)
		return res, nil
	}

	for _, script := range pending {
		applied, err := m.applyScript(ctx, exec, script)
		if err != nil {
			return nil, err
		}
		res.Applied = append(res.Applied, *applied)
	}

	m.logger.InfoContext(ctx, "Migration complete",
		slog.Int("discovered", res.Discovered),
		slog.Int("already_applied", res.AlreadyApplied),
		slog.Int("applied", len(res.Applied)),
	)

	return res, nil
}

// List reports the ledger's application history alongside the scripts still
// pending, without applying anything.
func (m *Migrator) List(ctx context.Context) (*ListResult, error) {
	exec := m.driver.GetExecutor()

	if err := exec.LedgerEnsure(ctx); err != nil {
		return nil, &InitializationError{Err: err}
	}

	available, err := m.source.ListAvailable()
	if err != nil {
		return nil, err
	}

	appliedEntries, err := exec.LedgerGetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading ledger: %w", err)
	}

	appliedVersions := make(map[string]struct{}, len(appliedEntries))
	for _, entry := range appliedEntries {
		appliedVersions[entry.Version] = struct{}{}
	}

	res := &ListResult{Applied: appliedEntries}
	for _, script := range available {
		if _, ok := appliedVersions[script.Version]; !ok {
			res.Pending = append(res.Pending, script)
		}
	}

	return res, nil
}

// checkDrift compares an already-applied script's current content against the
// checksum recorded at apply time. Ledger rows recorded without a checksum
// are skipped.
func (m *Migrator) checkDrift(ctx context.Context, script *ChangeScript, entry *stratadriver.LedgerEntry) error {
	if entry.Checksum == "" {
		return nil
	}

	content, err := m.source.Load(script)
	if err != nil {
		return err
	}

	current := Checksum(content)
	if current == entry.Checksum {
		return nil
	}

	if m.config.StrictChecksums {
		return &ChecksumMismatchError{Version: script.Version, Recorded: entry.Checksum, Current: current}
	}

	m.logger.WarnContext(ctx, "Applied migration content has drifted from its recorded checksum",
		slog.String("version", script.Version),
		slog.String("recorded", entry.Checksum),
		slog.String("current", current),
	)
	return nil
}

// applyScript runs one change script: loads it, splits it into statements,
// executes them in order inside a single transaction, and records the ledger
// entry in that same transaction. A failure rolls the script (and its ledger
// row) back, so a half-applied script is never recorded.
func (m *Migrator) applyScript(ctx context.Context, exec stratadriver.Executor, script *ChangeScript) (*MigrateVersion, error) {
	content, err := m.source.Load(script)
	if err != nil {
		return nil, err
	}

	checksum := Checksum(content)
	statements := SplitStatements(content)

	m.logger.InfoContext(ctx, fmt.Sprintf("Applying migration %s", script.Version),
		slog.String("version", script.Version),
		slog.String("name", script.Name),
		slog.Int("statements", len(statements)),
	)

	start := time.Now()

	tx, err := exec.Begin(ctx)
	if err != nil {
		return nil, &MigrationExecutionError{Version: script.Version, Name: script.Name, Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, statement := range statements {
		if err := tx.Exec(ctx, statement); err != nil {
			return nil, &MigrationExecutionError{Version: script.Version, Name: script.Name, Err: err}
		}
	}

	elapsed := time.Since(start)

	if _, err := tx.LedgerInsert(ctx, &stratadriver.LedgerInsertParams{
		Version:         script.Version,
		Name:            script.Name,
		Checksum:        checksum,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}); err != nil {
		if errors.Is(err, stratadriver.ErrVersionConflict) {
			return nil, fmt.Errorf("error recording version %s: %w", script.Version, err)
		}
		return nil, &MigrationExecutionError{Version: script.Version, Name: script.Name, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &MigrationExecutionError{Version: script.Version, Name: script.Name, Err: err}
	}

	return &MigrateVersion{
		Version:  script.Version,
		Name:     script.Name,
		Checksum: checksum,
		Duration: elapsed,
	}, nil
}
