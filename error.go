package strata

import (
	"fmt"

	"github.com/stratadb/strata/stratadriver"
)

// ErrDuplicateVersion is a sentinel error indicating that recording an applied
// script failed because its version was already present in the ledger. The
// migrator excludes applied versions before running anything, so this error
// almost always means a second migrator raced against the same ledger (or the
// ledger was tampered with mid-run).
var ErrDuplicateVersion = stratadriver.ErrVersionConflict

// InitializationError indicates that the migrator couldn't reach the database
// or couldn't ensure the ledger table. It's fatal to the run; no change
// scripts were attempted.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return "error initializing migrator: " + e.Err.Error()
}

func (e *InitializationError) Unwrap() error { return e.Err }

// SourceReadError indicates that a change script that was listed by the source
// vanished or became unreadable before its content could be loaded. Fatal to
// the run.
type SourceReadError struct {
	Path string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("error reading change script %q: %s", e.Path, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// MigrationExecutionError indicates that a statement of a change script failed
// against the database. Fatal to the run: no further pending scripts are
// attempted, while scripts applied earlier in the run stay applied.
type MigrationExecutionError struct {
	// Version is the version of the change script that failed.
	Version string

	// Name is the human-readable name of the change script that failed.
	Name string

	// Err is the underlying database error.
	Err error
}

func (e *MigrationExecutionError) Error() string {
	return fmt.Sprintf("error applying migration %s (%s): %s", e.Version, e.Name, e.Err)
}

func (e *MigrationExecutionError) Unwrap() error { return e.Err }

// ChecksumMismatchError indicates that an already-applied change script's
// current content no longer matches the checksum recorded when it was applied.
// Only returned when Config.StrictChecksums is set; otherwise drift is logged
// as a warning and the run proceeds.
type ChecksumMismatchError struct {
	Version  string
	Recorded string
	Current  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for applied migration %s: ledger has %s, source has %s", e.Version, e.Recorded, e.Current)
}
