// Package stratatest holds test helpers shared across strata's packages.
package stratatest

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/stratadb/strata/internal/slogtest"
)

// Logger returns a logger suitable for use in tests.
//
// Defaults to informational verbosity. If env is set with `STRATA_DEBUG=true`,
// debug level verbosity is activated.
func Logger(tb testing.TB) *slog.Logger {
	tb.Helper()

	if os.Getenv("STRATA_DEBUG") == "1" || os.Getenv("STRATA_DEBUG") == "true" {
		return slogtest.NewLogger(tb, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	return slogtest.NewLogger(tb, nil)
}

// DBPool opens a throwaway SQLite database in the test's temporary directory,
// closed automatically when the test finishes. SQLite keeps the suite
// hermetic; Postgres is exercised through the same Executor interface against
// a real server when one is available.
func DBPool(tb testing.TB) *sql.DB {
	tb.Helper()

	dbPool, err := sql.Open("sqlite", filepath.Join(tb.TempDir(), "strata_test.db"))
	require.NoError(tb, err)
	dbPool.SetMaxOpenConns(1)

	tb.Cleanup(func() { require.NoError(tb, dbPool.Close()) })

	return dbPool
}
