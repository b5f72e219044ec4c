package stratapgxv5

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/stratadb/strata/stratadriver"
)

// Tests here need a real Postgres and are skipped unless TEST_DATABASE_URL is
// set, e.g.:
//
//	TEST_DATABASE_URL=postgres://localhost:5432/strata_test go test ./...
func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres driver tests")
	}

	// Each test gets its own schema so tests can't interfere and cleanup is a
	// single drop. The schema rides in on search_path so the executor's
	// unqualified table names land in it.
	schema := fmt.Sprintf("strata_test_%08x", rand.Uint32())

	config, err := pgxpool.ParseConfig(databaseURL)
	require.NoError(t, err)
	config.ConnConfig.RuntimeParams["search_path"] = schema

	dbPool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	t.Cleanup(dbPool.Close)

	_, err = dbPool.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, err := dbPool.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		require.NoError(t, err)
	})

	return dbPool
}

func TestExecutor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	setup := func(t *testing.T) stratadriver.Executor {
		t.Helper()

		exec := New(testPool(ctx, t)).GetExecutor()
		require.NoError(t, exec.LedgerEnsure(ctx))
		return exec
	}

	t.Run("LedgerEnsureIsIdempotent", func(t *testing.T) {
		exec := setup(t)
		require.NoError(t, exec.LedgerEnsure(ctx))

		entries, err := exec.LedgerGetAll(ctx)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("LedgerInsertRoundTrips", func(t *testing.T) {
		exec := setup(t)

		entry, err := exec.LedgerInsert(ctx, &stratadriver.LedgerInsertParams{
			Version:         "20240101000000_create_exchanges",
			Name:            "create exchanges",
			Checksum:        "abc123",
			ExecutionTimeMS: 7,
		})
		require.NoError(t, err)
		require.Positive(t, entry.ID)
		require.Equal(t, "create exchanges", entry.Name)
		require.False(t, entry.ExecutedAt.IsZero())
	})

	t.Run("DuplicateVersionIsVersionConflict", func(t *testing.T) {
		exec := setup(t)

		params := &stratadriver.LedgerInsertParams{Version: "20240101000000_dupe", Name: "dupe"}

		_, err := exec.LedgerInsert(ctx, params)
		require.NoError(t, err)

		_, err = exec.LedgerInsert(ctx, params)
		require.ErrorIs(t, err, stratadriver.ErrVersionConflict)
	})

	t.Run("TxRollbackDiscardsWork", func(t *testing.T) {
		exec := setup(t)

		tx, err := exec.Begin(ctx)
		require.NoError(t, err)

		_, err = tx.LedgerInsert(ctx, &stratadriver.LedgerInsertParams{Version: "20240101000000_rb", Name: "rb"})
		require.NoError(t, err)

		require.NoError(t, tx.Rollback(ctx))

		entries, err := exec.LedgerGetAll(ctx)
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}
