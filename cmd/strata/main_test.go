package main

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRun(t *testing.T) {
	// No t.Parallel(): command runs write to process-level stdout/stderr.

	t.Run("CreateWithoutNameExitsNonZero", func(t *testing.T) {
		require.Equal(t, 1, run([]string{"create"}))
	})

	t.Run("MigrateWithoutDatabaseURLExitsNonZero", func(t *testing.T) {
		require.Equal(t, 1, run([]string{"migrate"}))
	})

	t.Run("ListWithoutDatabaseURLExitsNonZero", func(t *testing.T) {
		require.Equal(t, 1, run([]string{"list"}))
	})

	t.Run("UnknownCommandExitsNonZero", func(t *testing.T) {
		require.Equal(t, 1, run([]string{"frobnicate"}))
	})

	t.Run("SuccessfulMigrateExitsZero", func(t *testing.T) {
		dir := t.TempDir()
		dbFile := filepath.Join(t.TempDir(), "main.db")

		require.Equal(t, 0, run([]string{"migrate", "--database-url", "sqlite://" + dbFile, "--dir", dir}))

		dbPool, err := sql.Open("sqlite", dbFile)
		require.NoError(t, err)
		defer dbPool.Close()

		var count int
		require.NoError(t, dbPool.QueryRow("SELECT count(*) FROM strata_migration").Scan(&count))
		require.Equal(t, 0, count)
	})

	t.Run("VersionExitsZero", func(t *testing.T) {
		require.Equal(t, 0, run([]string{"version"}))
	})
}
