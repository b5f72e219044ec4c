package strata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceListAvailable(t *testing.T) {
	t.Parallel()

	writeFile := func(t *testing.T, dir, name string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- test"), 0o644))
	}

	t.Run("SortsByVersionString", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeFile(t, dir, "20240103000000_c.sql")
		writeFile(t, dir, "20240101000000_a.sql")
		writeFile(t, dir, "20240102000000_b.sql")

		scripts, err := NewSource(dir).ListAvailable()
		require.NoError(t, err)
		require.Len(t, scripts, 3)
		require.Equal(t, "20240101000000_a", scripts[0].Version)
		require.Equal(t, "20240102000000_b", scripts[1].Version)
		require.Equal(t, "20240103000000_c", scripts[2].Version)
	})

	t.Run("IgnoresNonScriptEntries", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeFile(t, dir, "20240101000000_real.sql")
		writeFile(t, dir, "README.md")
		writeFile(t, dir, "notes.txt")
		require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.sql"), 0o755))

		scripts, err := NewSource(dir).ListAvailable()
		require.NoError(t, err)
		require.Len(t, scripts, 1)
		require.Equal(t, "20240101000000_real", scripts[0].Version)
	})

	t.Run("CreatesMissingDirectory", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "migrations")

		scripts, err := NewSource(dir).ListAvailable()
		require.NoError(t, err)
		require.Empty(t, scripts)
		require.DirExists(t, dir)
	})

	t.Run("DerivesNames", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeFile(t, dir, "20240101000000_create_brokers_table.sql")
		writeFile(t, dir, "no_timestamp_prefix.sql")

		scripts, err := NewSource(dir).ListAvailable()
		require.NoError(t, err)
		require.Len(t, scripts, 2)
		require.Equal(t, "create brokers table", scripts[0].Name)
		require.Equal(t, "no timestamp prefix", scripts[1].Name)
	})
}

func TestSourceLoad(t *testing.T) {
	t.Parallel()

	t.Run("ReturnsRawContent", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		content := "CREATE TABLE exchange (id INTEGER);\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "20240101000000_exchanges.sql"), []byte(content), 0o644))

		source := NewSource(dir)
		scripts, err := source.ListAvailable()
		require.NoError(t, err)
		require.Len(t, scripts, 1)

		loaded, err := source.Load(scripts[0])
		require.NoError(t, err)
		require.Equal(t, content, loaded)
	})

	t.Run("VanishedFileIsSourceReadError", func(t *testing.T) {
		t.Parallel()

		source := NewSource(t.TempDir())
		_, err := source.Load(&ChangeScript{
			Version: "20240101000000_missing",
			Name:    "missing",
			Path:    filepath.Join(t.TempDir(), "20240101000000_missing.sql"),
		})
		var readErr *SourceReadError
		require.ErrorAs(t, err, &readErr)
	})
}

func TestScriptName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "create brokers", scriptName("20240101000000_create_brokers"))
	require.Equal(t, "a", scriptName("20240101000000_a"))
	require.Equal(t, "plain name", scriptName("plain_name"))
	require.Equal(t, "20240101000000", scriptName("20240101000000"))
	require.Equal(t, "x 1 y", scriptName("x_1_y"))
}
