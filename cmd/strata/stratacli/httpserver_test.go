package stratacli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratadb/strata"
	"github.com/stratadb/strata/internal/stratatest"
	"github.com/stratadb/strata/stratadriver/stratasqlite"
)

func TestAPIServer(t *testing.T) {
	t.Parallel()

	type testBundle struct {
		dir    string
		server *httptest.Server
	}

	setup := func(t *testing.T) *testBundle {
		t.Helper()

		dir := t.TempDir()
		migrator := strata.New(stratasqlite.New(stratatest.DBPool(t)), &strata.Config{
			Dir:    dir,
			Logger: stratatest.Logger(t),
		})

		server := httptest.NewServer(newAPIServer(migrator, stratatest.Logger(t)).handler())
		t.Cleanup(server.Close)

		return &testBundle{dir: dir, server: server}
	}

	writeScript := func(t *testing.T, dir, version, content string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(dir, version+".sql"), []byte(content), 0o644))
	}

	t.Run("Health", func(t *testing.T) {
		t.Parallel()

		bundle := setup(t)

		resp, err := bundle.server.Client().Get(bundle.server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "ok", body["status"])
	})

	t.Run("OnDemandMigrateIsIdempotent", func(t *testing.T) {
		t.Parallel()

		bundle := setup(t)
		writeScript(t, bundle.dir, "20240101000000_create_quotes", "CREATE TABLE quotes (id INTEGER);")

		postMigrate := func(t *testing.T) migrateResponse {
			t.Helper()
			resp, err := bundle.server.Client().Post(bundle.server.URL+"/migrate", "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var body migrateResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			return body
		}

		first := postMigrate(t)
		require.Equal(t, 1, first.Discovered)
		require.Equal(t, 0, first.AlreadyApplied)
		require.Equal(t, []string{"20240101000000_create_quotes"}, first.Applied)

		second := postMigrate(t)
		require.Equal(t, 1, second.Discovered)
		require.Equal(t, 1, second.AlreadyApplied)
		require.Empty(t, second.Applied)
	})

	t.Run("FailedRunIsServerError", func(t *testing.T) {
		t.Parallel()

		bundle := setup(t)
		writeScript(t, bundle.dir, "20240101000000_broken", "CREATE TABLE broken (")

		resp, err := bundle.server.Client().Post(bundle.server.URL+"/migrate", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Contains(t, body["error"], "20240101000000_broken")
	})

	t.Run("MigrateRequiresPost", func(t *testing.T) {
		t.Parallel()

		bundle := setup(t)

		resp, err := bundle.server.Client().Get(bundle.server.URL + "/migrate")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}
