package stratacli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stratadb/strata"
)

// apiServer is the HTTP collaborator around a migrator: a liveness endpoint
// and an on-demand migrate endpoint with the exact semantics of the startup
// run. It holds no migration state of its own.
type apiServer struct {
	logger   *slog.Logger
	migrator *strata.Migrator

	// Serializes on-demand runs within this process. Cross-process races are
	// caught by the ledger's unique version constraint instead.
	mu sync.Mutex
}

func newAPIServer(migrator *strata.Migrator, logger *slog.Logger) *apiServer {
	return &apiServer{
		logger:   logger,
		migrator: migrator,
	}
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /migrate", s.handleMigrate)
	return mux
}

// ListenAndServe serves until ctx is cancelled or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (s *apiServer) ListenAndServe(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.InfoContext(ctx, "HTTP server listening", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (s *apiServer) handleHealth(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

type migrateResponse struct {
	Discovered     int      `json:"discovered"`
	AlreadyApplied int      `json:"already_applied"`
	Applied        []string `json:"applied"`
}

func (s *apiServer) handleMigrate(rw http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.migrator.Migrate(req.Context())
	if err != nil {
		s.logger.ErrorContext(req.Context(), "On-demand migration failed", slog.String("error", err.Error()))
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	applied := make([]string, len(res.Applied))
	for i, version := range res.Applied {
		applied[i] = version.Version
	}

	writeJSON(rw, http.StatusOK, migrateResponse{
		Discovered:     res.Discovered,
		AlreadyApplied: res.AlreadyApplied,
		Applied:        applied,
	})
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}
