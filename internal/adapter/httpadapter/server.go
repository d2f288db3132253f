package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/pipeline"
)

// StatusFunc reports the per-year state of the interim directory.
type StatusFunc func() ([]pipeline.YearStatus, error)

// Server exposes health, readiness, metrics and year status HTTP endpoints while a
// geocoding pass runs.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and /status routes.
// A nil status func leaves /status unregistered.
func NewServer(addr string, ready sharedobs.ReadinessChecker, status StatusFunc, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if status != nil {
		mux.HandleFunc("GET /status", s.handleStatus(status))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type yearStatusBody struct {
	Year         int            `json:"year"`
	Cleaned      bool           `json:"cleaned"`
	Geocoded     bool           `json:"geocoded"`
	Workspace    bool           `json:"workspace"`
	BatchFiles   int            `json:"batch_files"`
	PendingFiles int            `json:"pending_files"`
	Jobs         map[string]int `json:"jobs,omitempty"`
	LedgerError  string         `json:"ledger_error,omitempty"`
}

func (s *Server) handleStatus(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		years, err := status()
		if err != nil {
			s.logger.Error("status lookup failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		body := make([]yearStatusBody, len(years))
		for i, y := range years {
			body[i] = yearStatusBody(y)
		}
		writeJSON(w, http.StatusOK, map[string]any{"years": body})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort status response
}
