// Package api exposes the HTTP surfaces of the threatlens services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"threatlens/internal/graph"
	"threatlens/internal/hoststate"
	"threatlens/internal/ingest"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
	"threatlens/internal/view"
)

const maxBatchBytes = 10 << 20

// HostLister lists recently active source hosts.
type HostLister interface {
	FetchActiveSince(ctx context.Context, since time.Time, limit int64) ([]hoststate.HostState, error)
}

// Handler holds the dependencies of every route. Nil dependencies leave
// their routes unregistered.
type Handler struct {
	Views   *view.Store
	Graph   graph.Store
	Ingest  *ingest.Normalizer
	Hosts   HostLister
	Metrics *metrics.Metrics
	Timeout time.Duration

	// HostWindow and HostThreshold bound the /api/hosts watchlist.
	HostWindow    time.Duration
	HostThreshold int64
}

// Router registers the routes available for the configured dependencies.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.healthHandler).Methods(http.MethodGet)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler()).Methods(http.MethodGet)
	}
	if h.Views != nil {
		r.HandleFunc("/api/security-analysis", h.securityAnalysisHandler).Methods(http.MethodGet, http.MethodOptions)
	}
	if h.Graph != nil {
		r.HandleFunc("/graph", h.graphHandler).Methods(http.MethodGet)
	}
	if h.Hosts != nil {
		r.HandleFunc("/api/hosts", h.hostsHandler).Methods(http.MethodGet)
	}
	if h.Ingest != nil {
		r.HandleFunc("/api/sessions", h.sessionsHandler).Methods(http.MethodPost)
		r.HandleFunc("/api/logs", h.logsHandler).Methods(http.MethodGet)
	}
	return r
}

func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) securityAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, h.Views.Load())
}

func (h *Handler) graphHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	snap, err := h.Graph.Snapshot(ctx)
	if err != nil {
		logger.Errorf("Error fetching graph data: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch graph data"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	count, err := h.Ingest.Accept(r.Context(), body)
	if errors.Is(err, ingest.ErrInvalidBatch) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid data format"})
		return
	}
	if err != nil {
		logger.Errorf("/api/sessions error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Sessions received",
		"accepted": count,
	})
}

func (h *Handler) logsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": h.Ingest.Recent()})
}

// hostsHandler serves the watchlist. Query parameters: window (Go duration),
// threshold (risk score) and all=true to skip the watchlist filter.
func (h *Handler) hostsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := h.HostWindow
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid window"})
			return
		}
		window = d
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	threshold := h.HostThreshold
	if v := q.Get("threshold"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid threshold"})
			return
		}
		threshold = n
	}

	states, err := h.Hosts.FetchActiveSince(r.Context(), time.Now().Add(-window), 1000)
	if err != nil {
		logger.Errorf("Error fetching host state: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch host state"})
		return
	}
	if q.Get("all") == "true" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": states})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": hoststate.Watchlist(states, threshold)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to encode response: %v", err)
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Infof("HTTP server on %s stopped", addr)
	return nil
}
