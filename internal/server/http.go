package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whoamihappyhacking/just-talk/internal/config"
	"github.com/whoamihappyhacking/just-talk/internal/metrics"
	"github.com/whoamihappyhacking/just-talk/internal/session"
)

// SnapshotProvider exposes the live state of the recognition engine.
type SnapshotProvider interface {
	CurrentSnapshot() session.Snapshot
}

// HTTPServer provides the local status API.
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	engine  SnapshotProvider
	history *session.History
	stats   *session.Stats
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the status API server. It does not listen
// until Start is called.
func NewHTTPServer(logger *slog.Logger, cfg *config.Config, engine SnapshotProvider,
	history *session.History, stats *session.Stats, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		engine:    engine,
		history:   history,
		stats:     stats,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler exposes the route mux, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.withMetrics("/healthz", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/history", h.withMetrics("/history", h.handleHistory))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps a handler with request accounting.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start begins serving in the background.
func (h *HTTPServer) Start() error {
	h.logger.Info("starting status API",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("status API error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("stopping status API")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.engine.CurrentSnapshot()
	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"engine": map[string]interface{}{
			"state":     snap.State,
			"mode":      snap.Mode,
			"connected": snap.Connected,
		},
	}

	writeJSON(w, health)
}

func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, h.engine.CurrentSnapshot())
}

func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := h.history.Entries()
	response := map[string]interface{}{
		"total":     len(entries),
		"timestamp": time.Now().UTC(),
		"entries":   entries,
	}

	writeJSON(w, response)
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"dictation": h.stats.Snapshot(),
	}

	writeJSON(w, stats)
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Access token and app id are intentionally omitted.
	sanitized := map[string]interface{}{
		"connection": map[string]interface{}{
			"base_url":          h.config.Connection.BaseURL,
			"resource_id":       h.config.Connection.ResourceID,
			"use_gzip":          h.config.Connection.UseGzip,
			"trial_credentials": h.config.UsingTrialCredentials(),
		},
		"recognition": map[string]interface{}{
			"mode":        h.config.Recognition.Mode,
			"enable_punc": h.config.Recognition.EnablePunc,
			"enable_ddc":  h.config.Recognition.EnableDDC,
		},
		"audio": map[string]interface{}{
			"chunk_ms": h.config.Audio.ChunkMS,
		},
		"finalize": map[string]interface{}{
			"timeout_ms":        h.config.Finalize.TimeoutMS,
			"recording_limit_s": h.config.Finalize.RecordingLimitS,
		},
		"delivery": map[string]interface{}{
			"mode":        h.config.Delivery.Mode,
			"paste_combo": h.config.Delivery.PasteCombo,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, sanitized)
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "just-talk",
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /healthz": "Service health check",
			"GET /session": "Live recognition session state",
			"GET /history": "Transcript history, newest first",
			"GET /stats":   "Dictation totals and speed",
			"GET /config":  "Sanitized configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
