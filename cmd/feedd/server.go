package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/tickerfeed/internal/feed"
	"github.com/rickgao/tickerfeed/internal/model"
	"github.com/rickgao/tickerfeed/internal/version"
	"github.com/rickgao/tickerfeed/internal/writer"
)

// pinger is the part of a mirror backend the health check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// server serves health and debug endpoints. backends and mirrors are keyed
// by mirror name and empty when no mirror is enabled.
type server struct {
	registry *feed.Registry
	backends map[string]pinger
	mirrors  map[string]*writer.Mirror
	logger   *slog.Logger
}

// addMirror registers a running mirror and its backend.
func (s *server) addMirror(name string, backend pinger, m *writer.Mirror) {
	if s.backends == nil {
		s.backends = make(map[string]pinger)
		s.mirrors = make(map[string]*writer.Mirror)
	}
	s.backends[name] = backend
	s.mirrors[name] = m
}

// handler creates the HTTP handler for health checks and debugging.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/debug/tickers", s.handleTickers)
	mux.HandleFunc("/debug/connections", s.handleConnections)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    version.Info   `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	stats := s.registry.Stats()
	health.Components["feed"] = map[string]any{
		"exchange":      stats.Exchange,
		"handles":       stats.Handles,
		"symbols":       stats.Symbols,
		"store_entries": stats.StoreEntries,
		"by_state":      stats.ByState,
	}
	if stats.Degraded() {
		health.Status = "degraded"
	}

	for name, b := range s.backends {
		if err := b.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components[name] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components[name] = "connected"
		}
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

// handleTickers returns latest values. ?symbols=A,B narrows the result;
// without it every stored value is returned.
func (s *server) handleTickers(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		snap := s.registry.Store().Snapshot()
		s.writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(snap),
			"tickers": snap,
		})
		return
	}

	syms, err := model.NormalizeSymbols(strings.Split(raw, ","))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	found := s.registry.Store().GetMany(syms)
	missing := make([]model.Symbol, 0)
	for _, sym := range syms {
		if _, ok := found[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(found),
		"tickers": found,
		"missing": missing,
	})
}

func (s *server) handleConnections(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	resp := map[string]any{
		"exchange":      stats.Exchange,
		"by_state":      stats.ByState,
		"stale_rejects": stats.StaleRejects,
		"supervisors":   stats.Supervisors,
	}
	if len(s.mirrors) > 0 {
		mirrors := make(map[string]writer.MirrorMetrics, len(s.mirrors))
		for name, m := range s.mirrors {
			mirrors[name] = m.Stats()
		}
		resp["mirrors"] = mirrors
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}
