// Package server exposes the HTTP gateway: health, status and message
// ingestion. It only publishes to the bus; the agent loop does the rest.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cexll/agentd/pkg/bus"
	"github.com/cexll/agentd/pkg/core"
	"github.com/cexll/agentd/pkg/metrics"
	"github.com/cexll/agentd/pkg/tool"
)

// Server is the HTTP ingestion gateway.
type Server struct {
	bus      *bus.Bus
	metrics  *metrics.Store
	registry *tool.Registry
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Server with pre-wired routes. registry may be nil; tool
// stats are then omitted from the status payload.
func New(b *bus.Bus, store *metrics.Store, registry *tool.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:      b,
		metrics:  store,
		registry: registry,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/message", s.handleMessage)
}

// ServeHTTP implements http.Handler and delegates to the internal mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway on the given port.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Info("gateway listening", "addr", addr)
	return http.ListenAndServe(addr, s)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"metrics": s.metrics.Snapshot(),
	}
	if s.registry != nil {
		payload["tools"] = s.registry.StatsSnapshot()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload struct {
		Message    string `json:"message"`
		SessionKey string `json:"session_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	sessionKey := strings.TrimSpace(payload.SessionKey)
	if sessionKey == "" {
		sessionKey = "http:" + uuid.NewString()
	}

	msg := core.NewMessage("http", sessionKey, core.RoleUser, payload.Message)
	if err := s.bus.Publish(bus.Inbound(msg)); err != nil {
		s.logger.Error("gateway: publish failed", "error", err)
		http.Error(w, "agent is shutting down", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":          msg.ID,
		"session_key": sessionKey,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
