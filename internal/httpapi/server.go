// ABOUTME: HTTP API server wiring routes, operator auth and JSON helpers
// ABOUTME: Registration is token-gated, everything else requires a JWT

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/Baron-Systems/fb/internal/auth"
	"github.com/Baron-Systems/fb/internal/orchestrator"
	"github.com/Baron-Systems/fb/internal/registry"
	"github.com/Baron-Systems/fb/internal/retention"
	"github.com/Baron-Systems/fb/internal/store"
)

// AgentLister is the slice of the agent client the refresh endpoint needs.
type AgentLister interface {
	ListSites(ctx context.Context, agent *store.Agent) (map[string]any, error)
}

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const operatorContextKey contextKey = "operator"

// Server holds the HTTP API dependencies.
type Server struct {
	store    store.Store
	registry *registry.Registry
	runner   *orchestrator.Runner
	retain   *retention.Manager
	agents   AgentLister
	verifier auth.Verifier
	logger   *slog.Logger
}

// New creates the API server.
func New(st store.Store, reg *registry.Registry, runner *orchestrator.Runner, retain *retention.Manager, agents AgentLister, verifier auth.Verifier) *Server {
	return &Server{
		store:    st,
		registry: reg,
		runner:   runner,
		retain:   retain,
		agents:   agents,
		verifier: verifier,
		logger:   slog.Default().With("component", "httpapi"),
	}
}

// Routes builds the API mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Unauthenticated
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/agents/register", s.handleRegister)

	// Operator API
	mux.HandleFunc("GET /api/agents", s.requireAuth(s.handleAgentsList))
	mux.HandleFunc("GET /api/agents/{id}", s.requireAuth(s.handleAgentDetail))
	mux.HandleFunc("DELETE /api/agents/{id}", s.requireAuth(s.handleAgentDelete))
	mux.HandleFunc("POST /api/agents/{id}/rotate_secret", s.requireAuth(s.handleAgentRotateSecret))
	mux.HandleFunc("POST /api/agents/{id}/refresh", s.requireAuth(s.handleAgentRefresh))

	mux.HandleFunc("POST /api/backup", s.requireAuth(s.handleBackupTrigger))
	mux.HandleFunc("GET /api/backups", s.requireAuth(s.handleBackupsList))
	mux.HandleFunc("GET /api/backups/{id}", s.requireAuth(s.handleBackupDetail))
	mux.HandleFunc("DELETE /api/backups/{id}", s.requireAuth(s.handleBackupDelete))
	mux.HandleFunc("POST /api/backups/{id}/feedback", s.requireAuth(s.handleBackupFeedback))

	mux.HandleFunc("GET /api/schedules", s.requireAuth(s.handleSchedulesList))
	mux.HandleFunc("PUT /api/schedules", s.requireAuth(s.handleScheduleSet))

	mux.HandleFunc("GET /api/settings/retention", s.requireAuth(s.handleRetentionGet))
	mux.HandleFunc("PUT /api/settings/retention", s.requireAuth(s.handleRetentionSet))
	mux.HandleFunc("GET /api/settings/maintenance", s.requireAuth(s.handleMaintenanceGet))
	mux.HandleFunc("PUT /api/settings/maintenance", s.requireAuth(s.handleMaintenanceSet))

	mux.HandleFunc("GET /api/audit", s.requireAuth(s.handleAuditList))
	mux.HandleFunc("GET /api/notifications", s.requireAuth(s.handleNotificationsList))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.requireAuth(s.handleNotificationRead))

	return mux
}

// requireAuth wraps a handler with bearer-token verification.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		operator, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), operatorContextKey, operator)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// sourceIP extracts the peer address for token claims. Registration trust
// is bound to the network source, so proxy headers are deliberately ignored.
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// queryLimit parses an optional ?limit= parameter.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// audit records a completed one-shot action by a registering agent.
func (s *Server) audit(ctx context.Context, action, target string, ok bool, detail map[string]any) {
	entry := &store.AuditEntry{
		Actor:  store.AuditActorAgent,
		Action: action,
		Target: target,
		OK:     ok,
		Detail: detail,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Warn("appending audit entry", "action", action, "error", err)
	}
}

// auditOperator records a completed one-shot operator action, tagging the
// authenticated operator in the detail.
func (s *Server) auditOperator(ctx context.Context, action, target string, ok bool, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	if operator, k := ctx.Value(operatorContextKey).(string); k {
		detail["operator"] = operator
	}
	entry := &store.AuditEntry{
		Actor:  store.AuditActorUI,
		Action: action,
		Target: target,
		OK:     ok,
		Detail: detail,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Warn("appending audit entry", "action", action, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code, "detail": detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}
