// ABOUTME: Operator endpoints for the agent directory
// ABOUTME: Listing, inspection, refresh, secret rotation and removal

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/Baron-Systems/fb/internal/store"
)

// agentView is the API shape of an agent record. The shared secret never
// leaves the controller through the operator API.
type agentView struct {
	AgentID     string         `json:"agent_id"`
	DisplayName string         `json:"display_name"`
	CreatedAt   time.Time      `json:"created_at"`
	LastSeen    time.Time      `json:"last_seen"`
	BaseURL     string         `json:"base_url"`
	Meta        map[string]any `json:"meta,omitempty"`
}

func toAgentView(a *store.Agent) agentView {
	return agentView{
		AgentID:     a.AgentID,
		DisplayName: a.DisplayName,
		CreatedAt:   a.CreatedAt,
		LastSeen:    a.LastSeen,
		BaseURL:     a.BaseURL,
		Meta:        a.Meta,
	}
}

func (s *Server) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("listing agents", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "listing agents failed")
		return
	}
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, toAgentView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": views})
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown_agent", "no such agent")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toAgentView(agent))
}

func (s *Server) handleAgentDelete(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	err := s.store.DeleteAgent(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown_agent", "no such agent")
		return
	}
	if err != nil {
		s.logger.Error("deleting agent", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "delete failed")
		return
	}

	// A deleted agent's schedules would otherwise linger and log a lookup
	// miss every sweep.
	if schedules, err := s.store.ListSettings(r.Context(), "schedule."+agentID+"."); err == nil {
		for key := range schedules {
			if err := s.store.DeleteSetting(r.Context(), key); err != nil {
				s.logger.Warn("removing schedule for deleted agent", "key", key, "error", err)
			}
		}
	}

	s.auditOperator(r.Context(), store.AuditAgentDelete, agentID, true, nil)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": agentID})
}

// handleAgentRotateSecret mints a new shared secret. The agent must be told
// out of band (or re-register) before the next signed call will verify.
func (s *Server) handleAgentRotateSecret(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	secret, err := s.registry.RotateSecret(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown_agent", "no such agent")
		return
	}
	if err != nil {
		s.logger.Error("rotating agent secret", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "rotation failed")
		return
	}
	s.auditOperator(r.Context(), store.AuditSecretRotate, agentID, true, nil)
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "shared_secret": secret})
}

// handleAgentRefresh asks the agent for its current site list and stores it
// on the agent record. Doubles as a liveness probe.
func (s *Server) handleAgentRefresh(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown_agent", "no such agent")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}

	sites, err := s.agents.ListSites(r.Context(), agent)
	if err != nil {
		s.logger.Warn("refreshing agent sites", "agent_id", agentID, "error", err)
		writeError(w, http.StatusBadGateway, "agent_unreachable", err.Error())
		return
	}

	meta := agent.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	meta["sites"] = sites["sites"]
	if err := s.store.UpdateAgentMeta(r.Context(), agentID, meta, time.Now().UTC()); err != nil {
		s.logger.Error("storing agent meta", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "storing sites failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "sites": sites["sites"]})
}
