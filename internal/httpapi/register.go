// ABOUTME: Agent registration endpoint consuming discovery-issued tokens
// ABOUTME: Handles first-contact registration and the reannounce refresh path

package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Baron-Systems/fb/internal/registry"
	"github.com/Baron-Systems/fb/internal/store"
)

type registerRequest struct {
	Token   string         `json:"token"`
	AgentID string         `json:"agent_id"`
	Port    int            `json:"port"`
	Meta    map[string]any `json:"meta"`
}

type registerResponse struct {
	OK           bool   `json:"ok"`
	SharedSecret string `json:"shared_secret"`
	DashboardTS  int64  `json:"dashboard_ts"`
}

// writeRegisterError keeps the agent-facing envelope: a bare code, never a
// detail string, so a guessing agent learns nothing about why it failed.
func writeRegisterError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}

// handleRegister completes the trust-on-first-use handshake. A fresh token
// from discovery establishes trust and mints a secret; the reannounce token
// only refreshes an agent the controller already knows. The agent's base
// URL is built from the connection's source address and the port it claims,
// never from anything else in the request body.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeRegisterError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.AgentID == "" || req.Token == "" || req.Port < 1 || req.Port > 65535 {
		writeRegisterError(w, http.StatusBadRequest, "bad_request")
		return
	}

	ip := sourceIP(r)
	baseURL := "http://" + net.JoinHostPort(ip, strconv.Itoa(req.Port))

	if req.Token == registry.ReannounceToken {
		secret, err := s.registry.Reannounce(r.Context(), req.AgentID, baseURL, req.Meta)
		if errors.Is(err, registry.ErrNotRegistered) {
			writeRegisterError(w, http.StatusForbidden, "not_registered")
			return
		}
		if err != nil {
			s.logger.Error("reannouncing agent", "agent_id", req.AgentID, "error", err)
			writeRegisterError(w, http.StatusInternalServerError, "internal")
			return
		}
		s.audit(r.Context(), store.AuditReannounce, req.AgentID, true, map[string]any{"source_ip": ip})
		writeJSON(w, http.StatusOK, registerResponse{
			OK: true, SharedSecret: secret, DashboardTS: time.Now().Unix(),
		})
		return
	}

	if !s.registry.Claim(req.Token, req.AgentID, ip) {
		// One ambiguous code for unknown, expired and mismatched tokens.
		s.logger.Warn("rejected registration", "agent_id", req.AgentID, "source_ip", ip)
		writeRegisterError(w, http.StatusForbidden, "invalid_token")
		return
	}

	secret, err := s.registry.UpsertAgent(r.Context(), req.AgentID, baseURL, req.Meta)
	if err != nil {
		s.logger.Error("registering agent", "agent_id", req.AgentID, "error", err)
		writeRegisterError(w, http.StatusInternalServerError, "internal")
		return
	}

	s.audit(r.Context(), store.AuditRegister, req.AgentID, true, map[string]any{
		"source_ip": ip,
		"base_url":  baseURL,
	})
	writeJSON(w, http.StatusOK, registerResponse{
		OK: true, SharedSecret: secret, DashboardTS: time.Now().Unix(),
	})
}
