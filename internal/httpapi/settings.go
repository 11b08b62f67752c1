// ABOUTME: Operator endpoints for schedules, retention, maintenance and audit
// ABOUTME: Every mutation leaves an audit entry naming the operator

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Baron-Systems/fb/internal/orchestrator"
	"github.com/Baron-Systems/fb/internal/store"
)

func (s *Server) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	raw, err := s.store.ListSettings(r.Context(), "schedule.")
	if err != nil {
		s.logger.Error("listing schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "listing schedules failed")
		return
	}

	schedules := make([]orchestrator.Schedule, 0, len(raw))
	for key, value := range raw {
		var sched orchestrator.Schedule
		if err := json.Unmarshal(value, &sched); err != nil {
			s.logger.Warn("skipping malformed schedule", "key", key, "error", err)
			continue
		}
		schedules = append(schedules, sched)
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

// handleScheduleSet creates or replaces the schedule for one site. Disabling
// is an update with enabled=false, so history of the slot survives.
func (s *Server) handleScheduleSet(w http.ResponseWriter, r *http.Request) {
	var sched orchestrator.Schedule
	if !decodeBody(w, r, &sched) {
		return
	}
	if err := sched.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := s.store.SetSetting(r.Context(), sched.Key(), sched); err != nil {
		s.logger.Error("storing schedule", "key", sched.Key(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "storing schedule failed")
		return
	}

	target := sched.AgentID + "/" + sched.Stack + "/" + sched.Site
	s.auditOperator(r.Context(), store.AuditScheduleSet, target, true, map[string]any{
		"frequency": sched.Frequency,
		"time":      sched.Time,
		"enabled":   sched.Enabled,
	})
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleRetentionGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keep": store.RetentionKeep(r.Context(), s.store)})
}

func (s *Server) handleRetentionSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keep int `json:"keep"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Keep < 1 || req.Keep > 365 {
		writeError(w, http.StatusBadRequest, "bad_request", "keep must be between 1 and 365")
		return
	}

	if err := s.store.SetSetting(r.Context(), store.SettingRetentionKeep, req.Keep); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "storing retention failed")
		return
	}
	s.auditOperator(r.Context(), store.AuditRetentionSet, strconv.Itoa(req.Keep), true, nil)
	writeJSON(w, http.StatusOK, map[string]any{"keep": req.Keep})
}

func (s *Server) handleMaintenanceGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"enabled": store.MaintenanceMode(r.Context(), s.store)})
}

func (s *Server) handleMaintenanceSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.store.SetSetting(r.Context(), store.SettingMaintenance, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "storing maintenance mode failed")
		return
	}
	s.auditOperator(r.Context(), store.AuditMaintenance, strconv.FormatBool(req.Enabled), true, nil)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(r.Context(), queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "listing audit log failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

func (s *Server) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	rows, err := s.store.ListNotifications(r.Context(), unreadOnly, queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "listing notifications failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": rows})
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.MarkNotificationRead(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such notification")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "marking notification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"read": id})
}
