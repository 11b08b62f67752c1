// ABOUTME: Operator endpoints for triggering backups and browsing the catalog
// ABOUTME: Maps run failure codes onto HTTP statuses

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Baron-Systems/fb/internal/orchestrator"
	"github.com/Baron-Systems/fb/internal/store"
)

type backupTriggerRequest struct {
	AgentID string `json:"agent_id"`
	Stack   string `json:"stack"`
	Site    string `json:"site"`
}

// handleBackupTrigger starts a synchronous backup run. The response carries
// the run outcome; failures use the orchestrator's stable codes.
func (s *Server) handleBackupTrigger(w http.ResponseWriter, r *http.Request) {
	var req backupTriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Stack == "" || req.Site == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "agent_id, stack and site are required")
		return
	}

	result, err := s.runner.RunBackup(r.Context(), store.AuditActorUI, req.AgentID, req.Stack, req.Site)
	if err != nil {
		s.logger.Error("running backup", "agent_id", req.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "backup run failed")
		return
	}
	if !result.OK {
		writeError(w, statusForCode(result.Code), result.Code, result.Detail)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"backup_id":  result.BackupID,
		"backup_dir": result.BackupDir,
	})
}

// statusForCode maps run failure codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case orchestrator.CodeUnknownAgent:
		return http.StatusNotFound
	case orchestrator.CodeRunInProgress:
		return http.StatusConflict
	case orchestrator.CodeAgentUnreachable:
		return http.StatusBadGateway
	case orchestrator.CodeAgentError, orchestrator.CodeBackupFailed:
		return http.StatusBadGateway
	case orchestrator.CodeStorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// backupView is the API shape of a backup record, manifest inlined.
type backupView struct {
	ID        int64           `json:"id"`
	TS        time.Time       `json:"ts"`
	AgentID   string          `json:"agent_id"`
	Stack     string          `json:"stack"`
	Site      string          `json:"site"`
	BackupDir string          `json:"backup_dir"`
	Manifest  json.RawMessage `json:"manifest,omitempty"`
	Rating    *int            `json:"rating,omitempty"`
	Feedback  *string         `json:"feedback,omitempty"`
}

func toBackupView(b *store.Backup) backupView {
	return backupView{
		ID:        b.ID,
		TS:        b.TS,
		AgentID:   b.AgentID,
		Stack:     b.Stack,
		Site:      b.Site,
		BackupDir: b.BackupDir,
		Manifest:  json.RawMessage(b.Manifest),
		Rating:    b.Rating,
		Feedback:  b.Feedback,
	}
}

func (s *Server) handleBackupsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		backups []*store.Backup
		err     error
	)
	if q.Get("agent_id") != "" && q.Get("stack") != "" && q.Get("site") != "" {
		backups, err = s.store.ListBackupsForKey(r.Context(), q.Get("agent_id"), q.Get("stack"), q.Get("site"))
	} else {
		backups, err = s.store.ListBackups(r.Context(), queryLimit(r, 100))
	}
	if err != nil {
		s.logger.Error("listing backups", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "listing backups failed")
		return
	}

	views := make([]backupView, 0, len(backups))
	for _, b := range backups {
		views = append(views, toBackupView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": views})
}

func (s *Server) backupID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "backup id must be numeric")
		return 0, false
	}
	return id, true
}

func (s *Server) handleBackupDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.backupID(w, r)
	if !ok {
		return
	}
	b, err := s.store.GetBackup(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such backup")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toBackupView(b))
}

func (s *Server) handleBackupDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.backupID(w, r)
	if !ok {
		return
	}
	err := s.retain.DeleteBackup(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such backup")
		return
	}
	if err != nil {
		s.logger.Error("deleting backup", "backup_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "delete failed")
		return
	}
	s.auditOperator(r.Context(), store.AuditBackupDelete, strconv.FormatInt(id, 10), true, nil)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

type feedbackRequest struct {
	Rating   *int    `json:"rating"`
	Feedback *string `json:"feedback"`
}

// handleBackupFeedback stores an operator annotation on a backup record.
func (s *Server) handleBackupFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.backupID(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		writeError(w, http.StatusBadRequest, "bad_request", "rating must be between 1 and 5")
		return
	}

	err := s.store.AnnotateBackup(r.Context(), id, req.Rating, req.Feedback)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such backup")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "annotation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotated": id})
}
