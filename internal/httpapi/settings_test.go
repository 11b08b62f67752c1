// ABOUTME: Tests for schedule, retention, maintenance and audit endpoints
// ABOUTME: Every mutation is checked for its audit trail entry

package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baron-Systems/fb/internal/store"
)

func TestScheduleSetAndList(t *testing.T) {
	h := setupAPI(t)

	rec, body := h.do(t, http.MethodPut, "/api/schedules", map[string]any{
		"agent_id":  "web1",
		"stack":     "main",
		"site":      "example.com",
		"frequency": "daily",
		"time":      "02:30",
		"enabled":   true,
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %v", body)

	rec, body = h.do(t, http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedules := body["schedules"].([]any)
	require.Len(t, schedules, 1)
	first := schedules[0].(map[string]any)
	assert.Equal(t, "example.com", first["site"])
	assert.Equal(t, "02:30", first["time"])

	// The mutation is audited with the operator name.
	entries, err := h.store.ListAudit(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditScheduleSet, entries[0].Action)
	assert.Equal(t, "ops", entries[0].Detail["operator"])
}

func TestScheduleSet_Invalid(t *testing.T) {
	h := setupAPI(t)

	rec, body := h.do(t, http.MethodPut, "/api/schedules", map[string]any{
		"agent_id":  "web1",
		"stack":     "main",
		"site":      "example.com",
		"frequency": "weekly",
		"time":      "02:30",
		"enabled":   true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["error"])
}

func TestRetentionGetSet(t *testing.T) {
	h := setupAPI(t)

	rec, body := h.do(t, http.MethodGet, "/api/settings/retention", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(store.DefaultRetentionKeep), body["keep"])

	rec, _ = h.do(t, http.MethodPut, "/api/settings/retention", map[string]any{"keep": 30})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = h.do(t, http.MethodGet, "/api/settings/retention", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(30), body["keep"])
}

func TestRetentionSet_Range(t *testing.T) {
	h := setupAPI(t)

	rec, _ := h.do(t, http.MethodPut, "/api/settings/retention", map[string]any{"keep": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPut, "/api/settings/retention", map[string]any{"keep": 1000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintenanceToggle(t *testing.T) {
	h := setupAPI(t)
	ctx := context.Background()

	rec, body := h.do(t, http.MethodGet, "/api/settings/maintenance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"])

	rec, _ = h.do(t, http.MethodPut, "/api/settings/maintenance", map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.MaintenanceMode(ctx, h.store))
}

func TestAuditList(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")
	runTestBackup(t, h)

	rec, body := h.do(t, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["audit"].([]any)
	require.NotEmpty(t, entries)
	first := entries[0].(map[string]any)
	assert.Equal(t, store.AuditBackupRequest, first["action"])
}

func TestNotificationsMarkRead(t *testing.T) {
	h := setupAPI(t)
	ctx := context.Background()

	n := &store.Notification{Kind: "backup.failure", Title: "Backup Failed", Message: "x"}
	require.NoError(t, h.store.InsertNotification(ctx, n))

	rec, body := h.do(t, http.MethodGet, "/api/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["notifications"].([]any), 1)

	rec, _ = h.do(t, http.MethodPost, "/api/notifications/"+n.ID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = h.do(t, http.MethodGet, "/api/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["notifications"])
}
