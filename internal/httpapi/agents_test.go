// ABOUTME: Tests for operator agent-directory endpoints
// ABOUTME: Secret hygiene, deletion, rotation and the site refresh probe

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baron-Systems/fb/internal/agentclient"
	"github.com/Baron-Systems/fb/internal/orchestrator"
	"github.com/Baron-Systems/fb/internal/store"
)

func TestAgentsList_NeverExposesSecret(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")

	rec, _ := h.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), "web1")
}

func TestAgentDetail(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")

	rec, body := h.do(t, http.MethodGet, "/api/agents/web1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "web1", body["agent_id"])

	rec, body = h.do(t, http.MethodGet, "/api/agents/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_agent", body["error"])
}

func TestAgentDelete(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")

	rec, _ := h.do(t, http.MethodDelete, "/api/agents/web1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := h.store.GetAgent(context.Background(), "web1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, _ = h.do(t, http.MethodDelete, "/api/agents/web1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentDelete_RemovesSchedules(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")
	ctx := context.Background()

	s := orchestrator.Schedule{AgentID: "web1", Stack: "main", Site: "example.com",
		Frequency: orchestrator.FreqDaily, Time: "02:30", Enabled: true}
	require.NoError(t, h.store.SetSetting(ctx, s.Key(), s))

	rec, _ := h.do(t, http.MethodDelete, "/api/agents/web1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	remaining, err := h.store.ListSettings(ctx, "schedule.")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestAgentRotateSecret(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")

	before, err := h.store.GetAgent(context.Background(), "web1")
	require.NoError(t, err)

	rec, body := h.do(t, http.MethodPost, "/api/agents/web1/rotate_secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, body["shared_secret"])
	assert.NotEqual(t, before.SharedSecret, body["shared_secret"])

	after, err := h.store.GetAgent(context.Background(), "web1")
	require.NoError(t, err)
	assert.Equal(t, body["shared_secret"], after.SharedSecret)
}

func TestAgentRefresh_StoresSites(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")
	h.fake.sitesResult = map[string]any{
		"sites": []any{map[string]any{"stack": "main", "site": "example.com"}},
	}

	rec, body := h.do(t, http.MethodPost, "/api/agents/web1/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, body["sites"])

	agent, err := h.store.GetAgent(context.Background(), "web1")
	require.NoError(t, err)
	assert.NotNil(t, agent.Meta["sites"])
}

func TestAgentRefresh_Unreachable(t *testing.T) {
	h := setupAPI(t)
	h.registerTestAgent(t, "web1")
	h.fake.sitesErr = fmt.Errorf("%w: connection refused", agentclient.ErrUnreachable)

	rec, body := h.do(t, http.MethodPost, "/api/agents/web1/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "agent_unreachable", body["error"])
}
