// ABOUTME: Shared test harness for the HTTP API plus auth middleware tests
// ABOUTME: Real store, registry and runner; only the agent transport is faked

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baron-Systems/fb/internal/auth"
	"github.com/Baron-Systems/fb/internal/notify"
	"github.com/Baron-Systems/fb/internal/orchestrator"
	"github.com/Baron-Systems/fb/internal/protocol"
	"github.com/Baron-Systems/fb/internal/registry"
	"github.com/Baron-Systems/fb/internal/retention"
	"github.com/Baron-Systems/fb/internal/store"
)

var testJWTSecret = []byte("httpapi-test-secret")

// fakeAgentTransport fakes the agent side for both the runner and the
// refresh endpoint.
type fakeAgentTransport struct {
	triggerResult map[string]any
	triggerErr    error
	sitesResult   map[string]any
	sitesErr      error
}

func (f *fakeAgentTransport) TriggerBackup(ctx context.Context, agent *store.Agent, stack, site string) (map[string]any, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	if f.triggerResult != nil {
		return f.triggerResult, nil
	}
	return map[string]any{"ok": true, "artifacts": []any{}}, nil
}

func (f *fakeAgentTransport) PullArtifact(ctx context.Context, agent *store.Agent, artifactPath, dst string) error {
	return os.WriteFile(dst, []byte("artifact:"+artifactPath), 0o644)
}

func (f *fakeAgentTransport) ListSites(ctx context.Context, agent *store.Agent) (map[string]any, error) {
	if f.sitesErr != nil {
		return nil, f.sitesErr
	}
	return f.sitesResult, nil
}

type harness struct {
	server   *Server
	mux      *http.ServeMux
	store    store.Store
	registry *registry.Registry
	fake     *fakeAgentTransport
	token    string
}

func setupAPI(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "fb.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := &fakeAgentTransport{}
	reg := registry.New(st)
	root := t.TempDir()
	retain := retention.New(st, root)
	runner := orchestrator.NewRunner(st, fake, notify.Nop{}, retain, root)
	server := New(st, reg, runner, retain, fake, auth.NewVerifier(testJWTSecret))

	token, err := auth.Mint(testJWTSecret, "ops", time.Hour)
	require.NoError(t, err)

	return &harness{
		server:   server,
		mux:      server.Routes(),
		store:    st,
		registry: reg,
		fake:     fake,
		token:    token,
	}
}

// do executes an authenticated request and decodes the JSON response.
func (h *harness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return h.doWithToken(t, method, path, body, h.token)
}

func (h *harness) doWithToken(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded),
			"response body: %s", rec.Body.String())
	}
	return rec, decoded
}

// registerTestAgent creates an agent record directly in the store.
func (h *harness) registerTestAgent(t *testing.T, agentID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, h.store.CreateAgent(context.Background(), &store.Agent{
		AgentID:      agentID,
		DisplayName:  agentID,
		CreatedAt:    now,
		LastSeen:     now,
		BaseURL:      "http://10.0.0.5:9000",
		SharedSecret: protocol.NewSecret(),
	}))
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h := setupAPI(t)

	rec, body := h.doWithToken(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuth_MissingToken(t *testing.T) {
	h := setupAPI(t)

	rec, body := h.doWithToken(t, http.MethodGet, "/api/agents", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestAuth_BadToken(t *testing.T) {
	h := setupAPI(t)

	rec, _ := h.doWithToken(t, http.MethodGet, "/api/agents", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ValidTokenPasses(t *testing.T) {
	h := setupAPI(t)

	rec, _ := h.do(t, http.MethodGet, "/api/agents", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
