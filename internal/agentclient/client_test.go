// ABOUTME: Tests for the signed agent HTTP client
// ABOUTME: Uses httptest servers that verify signatures like a real agent

package agentclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baron-Systems/fb/internal/protocol"
	"github.com/Baron-Systems/fb/internal/store"
)

// verifyRequest checks the signature headers the way an agent would and
// fails the test on mismatch.
func verifyRequest(t *testing.T, r *http.Request, secret string, body any) {
	t.Helper()
	ts, err := strconv.ParseInt(r.Header.Get(protocol.HeaderTimestamp), 10, 64)
	require.NoError(t, err, "missing or bad timestamp header")
	sig := r.Header.Get(protocol.HeaderSignature)
	require.NotEmpty(t, sig, "missing signature header")
	assert.True(t, protocol.Verify(secret, ts, r.Method, r.URL.Path, body, sig, time.Now()),
		"signature must verify")
}

func testClientAgent(baseURL string) (*Client, *store.Agent) {
	return New(Config{}), &store.Agent{
		AgentID:      "a1",
		BaseURL:      baseURL,
		SharedSecret: protocol.NewSecret(),
	}
}

func TestNew_AppliesConfiguredTimeouts(t *testing.T) {
	c := New(Config{ControlTimeout: 5 * time.Second, TransferTimeout: time.Minute})
	assert.Equal(t, 5*time.Second, c.control.HTTPClient.Timeout)
	assert.Equal(t, time.Minute, c.transfer.HTTPClient.Timeout)
	assert.Equal(t, time.Minute, c.trigger.Timeout)
}

func TestNew_DefaultsZeroTimeouts(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultControlTimeout, c.control.HTTPClient.Timeout)
	assert.Equal(t, DefaultTransferTimeout, c.transfer.HTTPClient.Timeout)
	assert.Equal(t, DefaultTransferTimeout, c.trigger.Timeout)
}

func TestTriggerBackup_SignsAndReturnsAgentResult(t *testing.T) {
	var agent *store.Agent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/backup_site", r.URL.Path)

		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "main", body["stack"])
		assert.Equal(t, "example.com", body["site"])
		verifyRequest(t, r, agent.SharedSecret, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"artifacts":["db.sql.gz"],"duration_s":4.2}`))
	}))
	defer srv.Close()

	var c *Client
	c, agent = testClientAgent(srv.URL)

	result, err := c.TriggerBackup(t.Context(), agent, "main", "example.com")
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, []any{"db.sql.gz"}, result["artifacts"])
}

func TestTriggerBackup_StatusErrorSnipsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	c, agent := testClientAgent(srv.URL)

	_, err := c.TriggerBackup(t.Context(), agent, "main", "example.com")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Len(t, se.Body, maxErrorBody)
}

func TestTriggerBackup_Unreachable(t *testing.T) {
	// Bind-then-close guarantees nothing is listening on the port.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, agent := testClientAgent(url)

	_, err := c.TriggerBackup(t.Context(), agent, "main", "example.com")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestListSites_SignsEmptyBody(t *testing.T) {
	var agent *store.Agent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/list_sites", r.URL.Path)
		verifyRequest(t, r, agent.SharedSecret, nil)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sites":[{"stack":"main","site":"example.com"}]}`))
	}))
	defer srv.Close()

	var c *Client
	c, agent = testClientAgent(srv.URL)

	result, err := c.ListSites(t.Context(), agent)
	require.NoError(t, err)
	require.Contains(t, result, "sites")
}

func TestPullArtifact_SignsPathAndWritesFile(t *testing.T) {
	content := []byte("backup artifact bytes")
	var agent *store.Agent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pull_artifact", r.URL.Path)
		p := r.URL.Query().Get("path")
		assert.Equal(t, "db.sql.gz", p)
		verifyRequest(t, r, agent.SharedSecret, map[string]any{"path": p})

		_, _ = w.Write(content)
	}))
	defer srv.Close()

	var c *Client
	c, agent = testClientAgent(srv.URL)

	dst := filepath.Join(t.TempDir(), "db.sql.gz")
	require.NoError(t, c.PullArtifact(t.Context(), agent, "db.sql.gz", dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPullArtifact_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such artifact"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, agent := testClientAgent(srv.URL)

	dst := filepath.Join(t.TempDir(), "missing.bin")
	err := c.PullArtifact(t.Context(), agent, "missing.bin", dst)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.NoFileExists(t, dst)
}
