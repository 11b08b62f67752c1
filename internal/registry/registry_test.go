// ABOUTME: Tests for pending-token claims and TOFU agent upserts
// ABOUTME: Uses a fake clock to pin token TTL behavior

package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baron-Systems/fb/internal/store"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupRegistry(t *testing.T) (*Registry, *fakeClock, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "fb.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	r := New(st)
	r.SetClock(clock.Now)
	return r, clock, st
}

func TestClaim_Success(t *testing.T) {
	r, _, _ := setupRegistry(t)

	token := r.Issue("a1", "10.0.0.5")
	assert.True(t, r.Claim(token, "a1", "10.0.0.5"))
}

func TestClaim_SingleUse(t *testing.T) {
	r, _, _ := setupRegistry(t)

	token := r.Issue("a1", "10.0.0.5")
	assert.True(t, r.Claim(token, "a1", "10.0.0.5"))
	assert.False(t, r.Claim(token, "a1", "10.0.0.5"), "second claim must fail")
}

func TestClaim_BindsAgentAndSource(t *testing.T) {
	r, _, _ := setupRegistry(t)

	token := r.Issue("a1", "10.0.0.5")
	assert.False(t, r.Claim(token, "a2", "10.0.0.5"), "wrong agent_id")
	assert.False(t, r.Claim(token, "a1", "10.0.0.6"), "wrong source ip")
	// Mismatched claims must not consume the token.
	assert.True(t, r.Claim(token, "a1", "10.0.0.5"))
}

func TestClaim_UnknownToken(t *testing.T) {
	r, _, _ := setupRegistry(t)

	assert.False(t, r.Claim("never-issued", "a1", "10.0.0.5"))
}

func TestClaim_TTLBoundary(t *testing.T) {
	r, clock, _ := setupRegistry(t)

	token := r.Issue("a1", "10.0.0.5")
	clock.Advance(TokenTTL - time.Second)
	assert.True(t, r.Claim(token, "a1", "10.0.0.5"), "claim at TTL-1s succeeds")

	token = r.Issue("a1", "10.0.0.5")
	clock.Advance(TokenTTL + time.Second)
	assert.False(t, r.Claim(token, "a1", "10.0.0.5"), "claim at TTL+1s fails")
}

func TestSweep_DropsExpiredOnly(t *testing.T) {
	r, clock, _ := setupRegistry(t)

	old := r.Issue("a1", "10.0.0.5")
	clock.Advance(TokenTTL + time.Second)
	fresh := r.Issue("a2", "10.0.0.6")

	r.Sweep()
	assert.Equal(t, 1, r.PendingCount())
	assert.False(t, r.Claim(old, "a1", "10.0.0.5"))
	assert.True(t, r.Claim(fresh, "a2", "10.0.0.6"))
}

func TestUpsertAgent_MintsSecretOnce(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()

	first, err := r.UpsertAgent(ctx, "a1", "http://10.0.0.5:9000", map[string]any{"v": "1"})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := r.UpsertAgent(ctx, "a1", "http://10.0.0.5:9001", map[string]any{"v": "2"})
	require.NoError(t, err)
	assert.Equal(t, first, second, "re-registration must return the original secret")
}

func TestUpsertAgent_DistinctSecretsPerAgent(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()

	s1, err := r.UpsertAgent(ctx, "a1", "http://10.0.0.5:9000", nil)
	require.NoError(t, err)
	s2, err := r.UpsertAgent(ctx, "a2", "http://10.0.0.6:9000", nil)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestUpsertAgent_RefreshesContact(t *testing.T) {
	r, _, st := setupRegistry(t)
	ctx := context.Background()

	_, err := r.UpsertAgent(ctx, "a1", "http://10.0.0.5:9000", nil)
	require.NoError(t, err)
	_, err = r.UpsertAgent(ctx, "a1", "http://10.0.0.9:9100", map[string]any{"hostname": "web1"})
	require.NoError(t, err)

	agent, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.9:9100", agent.BaseURL)
	assert.Equal(t, "web1", agent.Meta["hostname"])
}

func TestReannounce_RequiresExistingAgent(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()

	_, err := r.Reannounce(ctx, "ghost", "http://10.0.0.5:9000", nil)
	assert.ErrorIs(t, err, ErrNotRegistered)

	secret, err := r.UpsertAgent(ctx, "a1", "http://10.0.0.5:9000", nil)
	require.NoError(t, err)

	got, err := r.Reannounce(ctx, "a1", "http://10.0.0.5:9001", nil)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestRotateSecret(t *testing.T) {
	r, _, st := setupRegistry(t)
	ctx := context.Background()

	original, err := r.UpsertAgent(ctx, "a1", "http://10.0.0.5:9000", nil)
	require.NoError(t, err)

	rotated, err := r.RotateSecret(ctx, "a1")
	require.NoError(t, err)
	assert.NotEqual(t, original, rotated)

	agent, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, rotated, agent.SharedSecret)

	_, err = r.RotateSecret(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
