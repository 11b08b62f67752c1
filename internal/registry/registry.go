// ABOUTME: Pending-token registry and TOFU agent registration service
// ABOUTME: Tokens bind to (agent_id, source_ip), expire after 30s, claim once

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Baron-Systems/fb/internal/protocol"
	"github.com/Baron-Systems/fb/internal/store"
)

// TokenTTL is how long a discovery-issued registration token stays valid.
const TokenTTL = 30 * time.Second

// ReannounceToken is the distinguished token value that lets an
// already-registered agent refresh its address and liveness without a
// fresh discovery handshake.
const ReannounceToken = "__reannounce__"

// ErrNotRegistered is returned when a reannounce names an unknown agent.
var ErrNotRegistered = errors.New("agent not registered")

// PendingToken is a short-lived registration grant issued during discovery.
// It authorizes exactly one registration for the (agent, source IP) pair
// that requested it.
type PendingToken struct {
	Token     string
	AgentID   string
	SourceIP  string
	CreatedAt time.Time
}

// Registry owns the in-memory pending-token table and the agent upsert path.
// The discovery listener is the sole issuer; claims may arrive concurrently
// from registration handlers, so the table is guarded by one mutex.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]PendingToken

	now func() time.Time
}

// New creates a Registry backed by the given store.
func New(st store.Store) *Registry {
	return &Registry{
		store:   st,
		logger:  slog.Default().With("component", "registry"),
		pending: make(map[string]PendingToken),
		now:     time.Now,
	}
}

// SetClock overrides the registry clock. Test use only.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Issue creates a fresh high-entropy token bound to (agentID, sourceIP)
// and records it as pending.
func (r *Registry) Issue(agentID, sourceIP string) string {
	token := protocol.NewSecret()
	now := r.now()

	r.mu.Lock()
	r.pending[token] = PendingToken{
		Token:     token,
		AgentID:   agentID,
		SourceIP:  sourceIP,
		CreatedAt: now,
	}
	r.mu.Unlock()

	r.logger.Debug("issued registration token", "agent_id", agentID, "source_ip", sourceIP)
	return token
}

// Claim consumes a pending token. It succeeds only when the token exists,
// has not expired, and both the claimed agent ID and the caller's network
// source match the values recorded at issuance. A successful claim removes
// the token, so a replay fails.
func (r *Registry) Claim(token, agentID, sourceIP string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	pt, ok := r.pending[token]
	if !ok {
		return false
	}
	if now.Sub(pt.CreatedAt) > TokenTTL {
		delete(r.pending, token)
		return false
	}
	if pt.AgentID != agentID || pt.SourceIP != sourceIP {
		return false
	}
	delete(r.pending, token)
	return true
}

// Sweep discards tokens older than the TTL. The discovery listener calls
// this from its receive loop so expiry proceeds even under silence.
func (r *Registry) Sweep() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for token, pt := range r.pending {
		if now.Sub(pt.CreatedAt) > TokenTTL {
			delete(r.pending, token)
		}
	}
}

// PendingCount reports the number of unexpired tokens currently held.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// UpsertAgent registers or refreshes an agent record and returns its shared
// secret. A new agent gets a freshly minted secret; an existing agent keeps
// its secret while base_url, meta and last_seen are updated.
func (r *Registry) UpsertAgent(ctx context.Context, agentID, baseURL string, meta map[string]any) (string, error) {
	now := r.now().UTC()

	existing, err := r.store.GetAgent(ctx, agentID)
	if err == nil {
		if err := r.store.UpdateAgentContact(ctx, agentID, baseURL, meta, now); err != nil {
			return "", fmt.Errorf("refreshing agent %s: %w", agentID, err)
		}
		return existing.SharedSecret, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("looking up agent %s: %w", agentID, err)
	}

	secret := protocol.NewSecret()
	agent := &store.Agent{
		AgentID:      agentID,
		DisplayName:  agentID,
		CreatedAt:    now,
		LastSeen:     now,
		BaseURL:      baseURL,
		SharedSecret: secret,
		Meta:         meta,
	}
	if err := r.store.CreateAgent(ctx, agent); err != nil {
		// Lost a race with a concurrent registration for the same ID:
		// the first writer's secret wins.
		if errors.Is(err, store.ErrDuplicateAgent) {
			return r.UpsertAgent(ctx, agentID, baseURL, meta)
		}
		return "", fmt.Errorf("creating agent %s: %w", agentID, err)
	}

	r.logger.Info("registered new agent", "agent_id", agentID, "base_url", baseURL)
	return secret, nil
}

// Reannounce refreshes an already-registered agent without a claimed token.
// Returns ErrNotRegistered when no record exists for the agent ID: the
// bypass never establishes trust, it only maintains it.
func (r *Registry) Reannounce(ctx context.Context, agentID, baseURL string, meta map[string]any) (string, error) {
	existing, err := r.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotRegistered
	}
	if err != nil {
		return "", fmt.Errorf("looking up agent %s: %w", agentID, err)
	}

	if err := r.store.UpdateAgentContact(ctx, agentID, baseURL, meta, r.now().UTC()); err != nil {
		return "", fmt.Errorf("refreshing agent %s: %w", agentID, err)
	}
	return existing.SharedSecret, nil
}

// RotateSecret mints a new shared secret for an agent. Explicit operator
// action; the new secret is returned so it can be delivered out of band.
func (r *Registry) RotateSecret(ctx context.Context, agentID string) (string, error) {
	secret := protocol.NewSecret()
	if err := r.store.UpdateAgentSecret(ctx, agentID, secret); err != nil {
		return "", err
	}
	return secret, nil
}
