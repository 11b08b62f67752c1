// ABOUTME: Backup run state machine: lock, trigger, pull, manifest, retain
// ABOUTME: One run per (agent, stack, site) key at a time, fail fast otherwise

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Baron-Systems/fb/internal/agentclient"
	"github.com/Baron-Systems/fb/internal/notify"
	"github.com/Baron-Systems/fb/internal/retention"
	"github.com/Baron-Systems/fb/internal/store"
)

// Run failure codes, stable across the HTTP API and audit detail.
const (
	CodeUnknownAgent     = "unknown_agent"
	CodeRunInProgress    = "run_in_progress"
	CodeAgentUnreachable = "agent_unreachable"
	CodeAgentError       = "agent_error"
	CodeBackupFailed     = "backup_failed"
	CodeStorageError     = "storage_error"
)

// AgentCaller is the slice of the agent client the runner needs.
type AgentCaller interface {
	TriggerBackup(ctx context.Context, agent *store.Agent, stack, site string) (map[string]any, error)
	PullArtifact(ctx context.Context, agent *store.Agent, artifactPath, dst string) error
	ListSites(ctx context.Context, agent *store.Agent) (map[string]any, error)
}

// PulledArtifact records one artifact transfer in the run manifest.
type PulledArtifact struct {
	Path    string `json:"path"`     // path as named by the agent
	SavedAs string `json:"saved_as"` // filename inside the run directory
	OK      bool   `json:"ok"`
}

// Manifest is written as manifest.json inside every run directory and
// stored verbatim on the backup record.
type Manifest struct {
	OK          bool             `json:"ok"`
	TS          time.Time        `json:"ts"`
	AgentID     string           `json:"agent_id"`
	Stack       string           `json:"stack"`
	Site        string           `json:"site"`
	AgentResult map[string]any   `json:"agent_result"`
	Pulled      []PulledArtifact `json:"pulled"`
}

// RunResult is the outcome of one backup run. Code is empty on success.
type RunResult struct {
	OK        bool
	Code      string
	Detail    string
	BackupID  int64
	BackupDir string
}

// Runner coordinates backup runs end to end. It owns the per-key in-flight
// table: a second request for a key that is already running fails fast
// instead of queueing, because a queued duplicate run has no value.
type Runner struct {
	store    store.Store
	agents   AgentCaller
	notifier notify.Notifier
	retain   *retention.Manager
	root     string
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[store.BackupKey]struct{}

	now func() time.Time
}

// NewRunner creates a backup runner writing under root.
func NewRunner(st store.Store, agents AgentCaller, notifier notify.Notifier, retain *retention.Manager, root string) *Runner {
	return &Runner{
		store:    st,
		agents:   agents,
		notifier: notifier,
		retain:   retain,
		root:     root,
		logger:   slog.Default().With("component", "orchestrator"),
		inflight: make(map[store.BackupKey]struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the runner clock. Test use only.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// RunBackup executes one backup for (agentID, stack, site) on behalf of
// actor. Business failures come back in the RunResult with a stable code;
// the error return is reserved for controller-side store failures.
func (r *Runner) RunBackup(ctx context.Context, actor, agentID, stack, site string) (*RunResult, error) {
	key := store.BackupKey{AgentID: agentID, Stack: stack, Site: site}
	target := fmt.Sprintf("%s/%s/%s", agentID, stack, site)
	logger := r.logger.With("agent_id", agentID, "stack", stack, "site", site)

	agent, err := r.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return &RunResult{Code: CodeUnknownAgent, Detail: "no such agent"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up agent %s: %w", agentID, err)
	}

	if !r.tryLock(key) {
		logger.Warn("backup already running for key")
		return &RunResult{Code: CodeRunInProgress, Detail: "a backup for this site is already running"}, nil
	}
	defer r.unlock(key)

	audit := &store.AuditEntry{
		Actor:  actor,
		Action: store.AuditBackupRequest,
		Target: target,
		OK:     true,
	}
	// Opening the audit entry is best-effort. An unwritable audit log must
	// not stop backups from running.
	if err := r.store.AppendAudit(ctx, audit); err != nil {
		logger.Warn("opening audit entry", "error", err)
		audit.ID = ""
	}

	start := r.now().UTC()
	logger.Info("starting backup run", "actor", actor)

	agentResult, err := r.agents.TriggerBackup(ctx, agent, stack, site)
	if err != nil {
		return r.fail(ctx, audit, key, triggerCode(err), err.Error()), nil
	}
	if ok, _ := agentResult["ok"].(bool); !ok {
		detail := agentErrorDetail(agentResult)
		return r.fail(ctx, audit, key, CodeBackupFailed, detail), nil
	}

	dir := runDir(r.root, agentID, stack, site, start)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return r.fail(ctx, audit, key, CodeStorageError, fmt.Sprintf("creating run directory: %v", err)), nil
	}

	pulled, pullsOK := r.pullArtifacts(ctx, agent, agentResult, dir)

	manifest := Manifest{
		OK:          pullsOK,
		TS:          start,
		AgentID:     agentID,
		Stack:       stack,
		Site:        site,
		AgentResult: agentResult,
		Pulled:      pulled,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifestJSON, 0o644); err != nil {
		return r.fail(ctx, audit, key, CodeStorageError, fmt.Sprintf("writing manifest: %v", err)), nil
	}

	backupID, err := r.store.InsertBackup(ctx, &store.Backup{
		TS:        start,
		AgentID:   agentID,
		Stack:     stack,
		Site:      site,
		BackupDir: dir,
		Manifest:  manifestJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("recording backup: %w", err)
	}

	if _, err := r.retain.CleanupSite(ctx, key, store.RetentionKeep(ctx, r.store)); err != nil {
		logger.Warn("retention cleanup after run", "error", err)
	}

	// Pull failures are per-artifact and never terminal: the run completed,
	// the manifest records which pulls succeeded.
	detail := map[string]any{
		"backup_id": backupID,
		"dir":       dir,
	}
	if !pullsOK {
		detail["pull_failures"] = countFailedPulls(pulled)
		logger.Warn("backup run completed with failed artifact pulls",
			"backup_id", backupID, "failed", detail["pull_failures"])
	}
	r.finishAudit(ctx, audit, true, detail)
	r.notifier.BackupSucceeded(ctx, agentID, stack, site, dir)

	logger.Info("backup run complete", "backup_id", backupID, "artifacts", len(pulled))
	return &RunResult{OK: true, BackupID: backupID, BackupDir: dir}, nil
}

// pullArtifacts fetches every artifact the agent reported into dir. Names
// are sanitized to their base component so an agent cannot write outside
// its run directory.
func (r *Runner) pullArtifacts(ctx context.Context, agent *store.Agent, agentResult map[string]any, dir string) ([]PulledArtifact, bool) {
	raw, _ := agentResult["artifacts"].([]any)
	pulled := make([]PulledArtifact, 0, len(raw))
	allOK := true

	for _, entry := range raw {
		artifactPath := artifactRef(entry)
		if artifactPath == "" {
			continue
		}
		savedAs := safeComponent(filepath.Base(artifactPath))
		err := r.agents.PullArtifact(ctx, agent, artifactPath, filepath.Join(dir, savedAs))
		if err != nil {
			r.logger.Warn("pulling artifact",
				"agent_id", agent.AgentID, "path", artifactPath, "error", err)
			allOK = false
		}
		pulled = append(pulled, PulledArtifact{Path: artifactPath, SavedAs: savedAs, OK: err == nil})
	}
	return pulled, allOK
}

// finishAudit closes the run's audit entry. A run whose entry never opened
// has nothing to close.
func (r *Runner) finishAudit(ctx context.Context, audit *store.AuditEntry, ok bool, detail map[string]any) {
	if audit.ID == "" {
		return
	}
	if err := r.store.FinishAudit(ctx, audit.ID, ok, detail); err != nil {
		r.logger.Warn("finishing audit entry", "error", err)
	}
}

// fail closes the audit entry, notifies, and builds the failure result.
func (r *Runner) fail(ctx context.Context, audit *store.AuditEntry, key store.BackupKey, code, detail string) *RunResult {
	r.finishAudit(ctx, audit, false, map[string]any{
		"error":  code,
		"detail": detail,
	})
	r.notifier.BackupFailed(ctx, key.AgentID, key.Stack, key.Site, code, detail)
	r.logger.Error("backup run failed",
		"agent_id", key.AgentID, "stack", key.Stack, "site", key.Site,
		"code", code, "detail", detail)
	return &RunResult{Code: code, Detail: detail}
}

// tryLock acquires the per-key run lock without blocking.
func (r *Runner) tryLock(key store.BackupKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[key]; busy {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

func (r *Runner) unlock(key store.BackupKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
}

// triggerCode maps a trigger call error to its failure code.
func triggerCode(err error) string {
	var se *agentclient.StatusError
	if errors.As(err, &se) {
		return CodeAgentError
	}
	if errors.Is(err, agentclient.ErrUnreachable) {
		return CodeAgentUnreachable
	}
	return CodeAgentUnreachable
}

// artifactRef extracts the server-side path from one artifacts entry.
// Agents report either an object with a path field or a bare path string.
func artifactRef(entry any) string {
	switch v := entry.(type) {
	case string:
		return v
	case map[string]any:
		p, _ := v["path"].(string)
		return p
	}
	return ""
}

func countFailedPulls(pulled []PulledArtifact) int {
	n := 0
	for _, p := range pulled {
		if !p.OK {
			n++
		}
	}
	return n
}

// agentErrorDetail extracts a human-readable detail from an agent result
// that reported ok=false.
func agentErrorDetail(result map[string]any) string {
	if msg, ok := result["error"].(string); ok && msg != "" {
		return msg
	}
	return "agent reported failure"
}
