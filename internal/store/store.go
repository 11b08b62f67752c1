// ABOUTME: Store interface and data types for the fb controller persistence
// ABOUTME: Defines Agent, Backup, AuditEntry structs and the repository interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgent is returned when creating an agent whose ID already exists
var ErrDuplicateAgent = errors.New("agent already exists")

// Agent is a directory record for a registered backup agent.
// SharedSecret is the per-agent HMAC key established at first registration.
type Agent struct {
	AgentID      string
	DisplayName  string
	CreatedAt    time.Time
	LastSeen     time.Time
	BaseURL      string
	SharedSecret string
	Meta         map[string]any // declared stacks/sites and agent-reported facts
}

// Backup is one completed backup run for an (agent, stack, site) key.
// Rating and Feedback are optional operator annotations.
type Backup struct {
	ID        int64
	TS        time.Time
	AgentID   string
	Stack     string
	Site      string
	BackupDir string
	Manifest  []byte // manifest.json as stored alongside the artifacts
	Rating    *int
	Feedback  *string
}

// BackupKey identifies a retention group.
type BackupKey struct {
	AgentID string
	Stack   string
	Site    string
}

// AuditEntry records one controller action and its outcome.
// Entries open as in-flight and are finished with the final result.
type AuditEntry struct {
	ID     string         `json:"id"` // UUID v4, generated on append if empty
	TS     time.Time      `json:"ts"`
	Actor  string         `json:"actor"`  // "ui", "agent", "scheduler"
	Action string         `json:"action"` // "backup.request", "register", ...
	Target string         `json:"target"` // "<agent>/<stack>/<site>" or an agent ID
	OK     bool           `json:"ok"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Notification is a stored copy of an outbound operator notification.
type Notification struct {
	ID      string    `json:"id"` // UUID v4, generated on insert if empty
	TS      time.Time `json:"ts"`
	Kind    string    `json:"kind"` // "backup.success", "backup.failure"
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Read    bool      `json:"read"`
}

// Store defines the repository operations the controller needs. Each write is
// a single statement so concurrent callers see serializable updates.
type Store interface {
	// Agent directory
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgentContact(ctx context.Context, agentID, baseURL string, meta map[string]any, lastSeen time.Time) error
	UpdateAgentMeta(ctx context.Context, agentID string, meta map[string]any, lastSeen time.Time) error
	UpdateAgentSecret(ctx context.Context, agentID, sharedSecret string) error
	DeleteAgent(ctx context.Context, agentID string) error

	// Backup records
	InsertBackup(ctx context.Context, b *Backup) (int64, error)
	GetBackup(ctx context.Context, id int64) (*Backup, error)
	ListBackups(ctx context.Context, limit int) ([]*Backup, error)
	ListBackupsForKey(ctx context.Context, agentID, stack, site string) ([]*Backup, error)
	ListBackupKeys(ctx context.Context) ([]BackupKey, error)
	AnnotateBackup(ctx context.Context, id int64, rating *int, feedback *string) error
	DeleteBackup(ctx context.Context, id int64) error

	// Audit trail
	AppendAudit(ctx context.Context, e *AuditEntry) error
	FinishAudit(ctx context.Context, id string, ok bool, detail map[string]any) error
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	// Settings (JSON-encoded values keyed by dotted names)
	GetSetting(ctx context.Context, key string, out any) error
	SetSetting(ctx context.Context, key string, value any) error
	DeleteSetting(ctx context.Context, key string) error
	ListSettings(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// Notifications
	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}
