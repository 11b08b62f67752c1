// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Agent directory persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets registration, sweeps and API handlers read concurrently
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id      TEXT PRIMARY KEY,
			display_name  TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			last_seen     TEXT NOT NULL,
			base_url      TEXT NOT NULL,
			shared_secret TEXT NOT NULL,
			meta_json     TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS backups (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			ts            TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			stack         TEXT NOT NULL,
			site          TEXT NOT NULL,
			backup_dir    TEXT NOT NULL,
			manifest_json TEXT NOT NULL,
			rating        INTEGER,
			feedback      TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_backups_key
			ON backups(agent_id, stack, site, ts DESC);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			ts          TEXT NOT NULL,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target      TEXT NOT NULL,
			ok          INTEGER NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id      TEXT PRIMARY KEY,
			ts      TEXT NOT NULL,
			kind    TEXT NOT NULL,
			title   TEXT NOT NULL,
			message TEXT NOT NULL,
			read    INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_ts ON notifications(ts DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// marshalMeta serializes agent metadata, defaulting to an empty object.
func marshalMeta(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshaling meta: %w", err)
	}
	return string(data), nil
}

// CreateAgent inserts a new agent directory record.
// Returns ErrDuplicateAgent if the agent ID is already registered.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	metaJSON, err := marshalMeta(agent.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agents (agent_id, display_name, created_at, last_seen, base_url, shared_secret, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		agent.AgentID,
		agent.DisplayName,
		agent.CreatedAt.UTC().Format(time.RFC3339),
		agent.LastSeen.UTC().Format(time.RFC3339),
		agent.BaseURL,
		agent.SharedSecret,
		metaJSON,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "agent_id", agent.AgentID, "base_url", agent.BaseURL)
	return nil
}

// scanAgent scans one agents row.
func scanAgent(scanner interface{ Scan(dest ...any) error }) (*Agent, error) {
	var agent Agent
	var createdAt, lastSeen, metaJSON string

	if err := scanner.Scan(
		&agent.AgentID,
		&agent.DisplayName,
		&createdAt,
		&lastSeen,
		&agent.BaseURL,
		&agent.SharedSecret,
		&metaJSON,
	); err != nil {
		return nil, err
	}

	var err error
	agent.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	agent.LastSeen, err = time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &agent.Meta); err != nil {
		return nil, fmt.Errorf("unmarshaling meta: %w", err)
	}
	return &agent, nil
}

const agentColumns = "agent_id, display_name, created_at, last_seen, base_url, shared_secret, meta_json"

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all registered agents ordered by agent ID.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// UpdateAgentContact refreshes an agent's address, metadata and liveness on
// re-registration. The shared secret is deliberately left untouched.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgentContact(ctx context.Context, agentID, baseURL string, meta map[string]any, lastSeen time.Time) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET base_url = ?, meta_json = ?, last_seen = ? WHERE agent_id = ?`,
		baseURL, metaJSON, lastSeen.UTC().Format(time.RFC3339), agentID)
	if err != nil {
		return fmt.Errorf("updating agent contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated agent contact", "agent_id", agentID, "base_url", baseURL)
	return nil
}

// UpdateAgentMeta refreshes an agent's declared sites and liveness without
// touching its address. Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgentMeta(ctx context.Context, agentID string, meta map[string]any, lastSeen time.Time) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET meta_json = ?, last_seen = ? WHERE agent_id = ?`,
		metaJSON, lastSeen.UTC().Format(time.RFC3339), agentID)
	if err != nil {
		return fmt.Errorf("updating agent meta: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated agent meta", "agent_id", agentID)
	return nil
}

// UpdateAgentSecret overwrites an agent's shared secret. This is an explicit
// operator action; registration never regenerates secrets.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgentSecret(ctx context.Context, agentID, sharedSecret string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET shared_secret = ? WHERE agent_id = ?`,
		sharedSecret, agentID)
	if err != nil {
		return fmt.Errorf("updating agent secret: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("rotated agent secret", "agent_id", agentID)
	return nil
}

// DeleteAgent removes an agent from the directory.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, agentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted agent", "agent_id", agentID)
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
