// ABOUTME: Settings key-value store methods with JSON-encoded values
// ABOUTME: Holds retention depth, maintenance mode, schedules and notifier config

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Well-known settings keys. Per-site schedules use ScheduleKey.
const (
	SettingRetentionKeep   = "retention.keep"
	SettingMaintenance     = "dashboard.maintenance"
	SettingTelegramToken   = "telegram.bot_token"
	SettingTelegramChatID  = "telegram.chat_id"
	SettingTelegramEnabled = "telegram.enabled"
)

// DefaultRetentionKeep is used when no retention.keep setting is stored.
const DefaultRetentionKeep = 14

// ScheduleKey returns the settings key holding the schedule for one
// (agent, stack, site) triple.
func ScheduleKey(agentID, stack, site string) string {
	return fmt.Sprintf("schedule.%s.%s.%s", agentID, stack, site)
}

// GetSetting unmarshals the value stored under key into out.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string, out any) error {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying setting: %w", err)
	}

	if err := json.Unmarshal([]byte(value), out); err != nil {
		return fmt.Errorf("unmarshaling setting %q: %w", key, err)
	}
	return nil
}

// SetSetting stores value under key, JSON-encoded, inserting or replacing.
func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling setting %q: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("storing setting: %w", err)
	}

	s.logger.Debug("stored setting", "key", key)
	return nil
}

// DeleteSetting removes a settings key. Deleting a missing key is a no-op.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	return nil
}

// ListSettings returns all settings whose key starts with prefix, values
// still JSON-encoded. The scheduler uses this to enumerate schedule.* keys.
func (s *SQLiteStore) ListSettings(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting rows: %w", err)
	}
	return out, nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RetentionKeep reads the configured retention depth, falling back to the
// default when unset or unreadable.
func RetentionKeep(ctx context.Context, s Store) int {
	var keep int
	if err := s.GetSetting(ctx, SettingRetentionKeep, &keep); err != nil || keep <= 0 {
		return DefaultRetentionKeep
	}
	return keep
}

// MaintenanceMode reports whether the controller is in maintenance mode.
// Missing or unreadable settings count as disabled.
func MaintenanceMode(ctx context.Context, s Store) bool {
	var enabled bool
	if err := s.GetSetting(ctx, SettingMaintenance, &enabled); err != nil {
		return false
	}
	return enabled
}
