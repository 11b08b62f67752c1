// ABOUTME: Audit log store methods for tracking controller actions
// ABOUTME: Entries open in-flight and are finished with the run outcome

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit actors.
const (
	AuditActorUI        = "ui"
	AuditActorAgent     = "agent"
	AuditActorScheduler = "scheduler"
)

// Audit actions.
const (
	AuditBackupRequest = "backup.request"
	AuditBackupDelete  = "backup.delete"
	AuditRegister      = "register"
	AuditReannounce    = "reannounce"
	AuditAgentDelete   = "agent.delete"
	AuditSecretRotate  = "agent.rotate_secret"
	AuditScheduleSet   = "schedule.set"
	AuditRetentionSet  = "settings.retention"
	AuditMaintenance   = "maintenance"
)

// AppendAudit appends a new entry to the audit log.
// Generates ID and TS if not set.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}

	detailJSON, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (audit_id, ts, actor, action, target, ok, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.TS.UTC().Format(time.RFC3339),
		e.Actor,
		e.Action,
		e.Target,
		boolToInt(e.OK),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"target", e.Target,
	)
	return nil
}

// FinishAudit marks an in-flight entry with its final outcome and detail.
// Returns ErrNotFound if the entry doesn't exist.
func (s *SQLiteStore) FinishAudit(ctx context.Context, id string, ok bool, detail map[string]any) error {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE audit_log SET ok = ?, detail_json = ? WHERE audit_id = ?`,
		boolToInt(ok), detailJSON, id)
	if err != nil {
		return fmt.Errorf("finishing audit entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAudit returns audit entries newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, ts, actor, action, target, ok, detail_json
		FROM audit_log
		ORDER BY ts DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		var ok int
		var detailJSON *string

		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.Target, &ok, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.TS, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing audit ts: %w", err)
		}
		e.OK = ok != 0
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

func marshalDetail(detail map[string]any) (*string, error) {
	if detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit detail: %w", err)
	}
	str := string(data)
	return &str, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
