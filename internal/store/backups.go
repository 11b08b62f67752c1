// ABOUTME: Backup record store methods for retention and the backups browser
// ABOUTME: Records are totally ordered by ts within an (agent, stack, site) key

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const backupColumns = "id, ts, agent_id, stack, site, backup_dir, manifest_json, rating, feedback"

// InsertBackup inserts a completed backup record and returns its row ID.
func (s *SQLiteStore) InsertBackup(ctx context.Context, b *Backup) (int64, error) {
	if b.TS.IsZero() {
		b.TS = time.Now().UTC()
	}

	query := `
		INSERT INTO backups (ts, agent_id, stack, site, backup_dir, manifest_json, rating, feedback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		b.TS.UTC().Format(time.RFC3339),
		b.AgentID,
		b.Stack,
		b.Site,
		b.BackupDir,
		string(b.Manifest),
		b.Rating,
		b.Feedback,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting backup: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting backup id: %w", err)
	}
	b.ID = id

	s.logger.Debug("inserted backup", "id", id, "agent_id", b.AgentID, "stack", b.Stack, "site", b.Site)
	return id, nil
}

// scanBackup scans one backups row.
func scanBackup(scanner interface{ Scan(dest ...any) error }) (*Backup, error) {
	var b Backup
	var ts, manifest string
	var rating sql.NullInt64
	var feedback sql.NullString

	if err := scanner.Scan(
		&b.ID,
		&ts,
		&b.AgentID,
		&b.Stack,
		&b.Site,
		&b.BackupDir,
		&manifest,
		&rating,
		&feedback,
	); err != nil {
		return nil, err
	}

	var err error
	b.TS, err = time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing ts: %w", err)
	}
	b.Manifest = []byte(manifest)
	if rating.Valid {
		r := int(rating.Int64)
		b.Rating = &r
	}
	if feedback.Valid {
		b.Feedback = &feedback.String
	}
	return &b, nil
}

// GetBackup retrieves a backup record by ID.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) GetBackup(ctx context.Context, id int64) (*Backup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE id = ?`, id)

	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying backup: %w", err)
	}
	return b, nil
}

// ListBackups returns backup records newest first across all keys.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListBackups(ctx context.Context, limit int) ([]*Backup, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying backups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectBackups(rows)
}

// ListBackupsForKey returns all backups for one (agent, stack, site) key,
// newest first. Retention depends on this ordering.
func (s *SQLiteStore) ListBackupsForKey(ctx context.Context, agentID, stack, site string) ([]*Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE agent_id = ? AND stack = ? AND site = ?
		 ORDER BY ts DESC, id DESC`,
		agentID, stack, site)
	if err != nil {
		return nil, fmt.Errorf("querying backups for key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectBackups(rows)
}

func collectBackups(rows *sql.Rows) ([]*Backup, error) {
	var backups []*Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backup row: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backup rows: %w", err)
	}
	return backups, nil
}

// ListBackupKeys returns every distinct (agent, stack, site) key that has at
// least one backup record. Used by the fleet-wide retention pass.
func (s *SQLiteStore) ListBackupKeys(ctx context.Context) ([]BackupKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id, stack, site FROM backups ORDER BY agent_id, stack, site`)
	if err != nil {
		return nil, fmt.Errorf("querying backup keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []BackupKey
	for rows.Next() {
		var k BackupKey
		if err := rows.Scan(&k.AgentID, &k.Stack, &k.Site); err != nil {
			return nil, fmt.Errorf("scanning backup key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backup keys: %w", err)
	}
	return keys, nil
}

// AnnotateBackup sets the operator rating/feedback on a backup record.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) AnnotateBackup(ctx context.Context, id int64, rating *int, feedback *string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE backups SET rating = ?, feedback = ? WHERE id = ?`,
		rating, feedback, id)
	if err != nil {
		return fmt.Errorf("annotating backup: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("annotated backup", "id", id)
	return nil
}

// DeleteBackup removes a backup record. Callers are responsible for removing
// the on-disk directory; the row is authoritative.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) DeleteBackup(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting backup: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted backup", "id", id)
	return nil
}
