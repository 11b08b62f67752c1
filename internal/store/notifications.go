// ABOUTME: Notification store methods recording outbound operator notifications
// ABOUTME: Kept so the dashboard collaborator can render an unread feed

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertNotification stores a notification record.
// Generates ID and TS if not set.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.TS.IsZero() {
		n.TS = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, ts, kind, title, message, read)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.TS.UTC().Format(time.RFC3339), n.Kind, n.Title, n.Message, boolToInt(n.Read))
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("inserted notification", "id", n.ID, "kind", n.Kind)
	return nil
}

// ListNotifications returns notifications newest first, optionally unread only.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT id, ts, kind, title, message, read FROM notifications`
	if unreadOnly {
		query += ` WHERE read = 0`
	}
	query += ` ORDER BY ts DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var ts string
		var read int

		if err := rows.Scan(&n.ID, &ts, &n.Kind, &n.Title, &n.Message, &read); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}

		n.TS, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing notification ts: %w", err)
		}
		n.Read = read != 0
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead marks a notification as read.
// Returns ErrNotFound if the notification doesn't exist.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
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
