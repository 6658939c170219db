// ABOUTME: Durable notification persistence for offline delivery and admin broadcasts
// ABOUTME: Notifications carry an unread/read status and are listed newest first

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AddNotification stores n, filling in ID, CreatedAt and Status when unset.
func (s *SQLiteStore) AddNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.Status == "" {
		n.Status = NotificationUnread
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		n.CreatedAt.UTC().Format(timeLayout),
		n.Status,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("inserting notification %s: %w", n.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("added notification", "id", n.ID, "user_id", n.UserID)
	return nil
}

// GetNotification retrieves a notification by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, message, created_at, status
		FROM notifications WHERE id = ?
	`, id)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// MarkNotificationRead sets the status to read. Returns ErrNotFound if absent.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ?`, NotificationRead, id)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	return requireAffected(res)
}

// DeleteNotification removes a notification. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	return requireAffected(res)
}

// ListNotificationsByUser returns the user's notifications, newest first,
// optionally filtered by status.
func (s *SQLiteStore) ListNotificationsByUser(ctx context.Context, userID string, status *NotificationStatus) ([]*Notification, error) {
	query := `
		SELECT id, user_id, title, message, created_at, status
		FROM notifications WHERE user_id = ?
	`
	args := []any{userID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	list := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var createdAt, status string

	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &createdAt, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning notification: %w", err)
	}

	var err error
	n.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	n.Status = NotificationStatus(status)
	return &n, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
