// ABOUTME: User and role persistence backing the identity directory
// ABOUTME: Resolves the admin identity from the earliest admin role grant

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateUser inserts a user. Returns ErrDuplicate if the id is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, created_at) VALUES (?, ?, ?)`,
		user.ID,
		user.DisplayName,
		user.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID)
	return nil
}

// GetUser retrieves a user by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// AddRole adds a role to a subject. This operation is idempotent - adding an
// existing role succeeds silently and keeps the original grant time.
func (s *SQLiteStore) AddRole(ctx context.Context, subjectID string, role RoleName) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO roles (subject_id, role, created_at) VALUES (?, ?, ?)`,
		subjectID, role, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("adding role: %w", err)
	}

	s.logger.Debug("added role", "subject_id", subjectID, "role", role)
	return nil
}

// RemoveRole removes a role from a subject. Removing a role the subject does
// not hold succeeds silently.
func (s *SQLiteStore) RemoveRole(ctx context.Context, subjectID string, role RoleName) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM roles WHERE subject_id = ? AND role = ?`, subjectID, role)
	if err != nil {
		return fmt.Errorf("removing role: %w", err)
	}

	s.logger.Debug("removed role", "subject_id", subjectID, "role", role)
	return nil
}

// HasRole checks if a subject has a specific role. Returns false for
// non-existent subjects (not an error).
func (s *SQLiteStore) HasRole(ctx context.Context, subjectID string, role RoleName) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM roles WHERE subject_id = ? AND role = ?`,
		subjectID, role,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking role: %w", err)
	}
	return count > 0, nil
}

// ListRoles returns all roles assigned to a subject, sorted by name.
func (s *SQLiteStore) ListRoles(ctx context.Context, subjectID string) ([]RoleName, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM roles WHERE subject_id = ? ORDER BY role`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []RoleName{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, RoleName(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// FindAdminIdentity returns the subject granted the admin role first.
func (s *SQLiteStore) FindAdminIdentity(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id FROM roles WHERE role = ? ORDER BY created_at, subject_id LIMIT 1`,
		RoleAdmin,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("finding admin: %w", err)
	}
	return id, nil
}

// ListAdminIdentities returns every admin subject in grant order.
func (s *SQLiteStore) ListAdminIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id FROM roles WHERE role = ? ORDER BY created_at, subject_id`,
		RoleAdmin,
	)
	if err != nil {
		return nil, fmt.Errorf("listing admins: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning admin: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating admins: %w", err)
	}
	return ids, nil
}
