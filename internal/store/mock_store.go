// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type roleGrant struct {
	subjectID string
	role      RoleName
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	grants        []roleGrant // in grant order
	notifications map[string]*Notification
	seq           int

	// PingErr is returned by Ping when set.
	PingErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		notifications: make(map[string]*Notification),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// AddRole grants role to subjectID. Idempotent.
func (m *MockStore) AddRole(ctx context.Context, subjectID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.grants {
		if g.subjectID == subjectID && g.role == role {
			return nil
		}
	}
	m.grants = append(m.grants, roleGrant{subjectID: subjectID, role: role})
	return nil
}

// RemoveRole revokes role from subjectID. Idempotent.
func (m *MockStore) RemoveRole(ctx context.Context, subjectID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.grants[:0]
	for _, g := range m.grants {
		if g.subjectID == subjectID && g.role == role {
			continue
		}
		kept = append(kept, g)
	}
	m.grants = kept
	return nil
}

// HasRole reports whether subjectID holds role.
func (m *MockStore) HasRole(ctx context.Context, subjectID string, role RoleName) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.grants {
		if g.subjectID == subjectID && g.role == role {
			return true, nil
		}
	}
	return false, nil
}

// ListRoles returns subjectID's roles sorted by name.
func (m *MockStore) ListRoles(ctx context.Context, subjectID string) ([]RoleName, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := []RoleName{}
	for _, g := range m.grants {
		if g.subjectID == subjectID {
			roles = append(roles, g.role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// FindAdminIdentity returns the first subject granted admin.
func (m *MockStore) FindAdminIdentity(ctx context.Context) (string, error) {
	admins, _ := m.ListAdminIdentities(ctx)
	if len(admins) == 0 {
		return "", ErrNotFound
	}
	return admins[0], nil
}

// ListAdminIdentities returns every admin in grant order.
func (m *MockStore) ListAdminIdentities(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := []string{}
	for _, g := range m.grants {
		if g.role == RoleAdmin {
			ids = append(ids, g.subjectID)
		}
	}
	return ids, nil
}

// AddNotification stores a copy of n, filling in defaults on n.
func (m *MockStore) AddNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if _, ok := m.notifications[n.ID]; ok {
		return fmt.Errorf("inserting notification %s: %w", n.ID, ErrDuplicate)
	}
	if n.CreatedAt.IsZero() {
		// Strictly increasing so newest-first ordering is stable in tests.
		m.seq++
		n.CreatedAt = time.Now().UTC().Add(time.Duration(m.seq) * time.Microsecond)
	}
	if n.Status == "" {
		n.Status = NotificationUnread
	}

	c := *n
	m.notifications[c.ID] = &c
	return nil
}

// GetNotification retrieves a notification by ID.
func (m *MockStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *n
	return &c, nil
}

// MarkNotificationRead sets a notification's status to read.
func (m *MockStore) MarkNotificationRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = NotificationRead
	return nil
}

// DeleteNotification removes a notification.
func (m *MockStore) DeleteNotification(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notifications[id]; !ok {
		return ErrNotFound
	}
	delete(m.notifications, id)
	return nil
}

// ListNotificationsByUser returns userID's notifications newest first.
func (m *MockStore) ListNotificationsByUser(ctx context.Context, userID string, status *NotificationStatus) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []*Notification{}
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if status != nil && n.Status != *status {
			continue
		}
		c := *n
		list = append(list, &c)
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
