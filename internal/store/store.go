// ABOUTME: Store interfaces and data types for presence-gateway persistence
// ABOUTME: Defines users, roles and notifications plus the directory and notification contracts

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity whose id is taken
var ErrDuplicate = errors.New("already exists")

// User is a known identity. Identities that only ever connect anonymously
// never appear here.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// RoleName represents a role that can be assigned
type RoleName string

const (
	RoleAdmin  RoleName = "admin"
	RoleMember RoleName = "member"
)

// ValidRoleNames lists all valid role names
var ValidRoleNames = []RoleName{
	RoleAdmin,
	RoleMember,
}

// NotificationStatus is the read state of a durable notification
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

// ParseNotificationStatus validates a status string. The empty string is
// rejected; callers treat "no filter" separately.
func ParseNotificationStatus(s string) (NotificationStatus, error) {
	switch NotificationStatus(s) {
	case NotificationUnread, NotificationRead:
		return NotificationStatus(s), nil
	default:
		return "", fmt.Errorf("invalid notification status %q", s)
	}
}

// Notification is a durable message addressed to one user
type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	CreatedAt time.Time          `json:"createdAt"`
	Status    NotificationStatus `json:"status"`
}

// Directory resolves roles and the admin identity.
type Directory interface {
	// FindAdminIdentity returns the earliest-granted admin.
	// Returns ErrNotFound if no admin exists.
	FindAdminIdentity(ctx context.Context) (string, error)
	ListAdminIdentities(ctx context.Context) ([]string, error)
	HasRole(ctx context.Context, subjectID string, role RoleName) (bool, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	// AddNotification stores n, filling in ID, CreatedAt and Status when unset.
	AddNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
	// ListNotificationsByUser returns the user's notifications, newest first.
	// A nil status returns all of them.
	ListNotificationsByUser(ctx context.Context, userID string, status *NotificationStatus) ([]*Notification, error)
}

// Store is the full persistence surface of the gateway.
type Store interface {
	Directory
	NotificationStore

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	AddRole(ctx context.Context, subjectID string, role RoleName) error
	RemoveRole(ctx context.Context, subjectID string, role RoleName) error
	ListRoles(ctx context.Context, subjectID string) ([]RoleName, error)

	Ping(ctx context.Context) error
	Close() error
}
