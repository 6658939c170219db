// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext plus the authenticated and admin gates

package auth

import (
	"context"
	"errors"
	"slices"
)

// RoleAdmin is the role that unlocks admin-only operations.
const RoleAdmin = "admin"

var (
	// ErrNotAuthenticated is returned when an operation needs a caller identity
	// and the context carries none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrForbidden is returned when the caller lacks the admin role.
	ErrForbidden = errors.New("admin role required")
)

// AuthContext holds the authenticated identity information extracted from a request.
type AuthContext struct {
	PrincipalID string   // JWT subject
	Roles       []string // roles assigned to this principal
}

// IsAdmin returns true if the principal has the admin role.
func (a *AuthContext) IsAdmin() bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, RoleAdmin)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// Authenticated returns the caller's AuthContext or ErrNotAuthenticated.
func Authenticated(ctx context.Context) (*AuthContext, error) {
	auth := FromContext(ctx)
	if auth == nil || auth.PrincipalID == "" {
		return nil, ErrNotAuthenticated
	}
	return auth, nil
}

// Admin returns the caller's AuthContext if it holds the admin role.
func Admin(ctx context.Context) (*AuthContext, error) {
	auth, err := Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	if !auth.IsAdmin() {
		return nil, ErrForbidden
	}
	return auth, nil
}
