// ABOUTME: Resolves a bearer token into an AuthContext with the subject's roles
// ABOUTME: Shared by the HTTP API middleware and the WebSocket upgrade path

package auth

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/2389/presence-gateway/internal/store"
)

// RoleLister looks up the roles held by a subject.
type RoleLister interface {
	ListRoles(ctx context.Context, subjectID string) ([]store.RoleName, error)
}

// Resolver turns tokens into AuthContexts.
type Resolver struct {
	verifier TokenVerifier
	roles    RoleLister
}

// NewResolver creates a resolver.
func NewResolver(verifier TokenVerifier, roles RoleLister) *Resolver {
	return &Resolver{verifier: verifier, roles: roles}
}

// Resolve verifies token and loads the subject's roles. A subject unknown to
// the directory is still authenticated, with no roles.
func (r *Resolver) Resolve(ctx context.Context, token string) (*AuthContext, error) {
	principalID, err := r.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	roles, err := r.roles.ListRoles(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("loading roles for %s: %w", principalID, err)
	}

	return &AuthContext{
		PrincipalID: principalID,
		Roles:       lo.Map(roles, func(r store.RoleName, _ int) string { return string(r) }),
	}, nil
}
