// Package auth authenticates callers and carries their identity through
// request handlers.
//
// Tokens are HS256 JWTs whose "sub" claim is the caller's identity. A
// Resolver verifies a token and loads the subject's roles from the store,
// producing an AuthContext that handlers read back with FromContext.
//
// Two gates cover every operation:
//
//	Authenticated(ctx) // ErrNotAuthenticated when no identity
//	Admin(ctx)         // ErrForbidden when the identity is not an admin
//
// HTTP endpoints wrap handlers with HTTPAuthMiddleware (token required) or
// OptionalAuthMiddleware (anonymous visitors allowed, used for WebSocket
// upgrades). Tokens come from the Authorization header or, for browsers
// opening a WebSocket, the access_token query parameter.
package auth
