// Package store provides durable storage for the gateway using SQLite.
//
// Only two collaborators live here; chat history is deliberately not one of
// them (see package conversation):
//
//   - Directory: users, roles and the resolution of "the" admin identity
//   - NotificationStore: per-user notifications with an unread/read status
//
// SQLiteStore implements both on modernc.org/sqlite with WAL mode and
// foreign keys enabled. The schema is created on open.
//
// # Admin resolution
//
// FindAdminIdentity returns the subject that was granted the admin role
// first. Granting admin to a second identity does not change who receives
// funneled chat until the first grant is removed.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//	_ = s.AddRole(ctx, "admin-1", store.RoleAdmin)
package store
