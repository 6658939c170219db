// Package conversation holds the ephemeral chat logs exchanged between a
// user and the admin.
//
// # Keys
//
// A conversation is addressed by a canonical pair key:
//
//	conversation.Key("user-1", "admin") == conversation.Key("admin", "user-1") // "admin_user-1"
//
// Other(key, identity) recovers the counterpart from a key.
//
// # Store
//
// Store keeps one ordered []Message per key in a cache.Cache, plus an index
// of every key written. Each Append re-arms the TTL (three days by default)
// on both the log and the index, so a conversation disappears three days
// after its last message. Nothing is written to durable storage.
//
//	s := conversation.NewStore(cache.NewMemory(0, 0, nil), 0, logger)
//	_ = s.Append(ctx, key, msg)
//	log := s.Get(ctx, key)
//
// The store adds no locking of its own. Two concurrent appends to the same
// key may lose one of the writes.
package conversation
