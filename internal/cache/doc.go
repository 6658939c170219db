// Package cache provides expiring key/value backends for ephemeral state.
//
// Three backends implement Cache: Memory (in-process, the default), Redis and
// Badger. Values are opaque bytes; callers handle their own encoding.
package cache
