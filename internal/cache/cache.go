// ABOUTME: Cache interface for expiring key/value storage
// ABOUTME: Implemented by in-process memory, Redis and Badger backends

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a concurrency-safe key/value store whose entries expire.
// Every Set re-arms the entry's TTL. A non-positive ttl stores the entry
// with no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
