// ABOUTME: Ephemeral conversation store keeping message logs in an expiring cache
// ABOUTME: Each write re-arms a three-day TTL on the log and on the key index

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/2389/presence-gateway/internal/cache"
)

// DefaultTTL is how long a conversation log survives after its last write.
const DefaultTTL = 72 * time.Hour

const (
	logKeyPrefix = "conversation:log:"
	indexKey     = "conversation:index"
)

// Store keeps conversation logs keyed by Key(a, b) in a cache.Cache, along
// with an index of every key written. It adds no locking of its own:
// concurrent appends to the same key race and the last full write wins.
type Store struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a conversation store over c. A non-positive ttl uses
// DefaultTTL. Pass nil logger for default.
func NewStore(c cache.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:  c,
		ttl:    ttl,
		logger: logger.With("component", "conversation-store"),
	}
}

// TTL returns the expiry applied to logs and the index on each write.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Append adds msg to the log for key, creating the log if needed, and
// registers key in the index. Both are written with a fresh TTL.
func (s *Store) Append(ctx context.Context, key string, msg Message) error {
	log, err := s.load(ctx, key)
	if err != nil {
		return err
	}

	log = append(log, msg)
	if err := s.save(ctx, key, log); err != nil {
		return err
	}

	return s.index(ctx, key)
}

// Get returns the log for key, or an empty slice if it expired or never
// existed. Read failures are logged and reported as an empty log.
func (s *Store) Get(ctx context.Context, key string) []Message {
	log, err := s.load(ctx, key)
	if err != nil {
		s.logger.Warn("reading conversation failed", "key", key, "error", err)
		return []Message{}
	}
	return log
}

// MarkReadFrom marks every message in key's log sent by sender as read.
// Messages from the other participant are untouched. An empty log is a no-op.
func (s *Store) MarkReadFrom(ctx context.Context, key, sender string) error {
	log, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if len(log) == 0 {
		return nil
	}

	for i := range log {
		if log[i].SenderID == sender {
			log[i].IsRead = true
		}
	}
	return s.save(ctx, key, log)
}

// Delete removes the first message with id from key's log. Returns false if
// the log is empty or holds no such message.
func (s *Store) Delete(ctx context.Context, key string, id int64) (bool, error) {
	log, err := s.load(ctx, key)
	if err != nil {
		return false, err
	}

	idx := slices.IndexFunc(log, func(m Message) bool { return m.ID == id })
	if idx < 0 {
		return false, nil
	}

	log = slices.Delete(log, idx, idx+1)
	if err := s.save(ctx, key, log); err != nil {
		return false, err
	}
	return true, nil
}

// AllKeys returns every conversation key in the index, sorted. Returns an
// empty slice if the index expired.
func (s *Store) AllKeys(ctx context.Context) []string {
	keys, err := s.loadIndex(ctx)
	if err != nil {
		s.logger.Warn("reading conversation index failed", "error", err)
		return []string{}
	}
	return keys
}

// load reads and decodes a log. A missing log is an empty, non-nil slice.
func (s *Store) load(ctx context.Context, key string) ([]Message, error) {
	raw, err := s.cache.Get(ctx, logKeyPrefix+key)
	if errors.Is(err, cache.ErrMiss) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", key, err)
	}

	var log []Message
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", key, err)
	}
	if log == nil {
		log = []Message{}
	}
	return log, nil
}

func (s *Store) save(ctx context.Context, key string, log []Message) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", key, err)
	}
	if err := s.cache.Set(ctx, logKeyPrefix+key, raw, s.ttl); err != nil {
		return fmt.Errorf("saving conversation %s: %w", key, err)
	}
	return nil
}

// index adds key to the key index and re-arms its TTL.
func (s *Store) index(ctx context.Context, key string) error {
	keys, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}

	keys = lo.Uniq(append(keys, key))
	sort.Strings(keys)

	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encoding conversation index: %w", err)
	}
	if err := s.cache.Set(ctx, indexKey, raw, s.ttl); err != nil {
		return fmt.Errorf("saving conversation index: %w", err)
	}
	return nil
}

func (s *Store) loadIndex(ctx context.Context) ([]string, error) {
	raw, err := s.cache.Get(ctx, indexKey)
	if errors.Is(err, cache.ErrMiss) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation index: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("decoding conversation index: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}
