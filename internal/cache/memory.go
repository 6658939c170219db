// ABOUTME: Thread-safe in-process TTL cache with size-bounded eviction
// ABOUTME: Default conversation backend; expired entries are reaped in the background

package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the memory cache when no size is given.
const DefaultMaxEntries = 100_000

// memoryEntry stores a value, its expiry and its position in insertion order.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// expired reports whether the entry's TTL has elapsed. A zero expiry never expires.
func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Cache. When full, the least recently written key
// is evicted even if its TTL has not elapsed; such evictions are logged at
// WARN. A background goroutine removes expired entries.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   *list.List // keys, least recently written at front
	maxSize int
	now     func() time.Time
	logger  *slog.Logger
	done    chan struct{}
	closed  bool
}

// NewMemory creates a memory cache holding at most maxSize keys and reaping
// expired keys every cleanupInterval. Non-positive values use defaults.
// Pass nil logger for default.
func NewMemory(maxSize int, cleanupInterval time.Duration, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
		logger:  logger.With("component", "cache"),
		done:    make(chan struct{}),
	}
	go m.cleanup(cleanupInterval)
	return m
}

// Get returns a copy of the value stored under key, or ErrMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(m.now()) {
		return nil, ErrMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a copy of value under key for ttl.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := append([]byte(nil), value...)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	if entry, exists := m.entries[key]; exists {
		entry.value = stored
		entry.expiresAt = expiresAt
		m.order.MoveToBack(entry.element)
		return nil
	}

	if len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(key)
	m.entries[key] = &memoryEntry{
		value:     stored,
		expiresAt: expiresAt,
		element:   elem,
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok {
		m.order.Remove(entry.element)
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of stored keys, including expired ones not yet reaped.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictOldest removes the least recently written entry. Must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	if entry := m.entries[key]; entry != nil && !entry.expired(m.now()) {
		m.logger.Warn("evicting live cache entry before its ttl",
			"key", key,
			"max_size", m.maxSize)
	}
	m.order.Remove(front)
	delete(m.entries, key)
}

func (m *Memory) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reap()
		case <-m.done:
			return
		}
	}
}

// reap removes all expired entries.
func (m *Memory) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			m.order.Remove(entry.element)
			delete(m.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
