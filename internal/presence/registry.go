// ABOUTME: Connection registry mapping identities to their live channel handles
// ABOUTME: Caps each identity at three channels, oldest evicted first, with idle sweeping

package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MaxConnectionsPerIdentity is the number of live channels kept per identity.
// Connecting a fourth channel evicts the oldest one.
const MaxConnectionsPerIdentity = 3

// Entry is a single live channel belonging to an identity.
type Entry struct {
	Channel      string
	LastActiveAt time.Time
}

// Registry tracks which identities are reachable and over which channels.
// An identity is present in the registry if and only if it holds at least
// one entry. All reads and writes take the same mutex.
type Registry struct {
	name    string
	mu      sync.Mutex
	entries map[string][]Entry // identity -> entries, oldest first
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used to stamp entries and sweep them.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the registry logger. Pass nil for default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry. The name identifies the presence
// domain in logs ("chat", "notifications").
func NewRegistry(name string, opts ...Option) *Registry {
	r := &Registry{
		name:    name,
		entries: make(map[string][]Entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "presence", "registry", name)
	return r
}

// Name returns the presence domain this registry serves.
func (r *Registry) Name() string {
	return r.name
}

// Connect records a live channel for identity. If the identity already holds
// MaxConnectionsPerIdentity channels, the oldest is evicted first.
// Returns true if the identity was previously absent (it just came online).
func (r *Registry) Connect(identity, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, existed := r.entries[identity]
	set = append(set, Entry{Channel: channel, LastActiveAt: r.now()})
	if len(set) > MaxConnectionsPerIdentity {
		evicted := set[0]
		set = append([]Entry(nil), set[1:]...)
		r.logger.Debug("evicted oldest channel",
			"identity", identity,
			"channel", evicted.Channel)
	}
	r.entries[identity] = set

	return !existed
}

// Disconnect removes every entry for channel under identity. Returns true if
// the identity has no channels left and was removed (it just went offline).
// Disconnecting an unknown identity or channel is a no-op.
func (r *Registry) Disconnect(identity, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.entries[identity]
	if !ok {
		return false
	}

	set = lo.Reject(set, func(e Entry, _ int) bool {
		return e.Channel == channel
	})
	if len(set) == 0 {
		delete(r.entries, identity)
		return true
	}

	r.entries[identity] = set
	return false
}

// Touch refreshes LastActiveAt for a channel so it survives the next sweep.
// Returns false if the channel is not registered under identity.
func (r *Registry) Touch(identity, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.entries[identity]
	if !ok {
		return false
	}

	touched := false
	for i := range set {
		if set[i].Channel == channel {
			set[i].LastActiveAt = r.now()
			touched = true
		}
	}
	return touched
}

// ChannelsFor returns the channel handles of identity in connection order.
// Returns an empty slice for unknown identities.
func (r *Registry) ChannelsFor(identity string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return channelsOf(r.entries[identity])
}

// ChannelsForMany returns the union of channel handles across identities,
// without duplicates, in first-seen order.
func (r *Registry) ChannelsForMany(identities []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]string, 0)
	for _, identity := range identities {
		channels = append(channels, channelsOf(r.entries[identity])...)
	}
	return lo.Uniq(channels)
}

// IsOnline reports whether identity holds at least one channel.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[identity]
	return ok
}

// OnlineIdentities returns all identities with at least one channel, sorted.
func (r *Registry) OnlineIdentities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	identities := lo.Keys(r.entries)
	sort.Strings(identities)
	return identities
}

// Sweep removes entries idle for strictly longer than maxAge and drops
// identities left with no entries. An entry exactly maxAge old is kept.
// Returns the number of entries removed.
func (r *Registry) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for identity, set := range r.entries {
		kept := lo.Filter(set, func(e Entry, _ int) bool {
			return now.Sub(e.LastActiveAt) <= maxAge
		})
		removed += len(set) - len(kept)

		if len(kept) == 0 {
			delete(r.entries, identity)
			continue
		}
		r.entries[identity] = kept
	}
	return removed
}

// channelsOf extracts channel handles. Always returns a non-nil slice.
func channelsOf(set []Entry) []string {
	return lo.Map(set, func(e Entry, _ int) string {
		return e.Channel
	})
}
