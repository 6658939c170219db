// ABOUTME: In-memory fan-out of events to live channels and conversation groups
// ABOUTME: Sends never block; events are dropped for clients whose buffers are full

package hub

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// clientBufferSize is the outbound buffer for each client.
const clientBufferSize = 64

// Outbound event types.
const (
	EventMessageReceived         = "message-received"
	EventMessageDeleted          = "message-deleted"
	EventReadStateChanged        = "read-state-changed"
	EventOnlineIdentitiesChanged = "online-identities-changed"
	EventNotificationReceived    = "notification-received"
)

// Event is a server-initiated push to a channel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client is one live channel registered with a Hub.
type Client struct {
	handle string
	send   chan Event
}

// Handle returns the channel handle the client was registered under.
func (c *Client) Handle() string {
	return c.handle
}

// Events returns the client's outbound queue. It is closed when the client
// is unregistered or the hub is closed.
func (c *Client) Events() <-chan Event {
	return c.send
}

// Hub tracks the live channels of one endpoint and the groups they joined.
// A group is named by its conversation key.
type Hub struct {
	name    string
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]struct{} // group -> handles
	joined  map[string]map[string]struct{} // handle -> groups
	closed  bool
	logger  *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:    name,
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
		logger:  logger.With("component", "hub", "hub", name),
	}
}

// Name returns the hub's name.
func (h *Hub) Name() string {
	return h.name
}

// Register adds a client for handle. Registering a handle twice replaces the
// earlier client, whose queue is closed.
func (h *Hub) Register(handle string) *Client {
	c := &Client{handle: handle, send: make(chan Event, clientBufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(c.send)
		return c
	}
	if old, ok := h.clients[handle]; ok {
		close(old.send)
	}
	h.clients[handle] = c

	h.logger.Debug("client registered", "handle", handle)
	return c
}

// Unregister removes the client for handle from the hub and from every group
// it joined, and closes its queue. Unknown handles are ignored.
func (h *Hub) Unregister(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[handle]
	if !ok {
		return
	}
	delete(h.clients, handle)
	close(c.send)

	for group := range h.joined[handle] {
		h.leaveLocked(group, handle)
	}
	delete(h.joined, handle)

	h.logger.Debug("client unregistered", "handle", handle)
}

// AddToGroup joins handle to group. Returns false if handle is not registered.
func (h *Hub) AddToGroup(group, handle string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[handle]; !ok {
		return false
	}

	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[string]struct{})
	}
	h.groups[group][handle] = struct{}{}

	if _, ok := h.joined[handle]; !ok {
		h.joined[handle] = make(map[string]struct{})
	}
	h.joined[handle][group] = struct{}{}

	h.logger.Debug("joined group", "group", group, "handle", handle)
	return true
}

// RemoveFromGroup drops handle from group.
func (h *Hub) RemoveFromGroup(group, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(group, handle)
	if groups, ok := h.joined[handle]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(h.joined, handle)
		}
	}
}

func (h *Hub) leaveLocked(group, handle string) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, handle)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Members returns the sorted handles joined to group.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := lo.Keys(h.groups[group])
	sort.Strings(members)
	return members
}

// GroupsOf returns the sorted groups handle has joined.
func (h *Hub) GroupsOf(handle string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := lo.Keys(h.joined[handle])
	sort.Strings(groups)
	return groups
}

// Broadcast sends ev to every member of group except the excluded handles.
// Returns the number of clients the event was queued for.
func (h *Hub) Broadcast(group string, ev Event, exclude ...string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for handle := range h.groups[group] {
		if lo.Contains(exclude, handle) {
			continue
		}
		if h.deliverLocked(handle, ev) {
			sent++
		}
	}
	return sent
}

// SendTo sends ev to each listed handle. Unknown handles are skipped.
// Returns the number of clients the event was queued for.
func (h *Hub) SendTo(handles []string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, handle := range lo.Uniq(handles) {
		if h.deliverLocked(handle, ev) {
			sent++
		}
	}
	return sent
}

// SendAll sends ev to every registered client.
func (h *Hub) SendAll(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for handle := range h.clients {
		if h.deliverLocked(handle, ev) {
			sent++
		}
	}
	return sent
}

// deliverLocked queues ev without blocking. Callers hold at least the read
// lock, so a queue cannot be closed underneath the send.
func (h *Hub) deliverLocked(handle string, ev Event) bool {
	c, ok := h.clients[handle]
	if !ok {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		h.logger.Debug("dropped event for slow client",
			"handle", handle,
			"event", ev.Type)
		return false
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters every client and closes their queues. Later Register
// calls return already-closed clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for handle, c := range h.clients {
		close(c.send)
		delete(h.clients, handle)
	}
	clear(h.groups)
	clear(h.joined)

	h.logger.Debug("hub closed")
}
