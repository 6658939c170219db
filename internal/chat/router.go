// ABOUTME: Message router for support chat between users and the admin
// ABOUTME: Persists messages, delivers live to the conversation group or falls back to notifications

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/hub"
	"github.com/2389/presence-gateway/internal/presence"
)

var (
	// ErrNoRecipient is returned when an admin operation names no counterpart.
	ErrNoRecipient = errors.New("recipient required")

	// ErrEmptyBody is returned for messages with no visible text.
	ErrEmptyBody = errors.New("message body is empty")
)

// maxMessageID bounds generated ids to integers a JSON client reads exactly.
const maxMessageID = 1<<53 - 1

// Notifier delivers the fallback notification for a message whose recipient
// has no live channel.
type Notifier interface {
	NotifyOffline(ctx context.Context, msg conversation.Message) error
}

// Counterpart summarizes one of the admin's conversations.
type Counterpart struct {
	Identity      string    `json:"identity"`
	HasUnread     bool      `json:"hasUnread"`
	UnreadCount   int       `json:"unreadCount"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Online        bool      `json:"online"`
}

// ReadStateChanged is the payload of a read-state-changed event.
type ReadStateChanged struct {
	ConversationKey string `json:"conversationKey"`
	ReaderID        string `json:"readerId"`
	SenderID        string `json:"senderId"`
}

// MessageDeleted is the payload of a message-deleted event.
type MessageDeleted struct {
	ConversationKey string `json:"conversationKey"`
	MessageID       int64  `json:"messageId"`
}

// Router routes chat messages between users and the admin.
type Router struct {
	store     *conversation.Store
	registry  *presence.Registry
	hub       *hub.Hub
	directory Directory
	notifier  Notifier
	now       func() time.Time
	logger    *slog.Logger

	// NewID generates message ids. Ids are random, not sequential, so two
	// messages in one log can collide; Delete then removes the first match.
	NewID func() int64

	// SortCounterparts orders GetCounterparts by unread first, then most
	// recent message. Off by default, which keeps index order.
	SortCounterparts bool
}

// NewRouter creates a router over the chat registry and hub. notifier may be
// nil, in which case offline recipients get no fallback. Pass nil logger for
// default.
func NewRouter(s *conversation.Store, registry *presence.Registry, h *hub.Hub, directory Directory, notifier Notifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     s,
		registry:  registry,
		hub:       h,
		directory: directory,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger.With("component", "router"),
		NewID:     randomID,
	}
}

func randomID() int64 {
	return rand.Int64N(maxMessageID) + 1
}

// deliveryMarksRead decides the stored read flag. A live recipient channel
// counts as read; an explicit client acknowledgement would replace this.
func (r *Router) deliveryMarksRead(live bool) bool {
	return live
}

// counterpartOf resolves who the caller is talking to. Non-admins always
// talk to the admin, whatever they asked for.
func (r *Router) counterpartOf(ctx context.Context, caller *auth.AuthContext, requested string) (string, error) {
	if !caller.IsAdmin() {
		return resolveAdmin(ctx, r.directory)
	}
	if requested == "" {
		return "", ErrNoRecipient
	}
	return requested, nil
}

// SendMessage stores body as a message from the caller and delivers it.
// Non-admin callers are funneled to the admin regardless of targetID.
func (r *Router) SendMessage(ctx context.Context, targetID, body string) (*conversation.Message, error) {
	caller, err := auth.Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}

	target, err := r.counterpartOf(ctx, caller, targetID)
	if err != nil {
		return nil, err
	}

	live := len(r.registry.ChannelsFor(target)) > 0

	msg := conversation.Message{
		ID:          r.NewID(),
		SenderID:    caller.PrincipalID,
		ReceiverID:  target,
		Body:        body,
		SentAt:      r.now().UTC(),
		IsRead:      r.deliveryMarksRead(live),
		IsFromAdmin: caller.IsAdmin(),
	}

	key := conversation.Key(caller.PrincipalID, target)
	if err := r.store.Append(ctx, key, msg); err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}

	if !live && r.notifier != nil {
		if err := r.notifier.NotifyOffline(ctx, msg); err != nil {
			r.logger.Warn("offline notification failed",
				"recipient", target,
				"message_id", msg.ID,
				"error", err)
		}
	}

	delivered := r.hub.Broadcast(key, hub.Event{Type: hub.EventMessageReceived, Data: msg})

	r.logger.Debug("message routed",
		"conversation_key", key,
		"message_id", msg.ID,
		"live", live,
		"delivered", delivered)

	return &msg, nil
}

// GetHistory returns the caller's conversation with otherID. Non-admins
// always get their conversation with the admin.
func (r *Router) GetHistory(ctx context.Context, otherID string) ([]conversation.Message, error) {
	caller, err := auth.Authenticated(ctx)
	if err != nil {
		return nil, err
	}

	other, err := r.counterpartOf(ctx, caller, otherID)
	if err != nil {
		return nil, err
	}

	return r.store.Get(ctx, conversation.Key(caller.PrincipalID, other)), nil
}

// GetCounterparts summarizes every live conversation the admin takes part
// in. Admin only.
func (r *Router) GetCounterparts(ctx context.Context) ([]Counterpart, error) {
	caller, err := auth.Admin(ctx)
	if err != nil {
		return nil, err
	}

	result := []Counterpart{}
	for _, key := range r.store.AllKeys(ctx) {
		other, ok := conversation.Other(key, caller.PrincipalID)
		if !ok {
			continue
		}

		log := r.store.Get(ctx, key)
		if len(log) == 0 {
			continue
		}

		unread := lo.CountBy(log, func(m conversation.Message) bool {
			return m.SenderID == other && !m.IsRead
		})
		last := log[len(log)-1]

		result = append(result, Counterpart{
			Identity:      other,
			HasUnread:     unread > 0,
			UnreadCount:   unread,
			LastMessage:   last.Body,
			LastMessageAt: last.SentAt,
			Online:        r.registry.IsOnline(other),
		})
	}

	if r.SortCounterparts {
		sortCounterparts(result)
	}
	return result, nil
}

// sortCounterparts puts unread conversations first, most recent first
// within each half.
func sortCounterparts(list []Counterpart) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].HasUnread != list[j].HasUnread {
			return list[i].HasUnread
		}
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}

// MarkRead marks every message otherID sent the caller as read, then tells
// the conversation group.
func (r *Router) MarkRead(ctx context.Context, otherID string) error {
	caller, err := auth.Authenticated(ctx)
	if err != nil {
		return err
	}

	other, err := r.counterpartOf(ctx, caller, otherID)
	if err != nil {
		return err
	}

	key := conversation.Key(caller.PrincipalID, other)
	if err := r.store.MarkReadFrom(ctx, key, other); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}

	r.hub.Broadcast(key, hub.Event{
		Type: hub.EventReadStateChanged,
		Data: ReadStateChanged{ConversationKey: key, ReaderID: caller.PrincipalID, SenderID: other},
	})
	return nil
}

// DeleteMessage removes message id from the admin's conversation with
// otherID. Returns false when no such message exists. Admin only.
func (r *Router) DeleteMessage(ctx context.Context, otherID string, id int64) (bool, error) {
	caller, err := auth.Admin(ctx)
	if err != nil {
		return false, err
	}
	if otherID == "" {
		return false, ErrNoRecipient
	}

	key := conversation.Key(caller.PrincipalID, otherID)
	ok, err := r.store.Delete(ctx, key, id)
	if err != nil {
		return false, fmt.Errorf("deleting message: %w", err)
	}
	if !ok {
		return false, nil
	}

	r.hub.Broadcast(key, hub.Event{
		Type: hub.EventMessageDeleted,
		Data: MessageDeleted{ConversationKey: key, MessageID: id},
	})
	return true, nil
}
