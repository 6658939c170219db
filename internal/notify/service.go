// ABOUTME: Notification delivery for offline chat recipients and admin broadcasts
// ABOUTME: Persists notifications, pushes them to live notification channels and relays off-channel

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/hub"
	"github.com/2389/presence-gateway/internal/presence"
	"github.com/2389/presence-gateway/internal/store"
)

// previewLength caps the message text copied into an offline notification.
const previewLength = 200

// Directory lists the admin identities.
type Directory interface {
	ListAdminIdentities(ctx context.Context) ([]string, error)
}

// Relay forwards a notification outside the gateway's own channels.
type Relay interface {
	Relay(ctx context.Context, title, message string) error
}

// Pushed is the payload of a notification-received event. HTML is the
// message rendered from markdown.
type Pushed struct {
	store.Notification
	HTML string `json:"html"`
}

// Service delivers notifications over the notification endpoint.
type Service struct {
	store     store.NotificationStore
	directory Directory
	registry  *presence.Registry
	hub       *hub.Hub
	relay     Relay
	markdown  goldmark.Markdown
	logger    *slog.Logger
}

// NewService creates a notification service over the notification endpoint's
// registry and hub. relay may be nil. Pass nil logger for default.
func NewService(ns store.NotificationStore, directory Directory, registry *presence.Registry, h *hub.Hub, relay Relay, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     ns,
		directory: directory,
		registry:  registry,
		hub:       h,
		relay:     relay,
		markdown:  goldmark.New(),
		logger:    logger.With("component", "notify"),
	}
}

// NotifyOffline records a notification for a chat recipient with no live
// chat channel and pushes it to every admin notification channel, and to the
// recipient's own notification channels if it has any. The push and the relay
// happen even when the durable write fails; that error is returned afterwards.
func (s *Service) NotifyOffline(ctx context.Context, msg conversation.Message) error {
	n := &store.Notification{
		UserID:  msg.ReceiverID,
		Title:   "New message from " + msg.SenderID,
		Message: truncate(msg.Body, previewLength),
		Status:  store.NotificationUnread,
	}

	var errs []error
	if err := s.store.AddNotification(ctx, n); err != nil {
		errs = append(errs, fmt.Errorf("storing offline notification: %w", err))
	}

	admins, err := s.directory.ListAdminIdentities(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing admins: %w", err))
	}

	audience := s.registry.ChannelsForMany(append(admins, msg.ReceiverID))
	sent := s.hub.SendTo(audience, s.event(n))

	s.logger.Debug("offline notification pushed",
		"recipient", msg.ReceiverID,
		"notification_id", n.ID,
		"channels", sent)

	s.relayBestEffort(ctx, n)
	return errors.Join(errs...)
}

// BroadcastAll pushes a notification to every connected notification
// channel. Nothing is persisted. Admin only.
func (s *Service) BroadcastAll(ctx context.Context, title, message string) (int, error) {
	caller, err := auth.Admin(ctx)
	if err != nil {
		return 0, err
	}

	n := &store.Notification{
		Title:   title,
		Message: message,
		Status:  store.NotificationUnread,
	}
	sent := s.hub.SendAll(s.event(n))

	s.logger.Info("broadcast sent", "by", caller.PrincipalID, "channels", sent)
	s.relayBestEffort(ctx, n)
	return sent, nil
}

// SendToUser persists a notification for userID and pushes it to the user's
// live notification channels. Admin only.
func (s *Service) SendToUser(ctx context.Context, userID, title, message string) (*store.Notification, error) {
	if _, err := auth.Admin(ctx); err != nil {
		return nil, err
	}

	n := &store.Notification{UserID: userID, Title: title, Message: message}
	if err := s.store.AddNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("storing notification: %w", err)
	}

	sent := s.hub.SendTo(s.registry.ChannelsFor(userID), s.event(n))
	s.logger.Debug("notification sent", "user_id", userID, "notification_id", n.ID, "channels", sent)
	return n, nil
}

// List returns the caller's notifications, newest first, optionally
// filtered by status.
func (s *Service) List(ctx context.Context, status *store.NotificationStatus) ([]*store.Notification, error) {
	caller, err := auth.Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotificationsByUser(ctx, caller.PrincipalID, status)
}

// MarkRead marks one of the caller's notifications read. Admins may mark
// anyone's.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	if err := s.authorizeOwner(ctx, id); err != nil {
		return err
	}
	return s.store.MarkNotificationRead(ctx, id)
}

// Delete removes one of the caller's notifications. Admins may delete
// anyone's.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.authorizeOwner(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteNotification(ctx, id)
}

func (s *Service) authorizeOwner(ctx context.Context, id string) error {
	caller, err := auth.Authenticated(ctx)
	if err != nil {
		return err
	}

	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != caller.PrincipalID && !caller.IsAdmin() {
		// Someone else's notification looks the same as a missing one.
		return store.ErrNotFound
	}
	return nil
}

func (s *Service) event(n *store.Notification) hub.Event {
	return hub.Event{
		Type: hub.EventNotificationReceived,
		Data: Pushed{Notification: *n, HTML: s.render(n.Message)},
	}
}

// render converts markdown to HTML. Rendering failures fall back to the
// raw text.
func (s *Service) render(md string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		s.logger.Warn("failed to convert markdown", "error", err)
		return md
	}
	return buf.String()
}

func (s *Service) relayBestEffort(ctx context.Context, n *store.Notification) {
	if s.relay == nil {
		return
	}
	if err := s.relay.Relay(ctx, n.Title, n.Message); err != nil {
		s.logger.Warn("relaying notification failed", "title", n.Title, "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
