// ABOUTME: Presence session gateway handling channel connect and disconnect
// ABOUTME: Registers channels, joins them to the admin conversation group and announces presence

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/hub"
	"github.com/2389/presence-gateway/internal/presence"
	"github.com/2389/presence-gateway/internal/store"
)

// ErrNoAdmin is returned when an operation must reach the admin and the
// directory has none. It is a deployment defect, not a per-request failure.
var ErrNoAdmin = errors.New("no admin identity configured")

// Directory resolves the admin identity.
type Directory interface {
	FindAdminIdentity(ctx context.Context) (string, error)
	ListAdminIdentities(ctx context.Context) ([]string, error)
}

// OnlineIdentities is the payload of an online-identities-changed event.
type OnlineIdentities struct {
	Identities []string `json:"identities"`
}

// Session is one connected channel.
type Session struct {
	Channel   string
	Identity  string
	Admin     bool
	Anonymous bool
	// Group is the conversation group joined on connect. Empty for admins.
	Group  string
	Client *hub.Client
}

// SessionGateway drives the connect/disconnect lifecycle of the channels of
// one endpoint. Each endpoint pairs its own Registry with its own Hub.
type SessionGateway struct {
	registry          *presence.Registry
	hub               *hub.Hub
	directory         Directory
	broadcastPresence bool
	logger            *slog.Logger
}

// NewSessionGateway creates a gateway. broadcastPresence enables pushing the
// online list to admin channels on connect and on going offline. Pass nil
// logger for default.
func NewSessionGateway(registry *presence.Registry, h *hub.Hub, directory Directory, broadcastPresence bool, logger *slog.Logger) *SessionGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionGateway{
		registry:          registry,
		hub:               h,
		directory:         directory,
		broadcastPresence: broadcastPresence,
		logger:            logger.With("component", "session-gateway", "registry", registry.Name()),
	}
}

// Registry returns the gateway's connection registry.
func (g *SessionGateway) Registry() *presence.Registry {
	return g.registry
}

// Connected registers channel. The identity comes from the auth context;
// without one the channel handle stands in as an anonymous identity.
// Non-admin channels join the conversation group they share with the admin.
// Returns ErrNoAdmin, leaving the registry untouched, when no admin exists.
func (g *SessionGateway) Connected(ctx context.Context, channel string) (*Session, error) {
	s := &Session{Channel: channel}
	if a := auth.FromContext(ctx); a != nil && a.PrincipalID != "" {
		s.Identity = a.PrincipalID
		s.Admin = a.IsAdmin()
	} else {
		s.Identity = channel
		s.Anonymous = true
	}

	// Resolve the admin first so a rejected channel never touches the
	// registry, where a fourth connect would evict a live entry.
	if !s.Admin {
		adminID, err := resolveAdmin(ctx, g.directory)
		if err != nil {
			return nil, err
		}
		s.Group = conversation.Key(s.Identity, adminID)
	}

	s.Client = g.hub.Register(channel)
	first := g.registry.Connect(s.Identity, channel)
	if s.Group != "" {
		g.hub.AddToGroup(s.Group, channel)
	}

	g.logger.Debug("channel connected",
		"channel", channel,
		"identity", s.Identity,
		"admin", s.Admin,
		"first", first)

	if g.broadcastPresence {
		g.pushOnline(ctx)
	}
	return s, nil
}

// Disconnected unregisters the session's channel. Safe to call more than
// once and for channels the registry no longer holds.
func (g *SessionGateway) Disconnected(ctx context.Context, s *Session) {
	if s == nil {
		return
	}

	offline := g.registry.Disconnect(s.Identity, s.Channel)
	g.hub.Unregister(s.Channel)

	g.logger.Debug("channel disconnected",
		"channel", s.Channel,
		"identity", s.Identity,
		"offline", offline)

	if offline && g.broadcastPresence {
		g.pushOnline(ctx)
	}
}

// Touch refreshes the session's last-activity time.
func (g *SessionGateway) Touch(s *Session) {
	g.registry.Touch(s.Identity, s.Channel)
}

// JoinGroup adds an admin's channel to the conversation group shared with
// otherID, so the admin receives that conversation's events live.
func (g *SessionGateway) JoinGroup(ctx context.Context, s *Session, otherID string) (string, error) {
	caller, err := auth.Admin(ctx)
	if err != nil {
		return "", err
	}
	if otherID == "" {
		return "", ErrNoRecipient
	}

	group := conversation.Key(caller.PrincipalID, otherID)
	if !g.hub.AddToGroup(group, s.Channel) {
		return "", fmt.Errorf("channel %s is not connected", s.Channel)
	}
	return group, nil
}

// Online returns the identities currently online in this gateway's registry.
// Admin only.
func (g *SessionGateway) Online(ctx context.Context) ([]string, error) {
	if _, err := auth.Admin(ctx); err != nil {
		return nil, err
	}
	return g.registry.OnlineIdentities(), nil
}

// pushOnline sends the current online list to every admin channel.
func (g *SessionGateway) pushOnline(ctx context.Context) {
	admins, err := g.directory.ListAdminIdentities(ctx)
	if err != nil {
		g.logger.Warn("listing admins for presence broadcast failed", "error", err)
		return
	}

	channels := g.registry.ChannelsForMany(admins)
	if len(channels) == 0 {
		return
	}

	g.hub.SendTo(channels, hub.Event{
		Type: hub.EventOnlineIdentitiesChanged,
		Data: OnlineIdentities{Identities: g.registry.OnlineIdentities()},
	})
}

// resolveAdmin maps the directory's not-found to ErrNoAdmin.
func resolveAdmin(ctx context.Context, directory Directory) (string, error) {
	adminID, err := directory.FindAdminIdentity(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoAdmin
	}
	if err != nil {
		return "", fmt.Errorf("resolving admin: %w", err)
	}
	if adminID == "" {
		return "", ErrNoAdmin
	}
	return adminID, nil
}
