// ABOUTME: Tests for the presence session gateway lifecycle
// ABOUTME: Covers anonymous visitors, group joins, presence pushes and idempotent disconnect

package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/hub"
	"github.com/2389/presence-gateway/internal/presence"
	"github.com/2389/presence-gateway/internal/store"
)

func newNotificationGateway(t *testing.T, dir *store.MockStore) (*SessionGateway, *presence.Registry, *hub.Hub) {
	t.Helper()
	reg := presence.NewRegistry("notifications")
	h := hub.New("notifications", nil)
	t.Cleanup(h.Close)
	return NewSessionGateway(reg, h, dir, true, nil), reg, h
}

func TestConnected_UserJoinsAdminGroup(t *testing.T) {
	f := newFixture(t, true)

	s, err := f.gateway.Connected(userCtx("u1"), "ch-1")
	require.NoError(t, err)

	assert.Equal(t, "u1", s.Identity)
	assert.False(t, s.Admin)
	assert.False(t, s.Anonymous)
	assert.Equal(t, conversation.Key("u1", adminID), s.Group)
	assert.Equal(t, []string{"ch-1"}, f.hub.Members(s.Group))
	assert.Equal(t, []string{"ch-1"}, f.registry.ChannelsFor("u1"))
}

func TestConnected_AnonymousUsesChannelAsIdentity(t *testing.T) {
	f := newFixture(t, true)

	s, err := f.gateway.Connected(context.Background(), "visitor-ch")
	require.NoError(t, err)

	assert.True(t, s.Anonymous)
	assert.Equal(t, "visitor-ch", s.Identity)
	assert.Equal(t, conversation.Key("visitor-ch", adminID), s.Group)
	assert.True(t, f.registry.IsOnline("visitor-ch"))
}

func TestConnected_AdminJoinsNoGroup(t *testing.T) {
	f := newFixture(t, true)

	s, err := f.gateway.Connected(adminCtx(), "admin-ch")
	require.NoError(t, err)

	assert.True(t, s.Admin)
	assert.Empty(t, s.Group)
	assert.Empty(t, f.hub.GroupsOf("admin-ch"))
}

func TestConnected_NoAdminIsFatalAndRollsBack(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.gateway.Connected(userCtx("u1"), "ch-1")
	assert.ErrorIs(t, err, ErrNoAdmin)

	assert.False(t, f.registry.IsOnline("u1"))
	assert.Equal(t, 0, f.hub.Count())
}

func TestConnected_NoAdminKeepsExistingChannels(t *testing.T) {
	f := newFixture(t, true)
	ctx := userCtx("u1")

	for _, ch := range []string{"ch-1", "ch-2", "ch-3"} {
		_, err := f.gateway.Connected(ctx, ch)
		require.NoError(t, err)
	}
	require.NoError(t, f.dir.RemoveRole(context.Background(), adminID, store.RoleAdmin))

	_, err := f.gateway.Connected(ctx, "ch-4")
	require.ErrorIs(t, err, ErrNoAdmin)

	assert.Equal(t, []string{"ch-1", "ch-2", "ch-3"}, f.registry.ChannelsFor("u1"))
	assert.Equal(t, 3, f.hub.Count())
	assert.NotContains(t, f.hub.GroupsOf("ch-4"), conversation.Key("u1", adminID))
}

func TestConnected_MultipleChannelsShareGroup(t *testing.T) {
	f := newFixture(t, true)

	for _, ch := range []string{"ch-1", "ch-2", "ch-3", "ch-4"} {
		_, err := f.gateway.Connected(userCtx("u1"), ch)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"ch-2", "ch-3", "ch-4"}, f.registry.ChannelsFor("u1"))
	assert.Len(t, f.hub.Members(conversation.Key("u1", adminID)), 4,
		"registry eviction does not close the hub client")
}

func TestDisconnected_Idempotent(t *testing.T) {
	f := newFixture(t, true)

	s, err := f.gateway.Connected(userCtx("u1"), "ch-1")
	require.NoError(t, err)

	f.gateway.Disconnected(context.Background(), s)
	f.gateway.Disconnected(context.Background(), s)
	f.gateway.Disconnected(context.Background(), nil)

	assert.False(t, f.registry.IsOnline("u1"))
	assert.Empty(t, f.hub.Members(s.Group))
	_, ok := <-s.Client.Events()
	assert.False(t, ok)
}

func TestJoinGroup_AdminOnly(t *testing.T) {
	f := newFixture(t, true)

	s, err := f.gateway.Connected(userCtx("u1"), "ch-1")
	require.NoError(t, err)

	_, err = f.gateway.JoinGroup(userCtx("u1"), s, "u2")
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.Equal(t, []string{s.Group}, f.hub.GroupsOf("ch-1"))

	admin, err := f.gateway.Connected(adminCtx(), "admin-ch")
	require.NoError(t, err)
	_, err = f.gateway.JoinGroup(adminCtx(), admin, "")
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestSessionGateway_PresenceBroadcast(t *testing.T) {
	dir := store.NewMockStore()
	require.NoError(t, dir.AddRole(context.Background(), adminID, store.RoleAdmin))
	gw, _, _ := newNotificationGateway(t, dir)

	admin, err := gw.Connected(adminCtx(), "admin-ch")
	require.NoError(t, err)
	ev := nextEvent(t, admin.Client)
	assert.Equal(t, hub.EventOnlineIdentitiesChanged, ev.Type)
	assert.Equal(t, OnlineIdentities{Identities: []string{adminID}}, ev.Data)

	user, err := gw.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)
	ev = nextEvent(t, admin.Client)
	assert.Equal(t, OnlineIdentities{Identities: []string{adminID, "u1"}}, ev.Data)
	noEvent(t, user.Client)

	gw.Disconnected(context.Background(), user)
	ev = nextEvent(t, admin.Client)
	assert.Equal(t, OnlineIdentities{Identities: []string{adminID}}, ev.Data)

	gw.Disconnected(context.Background(), user)
	noEvent(t, admin.Client)
}

func TestSessionGateway_NoPushWhileStillOnline(t *testing.T) {
	dir := store.NewMockStore()
	require.NoError(t, dir.AddRole(context.Background(), adminID, store.RoleAdmin))
	gw, _, _ := newNotificationGateway(t, dir)

	admin, err := gw.Connected(adminCtx(), "admin-ch")
	require.NoError(t, err)
	nextEvent(t, admin.Client)

	first, err := gw.Connected(userCtx("u1"), "u1-a")
	require.NoError(t, err)
	nextEvent(t, admin.Client)
	_, err = gw.Connected(userCtx("u1"), "u1-b")
	require.NoError(t, err)
	nextEvent(t, admin.Client)

	gw.Disconnected(context.Background(), first)
	noEvent(t, admin.Client)
}

func TestSessionGateway_ChatGatewayDoesNotPushPresence(t *testing.T) {
	f := newFixture(t, true)

	admin, err := f.gateway.Connected(adminCtx(), "admin-ch")
	require.NoError(t, err)
	_, err = f.gateway.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)

	noEvent(t, admin.Client)
}

func TestSessionGateway_Online(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.gateway.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)

	online, err := f.gateway.Online(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, online)

	_, err = f.gateway.Online(userCtx("u1"))
	assert.ErrorIs(t, err, auth.ErrForbidden)
}
