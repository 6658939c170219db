// ABOUTME: Tests for the session gateway and message router
// ABOUTME: Covers funneling, live and offline delivery, presence pushes and role gates

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/cache"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/hub"
	"github.com/2389/presence-gateway/internal/presence"
	"github.com/2389/presence-gateway/internal/store"
)

const adminID = "admin-1"

type fakeNotifier struct {
	mu    sync.Mutex
	calls []conversation.Message
	err   error
}

func (f *fakeNotifier) NotifyOffline(_ context.Context, msg conversation.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	return f.err
}

func (f *fakeNotifier) Calls() []conversation.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Message(nil), f.calls...)
}

type fixture struct {
	dir      *store.MockStore
	conv     *conversation.Store
	registry *presence.Registry
	hub      *hub.Hub
	gateway  *SessionGateway
	router   *Router
	notifier *fakeNotifier
}

func newFixture(t *testing.T, withAdmin bool) *fixture {
	t.Helper()

	dir := store.NewMockStore()
	if withAdmin {
		require.NoError(t, dir.AddRole(context.Background(), adminID, store.RoleAdmin))
	}

	mem := cache.NewMemory(0, 0, nil)
	t.Cleanup(func() { _ = mem.Close() })

	f := &fixture{
		dir:      dir,
		conv:     conversation.NewStore(mem, 0, nil),
		registry: presence.NewRegistry("chat"),
		hub:      hub.New("chat", nil),
		notifier: &fakeNotifier{},
	}
	t.Cleanup(f.hub.Close)

	f.gateway = NewSessionGateway(f.registry, f.hub, dir, false, nil)
	f.router = NewRouter(f.conv, f.registry, f.hub, dir, f.notifier, nil)

	next := int64(0)
	f.router.NewID = func() int64 {
		next++
		return next
	}
	f.router.now = func() time.Time {
		return time.Date(2026, 4, 2, 12, 0, int(next), 0, time.UTC)
	}
	return f
}

func userCtx(id string) context.Context {
	return auth.WithAuth(context.Background(), &auth.AuthContext{PrincipalID: id, Roles: []string{"member"}})
}

func adminCtx() context.Context {
	return auth.WithAuth(context.Background(), &auth.AuthContext{PrincipalID: adminID, Roles: []string{"admin"}})
}

func nextEvent(t *testing.T, c *hub.Client) hub.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "queue closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return hub.Event{}
	}
}

func noEvent(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %q", ev.Type)
	default:
	}
}

func TestSendMessage_OfflineAdminTriggersFallbackOnce(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.router.SendMessage(userCtx("u1"), adminID, "hello")
	require.NoError(t, err)

	log := f.conv.Get(context.Background(), conversation.Key("u1", adminID))
	require.Len(t, log, 1)
	assert.Equal(t, *msg, log[0])
	assert.Equal(t, "hello", log[0].Body)
	assert.False(t, log[0].IsRead)
	assert.False(t, log[0].IsFromAdmin)

	calls := f.notifier.Calls()
	require.Len(t, calls, 1, "fallback fires exactly once")
	assert.Equal(t, msg.ID, calls[0].ID)
}

func TestSendMessage_LiveAdminReceivesAndMarksRead(t *testing.T) {
	f := newFixture(t, true)

	admin, err := f.gateway.Connected(adminCtx(), "admin-ch")
	require.NoError(t, err)
	group, err := f.gateway.JoinGroup(adminCtx(), admin, "u1")
	require.NoError(t, err)
	assert.Equal(t, conversation.Key("u1", adminID), group)

	msg, err := f.router.SendMessage(userCtx("u1"), "", "hi")
	require.NoError(t, err)

	ev := nextEvent(t, admin.Client)
	assert.Equal(t, hub.EventMessageReceived, ev.Type)
	got, ok := ev.Data.(conversation.Message)
	require.True(t, ok)
	assert.Equal(t, "hi", got.Body)
	assert.True(t, got.IsRead)

	log := f.conv.Get(context.Background(), group)
	require.Len(t, log, 1)
	assert.Equal(t, msg.ID, log[0].ID)
	assert.True(t, log[0].IsRead, "delivery to a live channel counts as read")
	assert.Empty(t, f.notifier.Calls())
}

func TestSendMessage_NonAdminIsFunneledToAdmin(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.router.SendMessage(userCtx("u1"), "u2", "psst")
	require.NoError(t, err)
	assert.Equal(t, adminID, msg.ReceiverID)

	assert.Empty(t, f.conv.Get(context.Background(), conversation.Key("u1", "u2")))
	assert.Len(t, f.conv.Get(context.Background(), conversation.Key("u1", adminID)), 1)
}

func TestSendMessage_OfflineStillBroadcastsToGroup(t *testing.T) {
	f := newFixture(t, true)

	// The user's own channel is in the group; the admin is offline.
	user, err := f.gateway.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)

	_, err = f.router.SendMessage(userCtx("u1"), "", "anyone?")
	require.NoError(t, err)

	ev := nextEvent(t, user.Client)
	assert.Equal(t, hub.EventMessageReceived, ev.Type)
	assert.Len(t, f.notifier.Calls(), 1)
}

func TestSendMessage_AdminToUser(t *testing.T) {
	f := newFixture(t, true)

	user, err := f.gateway.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)

	msg, err := f.router.SendMessage(adminCtx(), "u1", "how can I help?")
	require.NoError(t, err)
	assert.True(t, msg.IsFromAdmin)
	assert.True(t, msg.IsRead)
	assert.Equal(t, "u1", msg.ReceiverID)

	ev := nextEvent(t, user.Client)
	assert.Equal(t, "how can I help?", ev.Data.(conversation.Message).Body)
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.router.SendMessage(context.Background(), adminID, "hi")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = f.router.SendMessage(userCtx("u1"), "", "   ")
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = f.router.SendMessage(adminCtx(), "", "hi")
	assert.ErrorIs(t, err, ErrNoRecipient)

	assert.Empty(t, f.conv.AllKeys(context.Background()))
	assert.Empty(t, f.notifier.Calls())
}

func TestSendMessage_NoAdminIsFatal(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.router.SendMessage(userCtx("u1"), "", "hello")
	assert.ErrorIs(t, err, ErrNoAdmin)
	assert.Empty(t, f.conv.AllKeys(context.Background()))
}

func TestSendMessage_NotifierFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, true)
	f.notifier.err = assert.AnError

	_, err := f.router.SendMessage(userCtx("u1"), "", "hello")
	require.NoError(t, err)
	assert.Len(t, f.conv.Get(context.Background(), conversation.Key("u1", adminID)), 1)
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.router.SendMessage(userCtx("u1"), "", "one")
	require.NoError(t, err)
	_, err = f.router.SendMessage(adminCtx(), "u1", "two")
	require.NoError(t, err)
	_, err = f.router.SendMessage(userCtx("u2"), "", "other")
	require.NoError(t, err)

	history, err := f.router.GetHistory(userCtx("u1"), "u2")
	require.NoError(t, err)
	require.Len(t, history, 2, "non-admin history is always with the admin")
	assert.Equal(t, "one", history[0].Body)
	assert.Equal(t, "two", history[1].Body)

	history, err = f.router.GetHistory(adminCtx(), "u2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "other", history[0].Body)

	history, err = f.router.GetHistory(adminCtx(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.router.GetHistory(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestGetCounterparts(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.router.SendMessage(userCtx("u1"), "", "from u1")
	require.NoError(t, err)
	_, err = f.router.SendMessage(userCtx("u2"), "", "from u2")
	require.NoError(t, err)
	_, err = f.router.SendMessage(adminCtx(), "u2", "reply to u2")
	require.NoError(t, err)
	require.NoError(t, f.router.MarkRead(adminCtx(), "u2"))

	_, err = f.gateway.Connected(userCtx("u2"), "u2-ch")
	require.NoError(t, err)

	list, err := f.router.GetCounterparts(adminCtx())
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Index order: admin-1_u1 before admin-1_u2.
	assert.Equal(t, "u1", list[0].Identity)
	assert.True(t, list[0].HasUnread)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "from u1", list[0].LastMessage)
	assert.False(t, list[0].Online)

	assert.Equal(t, "u2", list[1].Identity)
	assert.False(t, list[1].HasUnread)
	assert.Equal(t, "reply to u2", list[1].LastMessage)
	assert.True(t, list[1].Online)
}

func TestGetCounterparts_SortedWhenEnabled(t *testing.T) {
	f := newFixture(t, true)
	f.router.SortCounterparts = true

	_, err := f.router.SendMessage(userCtx("u1"), "", "old unread")
	require.NoError(t, err)
	_, err = f.router.SendMessage(userCtx("u2"), "", "read")
	require.NoError(t, err)
	require.NoError(t, f.router.MarkRead(adminCtx(), "u2"))
	_, err = f.router.SendMessage(userCtx("u3"), "", "new unread")
	require.NoError(t, err)

	list, err := f.router.GetCounterparts(adminCtx())
	require.NoError(t, err)

	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.Identity
	}
	assert.Equal(t, []string{"u3", "u1", "u2"}, ids)
}

func TestGetCounterparts_AdminOnly(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.router.GetCounterparts(userCtx("u1"))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.router.GetCounterparts(context.Background())
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestMarkRead_BroadcastsAndOnlyTouchesOtherSender(t *testing.T) {
	f := newFixture(t, true)

	user, err := f.gateway.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)

	_, err = f.router.SendMessage(userCtx("u1"), "", "question")
	require.NoError(t, err)
	nextEvent(t, user.Client)

	require.NoError(t, f.router.MarkRead(adminCtx(), "u1"))

	ev := nextEvent(t, user.Client)
	assert.Equal(t, hub.EventReadStateChanged, ev.Type)
	assert.Equal(t, ReadStateChanged{
		ConversationKey: conversation.Key("u1", adminID),
		ReaderID:        adminID,
		SenderID:        "u1",
	}, ev.Data)

	log := f.conv.Get(context.Background(), conversation.Key("u1", adminID))
	require.Len(t, log, 1)
	assert.True(t, log[0].IsRead)

	assert.ErrorIs(t, f.router.MarkRead(context.Background(), "u1"), auth.ErrNotAuthenticated)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t, true)

	user, err := f.gateway.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)

	msg, err := f.router.SendMessage(userCtx("u1"), "", "oops")
	require.NoError(t, err)
	nextEvent(t, user.Client)

	ok, err := f.router.DeleteMessage(adminCtx(), "u1", msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ev := nextEvent(t, user.Client)
	assert.Equal(t, hub.EventMessageDeleted, ev.Type)
	assert.Equal(t, MessageDeleted{ConversationKey: conversation.Key("u1", adminID), MessageID: msg.ID}, ev.Data)
	assert.Empty(t, f.conv.Get(context.Background(), conversation.Key("u1", adminID)))
}

func TestDeleteMessage_MissingIDLeavesLogUnchanged(t *testing.T) {
	f := newFixture(t, true)

	user, err := f.gateway.Connected(userCtx("u1"), "u1-ch")
	require.NoError(t, err)
	_, err = f.router.SendMessage(userCtx("u1"), "", "keep me")
	require.NoError(t, err)
	nextEvent(t, user.Client)

	key := conversation.Key("u1", adminID)
	before := f.conv.Get(context.Background(), key)

	ok, err := f.router.DeleteMessage(adminCtx(), "u1", 424242)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, f.conv.Get(context.Background(), key))
	noEvent(t, user.Client)
}

func TestDeleteMessage_AdminOnly(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.router.SendMessage(userCtx("u1"), "", "mine")
	require.NoError(t, err)

	_, err = f.router.DeleteMessage(userCtx("u1"), adminID, msg.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.Len(t, f.conv.Get(context.Background(), conversation.Key("u1", adminID)), 1)

	_, err = f.router.DeleteMessage(adminCtx(), "", msg.ID)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestRandomID_PositiveAndBounded(t *testing.T) {
	for range 1000 {
		id := randomID()
		assert.Positive(t, id)
		assert.LessOrEqual(t, id, int64(maxMessageID))
	}
}
