// ABOUTME: Tests for notification delivery and the Matrix relay
// ABOUTME: Covers offline fallback audience, broadcasts, ownership checks and markdown rendering

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/hub"
	"github.com/2389/presence-gateway/internal/presence"
	"github.com/2389/presence-gateway/internal/store"
)

const adminID = "admin-1"

type fakeRelay struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (f *fakeRelay) Relay(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return f.err
}

type fixture struct {
	store    *store.MockStore
	registry *presence.Registry
	hub      *hub.Hub
	relay    *fakeRelay
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMockStore()
	require.NoError(t, s.AddRole(context.Background(), adminID, store.RoleAdmin))

	f := &fixture{
		store:    s,
		registry: presence.NewRegistry("notifications"),
		hub:      hub.New("notifications", nil),
		relay:    &fakeRelay{},
	}
	t.Cleanup(f.hub.Close)
	f.svc = NewService(s, s, f.registry, f.hub, f.relay, nil)
	return f
}

// connect registers a live notification channel for identity.
func (f *fixture) connect(identity, channel string) *hub.Client {
	c := f.hub.Register(channel)
	f.registry.Connect(identity, channel)
	return c
}

func userCtx(id string) context.Context {
	return auth.WithAuth(context.Background(), &auth.AuthContext{PrincipalID: id})
}

func adminCtx() context.Context {
	return auth.WithAuth(context.Background(), &auth.AuthContext{PrincipalID: adminID, Roles: []string{"admin"}})
}

func nextPushed(t *testing.T, c *hub.Client) Pushed {
	t.Helper()
	select {
	case ev := <-c.Events():
		require.Equal(t, hub.EventNotificationReceived, ev.Type)
		p, ok := ev.Data.(Pushed)
		require.True(t, ok)
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return Pushed{}
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

func TestNotifyOffline_PersistsAndPushesToAdmins(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(adminID, "admin-n")
	bystander := f.connect("u9", "u9-n")

	msg := conversation.Message{ID: 1, SenderID: "u1", ReceiverID: adminID, Body: "**help**", SentAt: time.Now()}
	require.NoError(t, f.svc.NotifyOffline(context.Background(), msg))

	stored, err := f.store.ListNotificationsByUser(context.Background(), adminID, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "New message from u1", stored[0].Title)
	assert.Equal(t, "**help**", stored[0].Message)
	assert.Equal(t, store.NotificationUnread, stored[0].Status)

	p := nextPushed(t, admin)
	assert.Equal(t, stored[0].ID, p.ID)
	assert.Contains(t, p.HTML, "<strong>help</strong>")

	noEvent(t, bystander)
	assert.Equal(t, []string{"New message from u1"}, f.relay.titles)
}

// failingNotifications rejects every durable write.
type failingNotifications struct {
	*store.MockStore
}

func (failingNotifications) AddNotification(context.Context, *store.Notification) error {
	return errors.New("db locked")
}

func TestNotifyOffline_StoreFailureStillPushesToAdmins(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(failingNotifications{f.store}, f.store, f.registry, f.hub, f.relay, nil)
	admin := f.connect(adminID, "admin-n")

	msg := conversation.Message{ID: 1, SenderID: "u1", ReceiverID: "u2", Body: "hello", SentAt: time.Now()}
	err := f.svc.NotifyOffline(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")

	p := nextPushed(t, admin)
	assert.Equal(t, "New message from u1", p.Title)
	assert.Equal(t, store.NotificationUnread, p.Status)
	assert.Equal(t, []string{"New message from u1"}, f.relay.titles)
}

func TestNotifyOffline_ReachesRecipientNotificationChannel(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(adminID, "admin-n")
	user := f.connect("u1", "u1-n")

	msg := conversation.Message{ID: 2, SenderID: adminID, ReceiverID: "u1", Body: "we replied"}
	require.NoError(t, f.svc.NotifyOffline(context.Background(), msg))

	assert.Equal(t, "we replied", nextPushed(t, user).Message)
	assert.Equal(t, "u1", nextPushed(t, admin).UserID)
}

func TestNotifyOffline_TruncatesPreview(t *testing.T) {
	f := newFixture(t)

	body := strings.Repeat("é", previewLength+10)
	msg := conversation.Message{ID: 3, SenderID: "u1", ReceiverID: adminID, Body: body}
	require.NoError(t, f.svc.NotifyOffline(context.Background(), msg))

	stored, err := f.store.ListNotificationsByUser(context.Background(), adminID, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, strings.Repeat("é", previewLength)+"...", stored[0].Message)
}

func TestNotifyOffline_RelayFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	f.relay.err = assert.AnError

	msg := conversation.Message{ID: 4, SenderID: "u1", ReceiverID: adminID, Body: "hi"}
	assert.NoError(t, f.svc.NotifyOffline(context.Background(), msg))
}

func TestBroadcastAll(t *testing.T) {
	f := newFixture(t)
	a := f.connect("u1", "u1-n")
	b := f.connect("u2", "u2-n")

	n, err := f.svc.BroadcastAll(adminCtx(), "Maintenance", "Back at _noon_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, c := range []*hub.Client{a, b} {
		p := nextPushed(t, c)
		assert.Equal(t, "Maintenance", p.Title)
		assert.Contains(t, p.HTML, "<em>noon</em>")
	}

	_, err = f.svc.BroadcastAll(userCtx("u1"), "x", "y")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestSendToUser(t *testing.T) {
	f := newFixture(t)
	user := f.connect("u1", "u1-n")
	other := f.connect("u2", "u2-n")

	n, err := f.svc.SendToUser(adminCtx(), "u1", "Hello", "Your listing was approved")
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	assert.Equal(t, n.ID, nextPushed(t, user).ID)
	noEvent(t, other)

	stored, err := f.store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)

	_, err = f.svc.SendToUser(userCtx("u2"), "u1", "x", "y")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestListMarkReadDelete_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := &store.Notification{UserID: "u1", Title: "a", Message: "a"}
	theirs := &store.Notification{UserID: "u2", Title: "b", Message: "b"}
	require.NoError(t, f.store.AddNotification(ctx, mine))
	require.NoError(t, f.store.AddNotification(ctx, theirs))

	list, err := f.svc.List(userCtx("u1"), nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	assert.ErrorIs(t, f.svc.MarkRead(userCtx("u1"), theirs.ID), store.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(userCtx("u1"), theirs.ID), store.ErrNotFound)

	require.NoError(t, f.svc.MarkRead(userCtx("u1"), mine.ID))
	unread := store.NotificationUnread
	list, err = f.svc.List(userCtx("u1"), &unread)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, f.svc.Delete(adminCtx(), theirs.ID), "admins may delete anyone's")

	_, err = f.svc.List(context.Background(), nil)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestMatrixRelay_SendsText(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$evt1"}`))
	}))
	defer srv.Close()

	relay, err := NewMatrixRelay(MatrixConfig{
		Homeserver:  srv.URL,
		UserID:      "@support:example.org",
		AccessToken: "secret",
		RoomID:      "!room:example.org",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, relay.Relay(context.Background(), "New message from u1", "hello"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, path, "/send/m.room.message/")
	assert.Equal(t, "m.text", body["msgtype"])
	assert.Equal(t, "New message from u1\n\nhello", body["body"])
}

func TestNewMatrixRelay_RequiresConfig(t *testing.T) {
	_, err := NewMatrixRelay(MatrixConfig{Homeserver: "https://matrix.example.org"}, nil)
	assert.Error(t, err)
}
