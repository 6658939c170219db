// ABOUTME: Tests for conversation keys and the ephemeral conversation store
// ABOUTME: Covers key symmetry, round trips, mark-read, delete, index and expiry

package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/presence-gateway/internal/cache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	c := cache.NewMemory(0, 0, nil)
	t.Cleanup(func() { _ = c.Close() })
	return NewStore(c, 0, nil)
}

func msg(id int64, from, to, body string) Message {
	return Message{
		ID:         id,
		SenderID:   from,
		ReceiverID: to,
		Body:       body,
		SentAt:     time.Date(2026, 3, 1, 10, 0, int(id), 0, time.UTC),
	}
}

func TestKey_IsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"admin", "user-42"},
		{"Zed", "amy"},
		{"same", "same"},
		{"", "x"},
	}
	for _, p := range pairs {
		assert.Equal(t, Key(p[0], p[1]), Key(p[1], p[0]), "%q/%q", p[0], p[1])
	}
}

func TestKey_OrdinalOrdering(t *testing.T) {
	assert.Equal(t, "alice_bob", Key("bob", "alice"))
	// Upper case sorts before lower case under byte comparison.
	assert.Equal(t, "Zed_amy", Key("amy", "Zed"))
}

func TestOther(t *testing.T) {
	key := Key("admin", "user-1")

	other, ok := Other(key, "admin")
	require.True(t, ok)
	assert.Equal(t, "user-1", other)

	other, ok = Other(key, "user-1")
	require.True(t, ok)
	assert.Equal(t, "admin", other)

	_, ok = Other(key, "stranger")
	assert.False(t, ok)
}

func TestOther_IdentityWithSeparator(t *testing.T) {
	key := Key("admin", "visitor_abc")

	other, ok := Other(key, "admin")
	require.True(t, ok)
	assert.Equal(t, "visitor_abc", other)

	_, ok = Other(key, "visitor")
	assert.False(t, ok)
}

func TestStore_AppendThenGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key("user-1", "admin")

	m := msg(7, "user-1", "admin", "hello")
	m.IsFromAdmin = false
	require.NoError(t, s.Append(ctx, key, m))

	got := s.Get(ctx, key)
	require.Len(t, got, 1)
	assert.Equal(t, m, got[0])
}

func TestStore_AppendKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key("user-1", "admin")

	require.NoError(t, s.Append(ctx, key, msg(1, "user-1", "admin", "one")))
	require.NoError(t, s.Append(ctx, key, msg(2, "admin", "user-1", "two")))
	require.NoError(t, s.Append(ctx, key, msg(3, "user-1", "admin", "three")))

	got := s.Get(ctx, key)
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Body)
	assert.Equal(t, "two", got[1].Body)
	assert.Equal(t, "three", got[2].Body)
}

func TestStore_GetMissingIsEmpty(t *testing.T) {
	s := newTestStore(t)

	got := s.Get(context.Background(), "nobody_nothing")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_MarkReadFromOnlyTouchesSender(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key("user-1", "admin")

	require.NoError(t, s.Append(ctx, key, msg(1, "user-1", "admin", "a")))
	require.NoError(t, s.Append(ctx, key, msg(2, "admin", "user-1", "b")))
	require.NoError(t, s.Append(ctx, key, msg(3, "user-1", "admin", "c")))

	require.NoError(t, s.MarkReadFrom(ctx, key, "user-1"))

	for _, m := range s.Get(ctx, key) {
		if m.SenderID == "user-1" {
			assert.True(t, m.IsRead, "message %d from user-1 should be read", m.ID)
		} else {
			assert.False(t, m.IsRead, "message %d from admin should be untouched", m.ID)
		}
	}
}

func TestStore_MarkReadFromEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkReadFrom(ctx, "a_b", "a"))
	assert.Empty(t, s.AllKeys(ctx), "mark-read must not create a log")
}

func TestStore_DeleteRemovesFirstMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key("user-1", "admin")

	require.NoError(t, s.Append(ctx, key, msg(1, "user-1", "admin", "a")))
	require.NoError(t, s.Append(ctx, key, msg(2, "user-1", "admin", "b")))
	dup := msg(2, "admin", "user-1", "b-dup")
	require.NoError(t, s.Append(ctx, key, dup))

	ok, err := s.Delete(ctx, key, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	got := s.Get(ctx, key)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Body)
	assert.Equal(t, "b-dup", got[1].Body)
}

func TestStore_DeleteMissingLeavesLogUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key("user-1", "admin")

	require.NoError(t, s.Append(ctx, key, msg(1, "user-1", "admin", "a")))
	before := s.Get(ctx, key)

	ok, err := s.Delete(ctx, key, 999)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, s.Get(ctx, key))

	ok, err = s.Delete(ctx, "empty_log", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AllKeysIndexesEveryConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Key("u2", "admin"), msg(1, "u2", "admin", "x")))
	require.NoError(t, s.Append(ctx, Key("u1", "admin"), msg(2, "u1", "admin", "y")))
	require.NoError(t, s.Append(ctx, Key("u1", "admin"), msg(3, "u1", "admin", "z")))

	assert.Equal(t, []string{"admin_u1", "admin_u2"}, s.AllKeys(ctx))
}

func TestStore_LogsExpire(t *testing.T) {
	c := cache.NewMemory(0, 0, nil)
	defer c.Close()
	s := NewStore(c, 20*time.Millisecond, nil)
	ctx := context.Background()
	key := Key("user-1", "admin")

	require.NoError(t, s.Append(ctx, key, msg(1, "user-1", "admin", "a")))
	require.Len(t, s.Get(ctx, key), 1)

	time.Sleep(40 * time.Millisecond)

	assert.Empty(t, s.Get(ctx, key))
	assert.Empty(t, s.AllKeys(ctx))
}

func TestStore_DefaultTTL(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, 72*time.Hour, s.TTL())
}

// failingCache always errors, to check how read failures surface.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("backend down")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}
func (failingCache) Delete(context.Context, string) error { return nil }
func (failingCache) Close() error                         { return nil }

func TestStore_BackendFailures(t *testing.T) {
	s := NewStore(failingCache{}, 0, nil)
	ctx := context.Background()

	assert.Empty(t, s.Get(ctx, "a_b"), "Get never errors")
	assert.Empty(t, s.AllKeys(ctx))
	assert.Error(t, s.Append(ctx, "a_b", msg(1, "a", "b", "x")))

	_, err := s.Delete(ctx, "a_b", 1)
	assert.Error(t, err)
}
