// ABOUTME: Tests for the event hub fan-out
// ABOUTME: Covers groups, exclusion, unregister cleanup, slow clients and concurrency

package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "queue closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %q", ev.Type)
	default:
	}
}

func TestHub_BroadcastReachesGroupMembersOnly(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	a := h.Register("a")
	b := h.Register("b")
	outsider := h.Register("c")

	require.True(t, h.AddToGroup("admin_u1", "a"))
	require.True(t, h.AddToGroup("admin_u1", "b"))

	n := h.Broadcast("admin_u1", Event{Type: EventMessageReceived, Data: "hi"})
	assert.Equal(t, 2, n)

	assert.Equal(t, "hi", recv(t, a).Data)
	assert.Equal(t, "hi", recv(t, b).Data)
	assertEmpty(t, outsider)
}

func TestHub_BroadcastExcludes(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	a := h.Register("a")
	b := h.Register("b")
	h.AddToGroup("g", "a")
	h.AddToGroup("g", "b")

	n := h.Broadcast("g", Event{Type: EventReadStateChanged}, "a")
	assert.Equal(t, 1, n)
	assertEmpty(t, a)
	assert.Equal(t, EventReadStateChanged, recv(t, b).Type)
}

func TestHub_BroadcastToEmptyGroupIsNoop(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	assert.Equal(t, 0, h.Broadcast("nobody", Event{Type: "x"}))
}

func TestHub_AddToGroupRequiresRegistration(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	assert.False(t, h.AddToGroup("g", "ghost"))
	assert.Empty(t, h.Members("g"))
}

func TestHub_UnregisterLeavesGroupsAndClosesQueue(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	a := h.Register("a")
	h.AddToGroup("g1", "a")
	h.AddToGroup("g2", "a")
	assert.Equal(t, []string{"g1", "g2"}, h.GroupsOf("a"))

	h.Unregister("a")
	h.Unregister("a")

	_, ok := <-a.Events()
	assert.False(t, ok, "queue should be closed")
	assert.Empty(t, h.Members("g1"))
	assert.Empty(t, h.GroupsOf("a"))
	assert.Equal(t, 0, h.Broadcast("g1", Event{Type: "x"}))
	assert.Equal(t, 0, h.Count())
}

func TestHub_RemoveFromGroup(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	h.Register("a")
	h.Register("b")
	h.AddToGroup("g", "a")
	h.AddToGroup("g", "b")

	h.RemoveFromGroup("g", "a")

	assert.Equal(t, []string{"b"}, h.Members("g"))
	assert.Empty(t, h.GroupsOf("a"))
}

func TestHub_SendToSkipsUnknownAndDuplicates(t *testing.T) {
	h := New("notifications", nil)
	defer h.Close()

	a := h.Register("a")

	n := h.SendTo([]string{"a", "a", "missing"}, Event{Type: EventOnlineIdentitiesChanged})
	assert.Equal(t, 1, n)
	recv(t, a)
	assertEmpty(t, a)
}

func TestHub_SendAll(t *testing.T) {
	h := New("notifications", nil)
	defer h.Close()

	clients := []*Client{h.Register("a"), h.Register("b"), h.Register("c")}

	assert.Equal(t, 3, h.SendAll(Event{Type: EventNotificationReceived}))
	for _, c := range clients {
		assert.Equal(t, EventNotificationReceived, recv(t, c).Type)
	}
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	slow := h.Register("slow")
	fast := h.Register("fast")
	h.AddToGroup("g", "slow")
	h.AddToGroup("g", "fast")

	for i := range clientBufferSize {
		h.Broadcast("g", Event{Type: "fill", Data: i})
		<-fast.Events()
	}

	done := make(chan int)
	go func() { done <- h.Broadcast("g", Event{Type: "overflow"}) }()

	select {
	case n := <-done:
		assert.Equal(t, 1, n, "only the fast client has room")
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client")
	}
	assert.Equal(t, "overflow", recv(t, fast).Type)
	assert.Len(t, slow.Events(), clientBufferSize)
}

func TestHub_ReRegisterReplacesClient(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	first := h.Register("a")
	second := h.Register("a")

	_, ok := <-first.Events()
	assert.False(t, ok)

	h.SendTo([]string{"a"}, Event{Type: "x"})
	assert.Equal(t, "x", recv(t, second).Type)
}

func TestHub_CloseClosesQueues(t *testing.T) {
	h := New("chat", nil)
	a := h.Register("a")
	h.AddToGroup("g", "a")

	h.Close()
	h.Close()

	_, ok := <-a.Events()
	assert.False(t, ok)

	late := h.Register("late")
	_, ok = <-late.Events()
	assert.False(t, ok, "clients registered after close start closed")
	assert.Equal(t, 0, h.Broadcast("g", Event{Type: "x"}))
}

func TestHub_Concurrent(t *testing.T) {
	h := New("chat", nil)
	defer h.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			handle := fmt.Sprintf("c-%d", id)
			c := h.Register(handle)
			go func() {
				for range c.Events() {
				}
			}()
			for j := range 20 {
				group := fmt.Sprintf("g-%d", j%3)
				h.AddToGroup(group, handle)
				h.Broadcast(group, Event{Type: "x"})
				if j%5 == 0 {
					h.RemoveFromGroup(group, handle)
				}
			}
			h.Unregister(handle)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, h.Count())
}
