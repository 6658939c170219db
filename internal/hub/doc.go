// Package hub fans server events out to live channels.
//
// Each WebSocket endpoint owns one Hub. A channel registers under its handle
// and receives a Client with a buffered queue; the transport drains that
// queue onto the wire. Channels join groups named by conversation key, and
// Broadcast reaches every member of a group:
//
//	h := hub.New("chat", logger)
//	c := h.Register(handle)
//	h.AddToGroup(conversation.Key(user, admin), handle)
//	h.Broadcast(key, hub.Event{Type: hub.EventMessageReceived, Data: msg})
//
// Sends never block. When a client's queue is full the event is dropped for
// that client and logged at debug level.
package hub
