// Package ws exposes session gateways over WebSocket.
//
// Two endpoints exist, each bound to its own registry and hub:
//
//   - /hubs/chat: join-group, send-message, get-history, get-counterparts,
//     mark-read, delete-message
//   - /hubs/notifications: broadcast-all, broadcast-to-user, get-online
//
// Both answer ping. A request is a JSON text frame
//
//	{"id": "1", "type": "send-message", "data": {"body": "hello"}}
//
// answered by
//
//	{"type": "result", "id": "1", "data": {...}}
//
// or, on failure, a result with "error" and a stable "code". Server events
// arrive as {"type": "<event>", "data": {...}} frames with no id.
//
// When no admin identity exists, non-admin channels are closed right after
// the upgrade with close code 1011.
package ws
