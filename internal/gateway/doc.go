// Package gateway orchestrates the presence-gateway server components.
//
// # Overview
//
// The gateway owns every long-lived component and wires them together:
//
//   - the SQLite store (users, roles, notifications)
//   - the conversation cache (memory, Redis or Badger)
//   - one presence registry and one hub per channel domain (chat, notifications)
//   - the chat session gateways, the message router and the notification service
//   - the sweeper that prunes idle registry entries
//   - the HTTP server, the gRPC health server and an optional tsnet node
//
// # HTTP Surface
//
// WebSocket hubs (token optional, anonymous visitors allowed):
//
//   - /hubs/chat
//   - /hubs/notifications
//
// REST API (token required):
//
//   - GET /api/presence - online identities per domain (admin)
//   - GET /api/conversations - the admin's counterparts (admin)
//   - GET /api/conversations/{other}/messages - conversation history
//   - POST /api/conversations/{other}/read - mark the other side's messages read
//   - GET /api/notifications[?status=unread|read] - the caller's notifications
//   - POST /api/notifications/{id}/read - mark one read
//   - DELETE /api/notifications/{id} - delete one
//   - POST /api/notifications/broadcast - push to everyone or one user (admin)
//
// Health (no auth):
//
//   - GET /health - liveness
//   - GET /health/ready - store reachable and an admin configured
//
// Errors map to status codes: not authenticated 401, forbidden 403,
// not found 404, no admin configured 503.
//
// # gRPC
//
// When server.grpc_addr is set (or tailscale is enabled) the standard
// grpc.health.v1 service is served. Status follows a periodic store ping.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is cancelled
//
// Shutdown closes both hubs first, so open channels get a going-away frame,
// then stops the servers and closes the cache and store.
package gateway
