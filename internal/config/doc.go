// Package config handles configuration loading for presence-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion, then defaulted and validated.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PRESENCE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	presence:
//	  sweep_interval: "12h"
//	  max_idle: "12h"
//	conversation:
//	  ttl: "72h"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # WebSocket hubs and REST API
//	  grpc_addr: "0.0.0.0:50051"  # gRPC health (optional)
//
// Database (users, roles, notifications):
//
//	database:
//	  path: "/var/lib/presence/gateway.db"
//
// Conversation cache:
//
//	cache:
//	  backend: "memory"   # memory, redis, badger
//	  max_size: 10000     # memory backend only
//	  redis:
//	    addr: "localhost:6379"
//	    password: "${REDIS_PASSWORD}"
//	    db: 0
//	    pool_size: 0      # 0 uses the go-redis default
//	    prefix: "presence:"
//	  badger:
//	    path: ""          # empty runs in memory
//
// Chat and notifications:
//
//	chat:
//	  sort_counterparts: false
//	notifications:
//	  matrix:
//	    enabled: false
//	    homeserver: "https://matrix.org"
//	    user_id: "@presence:matrix.org"
//	    access_token: "${MATRIX_TOKEN}"
//	    room_id: "!support:matrix.org"
//
// Tailscale and logging follow the same shape as the server section:
//
//	tailscale:
//	  enabled: false
//	  hostname: "presence-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() rejects a missing http address (unless tailscale is on), a missing
// database path, a JWT secret shorter than 32 bytes, an unknown cache backend,
// a redis backend without an address, negative durations and an incomplete
// Matrix relay.
package config
