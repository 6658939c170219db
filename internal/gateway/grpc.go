// ABOUTME: gRPC server exposing the standard health service for the gateway
// ABOUTME: Serving status tracks store reachability and flips to NOT_SERVING on shutdown

package gateway

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Health service names reported alongside the overall ("") status.
const (
	HealthServiceChat          = "presence.chat"
	HealthServiceNotifications = "presence.notifications"
)

// healthProbeInterval is how often store reachability is re-checked.
const healthProbeInterval = 15 * time.Second

// pinger is the part of the store the health probe needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// newGRPCServer creates the gRPC server and registers the health service.
func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// setServing sets every reported service to the same status.
func setServing(hs *health.Server, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	for _, svc := range []string{"", HealthServiceChat, HealthServiceNotifications} {
		hs.SetServingStatus(svc, status)
	}
}

// probeHealth pings the store every interval and mirrors the result into
// hs until ctx is cancelled.
func probeHealth(ctx context.Context, hs *health.Server, p pinger, interval time.Duration, logger *slog.Logger) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		err := p.Ping(pingCtx)
		if err != nil && ctx.Err() == nil {
			logger.Warn("store ping failed", "error", err)
		}
		setServing(hs, err == nil)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
