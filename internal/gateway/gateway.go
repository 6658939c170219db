// ABOUTME: Gateway orchestrator that wires presence, chat and notifications into servers
// ABOUTME: Manages HTTP, gRPC health, tailscale listeners, the sweeper and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/cache"
	"github.com/2389/presence-gateway/internal/chat"
	"github.com/2389/presence-gateway/internal/config"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/hub"
	"github.com/2389/presence-gateway/internal/notify"
	"github.com/2389/presence-gateway/internal/presence"
	"github.com/2389/presence-gateway/internal/store"
	"github.com/2389/presence-gateway/internal/transport/ws"
)

// Domain names for the two registries and hubs.
const (
	domainChat          = "chat"
	domainNotifications = "notifications"
)

// Gateway orchestrates the presence-gateway server components.
// It owns the durable store, the conversation cache, one registry and hub
// per channel domain, and the HTTP and gRPC servers in front of them.
type Gateway struct {
	config *config.Config
	store  store.Store
	cache  cache.Cache
	logger *slog.Logger

	chatRegistry   *presence.Registry
	notifyRegistry *presence.Registry
	chatHub        *hub.Hub
	notifyHub      *hub.Hub
	chatGateway    *chat.SessionGateway
	notifyGateway  *chat.SessionGateway
	router         *chat.Router
	notifications  *notify.Service
	sweeper        *presence.Sweeper
	resolver       *auth.Resolver

	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// background stops the sweeper and health probe.
	background context.CancelFunc
	wg         sync.WaitGroup
}

// initStore opens the SQLite store. PRESENCE_DB_PATH overrides the config.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PRESENCE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initCache opens the configured conversation cache backend.
func initCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		c, err := cache.DialRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cache: %w", err)
		}
		return c, nil
	case config.CacheBadger:
		c, err := cache.OpenBadger(cfg.Badger.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing badger cache: %w", err)
		}
		return c, nil
	case config.CacheMemory, "":
		return cache.NewMemory(cfg.MaxSize, 0, logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// initRelay builds the Matrix relay when enabled. A nil Relay disables
// off-channel forwarding.
func initRelay(cfg config.MatrixConfig, logger *slog.Logger) (notify.Relay, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	relay, err := notify.NewMatrixRelay(notify.MatrixConfig{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.UserID,
		AccessToken: cfg.AccessToken,
		RoomID:      cfg.RoomID,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing matrix relay: %w", err)
	}
	return relay, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	c, err := initCache(context.Background(), cfg.Cache, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	relay, err := initRelay(cfg.Notifications.Matrix, logger)
	if err != nil {
		_ = c.Close()
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:         cfg,
		store:          s,
		cache:          c,
		logger:         logger.With("component", "gateway"),
		chatRegistry:   presence.NewRegistry(domainChat),
		notifyRegistry: presence.NewRegistry(domainNotifications),
		chatHub:        hub.New(domainChat, logger),
		notifyHub:      hub.New(domainNotifications, logger),
		resolver:       auth.NewResolver(verifier, s),
	}

	gw.notifications = notify.NewService(s, s, gw.notifyRegistry, gw.notifyHub, relay, logger)
	gw.chatGateway = chat.NewSessionGateway(gw.chatRegistry, gw.chatHub, s, false, logger)
	gw.notifyGateway = chat.NewSessionGateway(gw.notifyRegistry, gw.notifyHub, s, true, logger)

	conversations := conversation.NewStore(c, cfg.Conversation.TTL, logger)
	gw.router = chat.NewRouter(conversations, gw.chatRegistry, gw.chatHub, s, gw.notifications, logger)
	gw.router.SortCounterparts = cfg.Chat.SortCounterparts

	gw.sweeper = presence.NewSweeper(cfg.Presence.SweepInterval, cfg.Presence.MaxIdle, logger,
		gw.chatRegistry, gw.notifyRegistry)

	gw.grpcServer, gw.health = newGRPCServer()

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux: hubs and API behind auth, health open.
func (g *Gateway) routes() http.Handler {
	optional := auth.OptionalAuthMiddleware(g.resolver, g.logger)
	required := auth.HTTPAuthMiddleware(g.resolver, g.logger)
	admin := auth.RequireAdminHTTP()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.Handle(ws.ChatPath, optional(ws.NewChatEndpoint(g.chatGateway, g.router, g.logger)))
	mux.Handle(ws.NotificationsPath, optional(ws.NewNotificationEndpoint(g.notifyGateway, g.notifications, g.logger)))

	mux.Handle("GET /api/presence", required(admin(http.HandlerFunc(g.handlePresence))))
	mux.Handle("GET /api/conversations", required(http.HandlerFunc(g.handleCounterparts)))
	mux.Handle("GET /api/conversations/{other}/messages", required(http.HandlerFunc(g.handleHistory)))
	mux.Handle("POST /api/conversations/{other}/read", required(http.HandlerFunc(g.handleMarkConversationRead)))
	mux.Handle("GET /api/notifications", required(http.HandlerFunc(g.handleListNotifications)))
	mux.Handle("POST /api/notifications/{id}/read", required(http.HandlerFunc(g.handleMarkNotificationRead)))
	mux.Handle("DELETE /api/notifications/{id}", required(http.HandlerFunc(g.handleDeleteNotification)))
	mux.Handle("POST /api/notifications/broadcast", required(admin(http.HandlerFunc(g.handleBroadcast))))

	return mux
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners. The gRPC listener is nil
// when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" || g.config.Server.GRPCAddr != "" {
			g.logger.Warn("server addresses are ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
				"grpc_addr", g.config.Server.GRPCAddr,
			)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning an error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startBackground runs the sweeper and the health probe until Shutdown.
func (g *Gateway) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	g.background = cancel

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.sweeper.Run(ctx)
	}()
	go func() {
		defer g.wg.Done()
		probeHealth(ctx, g.health, g.store, healthProbeInterval, g.logger)
	}()
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	g.startBackground()
	errCh := g.startServers(grpcLn, httpLn)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "presence-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		httpLn, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Open channels are closed with a going-away frame when the hubs close.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.health.Shutdown()
	if g.background != nil {
		g.background()
		g.wg.Wait()
	}

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// hubs are closed first to end their writers.
	g.chatHub.Close()
	g.notifyHub.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "cache close", g.cache.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers and an admin exists.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if _, err := g.store.FindAdminIdentity(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no admin configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d chat, %d notification identities online)",
		len(g.chatRegistry.OnlineIdentities()), len(g.notifyRegistry.OnlineIdentities()))
}
