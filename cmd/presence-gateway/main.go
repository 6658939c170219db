// ABOUTME: Entry point for the presence-gateway server
// ABOUTME: Serves the chat and notification hubs and bootstraps users, roles and tokens

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/config"
	"github.com/2389/presence-gateway/internal/gateway"
	"github.com/2389/presence-gateway/internal/store"
)

// version is set at build time.
var version = "dev"

const banner = `
                                                                _
 _ __  _ __ ___  ___  ___ _ __   ___ ___        __ _  __ _| |_ _____      ____ _ _   _
| '_ \| '__/ _ \/ __|/ _ \ '_ \ / __/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | | |  __/\__ \  __/ | | | (_|  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
| .__/|_|  \___||___/\___|_| |_|\___\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
|_|                                            |___/                             |___/
`

// defaultTokenTTL is the lifetime of tokens minted by bootstrap.
const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the gateway config file.
// Priority: PRESENCE_CONFIG env var > XDG_CONFIG_HOME/presence/gateway.yaml > ~/.config/presence/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PRESENCE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "presence", "gateway.yaml")
}

// getDataPath returns the presence data directory.
// Priority: XDG_DATA_HOME/presence > ~/.local/share/presence
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "presence")
}

func printUsage() {
	fmt.Println("Usage: presence-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                Start the gateway server")
	fmt.Println("  bootstrap --id ID [--name N] [--admin] Create a user (and config if missing) and a token")
	fmt.Println("  token --sub ID [--ttl 24h]           Mint a JWT for an existing identity")
	fmt.Println("  health                               Check gateway health")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "token":
		err = runToken(args)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Cache:     %s\n", cfg.Cache.Backend)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Notifications.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s\n", cfg.Notifications.Matrix.RoomID)
	}

	fmt.Println()

	logger.Info("starting presence-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"cache", cfg.Cache.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// bootstrapArgs holds the parsed flags of the bootstrap command.
type bootstrapArgs struct {
	id    string
	name  string
	admin bool
}

// parseBootstrapArgs supports both "--flag value" and "--flag=value".
func parseBootstrapArgs(args []string) (*bootstrapArgs, error) {
	var out bootstrapArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--id" || arg == "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--id requires a value")
			}
			out.id = args[i+1]
			i++
		case strings.HasPrefix(arg, "--id="):
			out.id = strings.TrimPrefix(arg, "--id=")
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--name requires a value")
			}
			out.name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			out.name = strings.TrimPrefix(arg, "--name=")
		case arg == "--admin":
			out.admin = true
		case strings.HasPrefix(arg, "-"):
			return nil, fmt.Errorf("unknown flag: %s", arg)
		default:
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	out.id = strings.TrimSpace(out.id)
	if out.id == "" {
		return nil, fmt.Errorf("--id flag is required")
	}
	if len(out.id) > 256 {
		return nil, fmt.Errorf("id exceeds maximum length of 256 characters")
	}
	out.name = strings.TrimSpace(out.name)
	if out.name == "" {
		out.name = out.id
	}
	return &out, nil
}

// writeDefaultConfig creates a config with a random JWT secret.
func writeDefaultConfig(configPath, dataPath string) error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# presence-gateway configuration
# Generated by presence-gateway bootstrap

server:
  http_addr: "localhost:8080"
  grpc_addr: "localhost:50051"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

cache:
  backend: "memory"

presence:
  sweep_interval: "12h"
  max_idle: "12h"

conversation:
  ttl: "72h"

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "gateway.db"), jwtSecret)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// runBootstrap creates a user, optionally as admin, and saves a token for
// it. The config file is generated first when it does not exist.
func runBootstrap(ctx context.Context, args []string) error {
	opts, err := parseBootstrapArgs(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		if err := writeDefaultConfig(configPath, getDataPath()); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	token, err := bootstrapUser(ctx, s, cfg.Auth.JWTSecret, opts)
	if err != nil {
		return err
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	role := store.RoleMember
	if opts.admin {
		role = store.RoleAdmin
	}

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  User")
	cyan.Println("  ----")
	fmt.Printf("  ID:           %s\n", opts.id)
	fmt.Printf("  Display Name: %s\n", opts.name)
	fmt.Printf("  Role:         %s\n", role)
	fmt.Printf("  Token:        %s (expires %s)\n", tokenPath, time.Now().Add(defaultTokenTTL).Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    presence-gateway serve    # start the gateway")
	fmt.Println("    presence-admin online     # see who is connected")
	fmt.Println()

	return nil
}

// bootstrapUser creates the user if needed, grants its role and returns a
// fresh token. Re-running for an existing user only adds the role.
func bootstrapUser(ctx context.Context, s store.Store, secret string, opts *bootstrapArgs) (string, error) {
	err := s.CreateUser(ctx, &store.User{ID: opts.id, DisplayName: opts.name})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return "", fmt.Errorf("creating user: %w", err)
	}

	role := store.RoleMember
	if opts.admin {
		role = store.RoleAdmin
	}
	if err := s.AddRole(ctx, opts.id, role); err != nil {
		return "", fmt.Errorf("granting %s role: %w", role, err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(opts.id, defaultTokenTTL)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

// runToken mints a token for an identity using the configured secret.
func runToken(args []string) error {
	var sub string
	ttl := 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			sub = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			sub = strings.TrimPrefix(arg, "--sub=")
		case arg == "--ttl" || arg == "-t":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
			i++
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if sub == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(sub, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
