// ABOUTME: Configuration loading and parsing for presence-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Cache backends accepted in cache.backend.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheBadger = "badger"
)

// Defaults applied when a duration is left unset.
const (
	DefaultSweepInterval   = 12 * time.Hour
	DefaultMaxIdle         = 12 * time.Hour
	DefaultConversationTTL = 72 * time.Hour
)

// minSecretLength mirrors auth.MinSecretLength without importing it.
const minSecretLength = 32

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config represents the complete presence-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Cache         CacheConfig         `yaml:"cache" toml:"cache"`
	Presence      PresenceConfig      `yaml:"presence" toml:"presence"`
	Conversation  ConversationConfig  `yaml:"conversation" toml:"conversation"`
	Chat          ChatConfig          `yaml:"chat" toml:"chat"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listen addresses. GRPCAddr is optional and only
// serves the health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// CacheConfig selects the conversation cache backend.
type CacheConfig struct {
	Backend string       `yaml:"backend" toml:"backend"`
	MaxSize int          `yaml:"max_size" toml:"max_size"`
	Redis   RedisConfig  `yaml:"redis" toml:"redis"`
	Badger  BadgerConfig `yaml:"badger" toml:"badger"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	PoolSize int    `yaml:"pool_size" toml:"pool_size"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// BadgerConfig holds the Badger data directory. Empty runs in memory.
type BadgerConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PresenceConfig holds registry sweep timing
type PresenceConfig struct {
	SweepInterval time.Duration `yaml:"-" toml:"-"`
	MaxIdle       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
	MaxIdleRaw       string `yaml:"max_idle" toml:"max_idle"`
}

// ConversationConfig holds conversation log retention
type ConversationConfig struct {
	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// ChatConfig holds chat routing options
type ChatConfig struct {
	SortCounterparts bool `yaml:"sort_counterparts" toml:"sort_counterparts"`
}

// NotificationsConfig holds off-channel notification relays
type NotificationsConfig struct {
	Matrix MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// MatrixConfig holds Matrix relay configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "presence:"
	}
	if c.Presence.SweepInterval == 0 {
		c.Presence.SweepInterval = DefaultSweepInterval
	}
	if c.Presence.MaxIdle == 0 {
		c.Presence.MaxIdle = DefaultMaxIdle
	}
	if c.Conversation.TTL == 0 {
		c.Conversation.TTL = DefaultConversationTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheBadger:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
		if c.Cache.Redis.PoolSize < 0 {
			return fmt.Errorf("cache.redis.pool_size must not be negative")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, redis, badger", c.Cache.Backend)
	}

	if c.Presence.SweepInterval < 0 || c.Presence.MaxIdle < 0 || c.Conversation.TTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	if m := c.Notifications.Matrix; m.Enabled {
		if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" || m.RoomID == "" {
			return fmt.Errorf("notifications.matrix needs homeserver, user_id, access_token and room_id when enabled")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"presence.sweep_interval", cfg.Presence.SweepIntervalRaw, &cfg.Presence.SweepInterval},
		{"presence.max_idle", cfg.Presence.MaxIdleRaw, &cfg.Presence.MaxIdle},
		{"conversation.ttl", cfg.Conversation.TTLRaw, &cfg.Conversation.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
