// Package config loads platform configuration from the environment with
// an optional YAML file override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names the runtime context. Security decisions (stack
// traces, dangerous-pattern override) key off this value, never off a
// request flag.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds redis settings for durable usage counters. An empty
// address selects the in-memory counter store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AppsConfig holds the feature flags governing app code.
type AppsConfig struct {
	// ManifestRouting mounts app-declared routes when true.
	ManifestRouting bool `yaml:"manifest_routing"`
	// OutboundEnabled allows outbound network RPCs from app handlers.
	OutboundEnabled bool `yaml:"outbound_enabled"`
	// OutboundPerMinute caps outbound RPCs per user per minute. Zero
	// blocks outbound entirely even when OutboundEnabled is true.
	OutboundPerMinute int64 `yaml:"outbound_per_minute"`
	// AllowDangerous requests suppression of static-inspection errors.
	// Honored only in the development environment.
	AllowDangerous bool `yaml:"allow_dangerous"`
	// AllowedImports lists the platform modules app scripts may import.
	AllowedImports []string `yaml:"allowed_imports"`
	// ExternalNetwork reports whether this node may reach remote
	// providers (AI backends, outbound fetch targets).
	ExternalNetwork bool `yaml:"external_network"`
	// SandboxTimeout bounds a single handler invocation.
	SandboxTimeout time.Duration `yaml:"sandbox_timeout"`
	// SupportedSchemaVersion is the app-schema version this build speaks.
	SupportedSchemaVersion string `yaml:"supported_schema_version"`
	// CoreVersion is stamped onto revisions at apply time.
	CoreVersion string `yaml:"core_version"`
}

// AuthConfig holds credential settings.
type AuthConfig struct {
	// BridgeSecrets is the comma-separated rotating secret list for the
	// RPC bridge. Any listed value authenticates, so rotation is
	// old+new for a window, then old is dropped.
	BridgeSecrets string `yaml:"bridge_secrets"`
	// AdminTokens is the comma-separated token list for the admin API.
	AdminTokens string `yaml:"admin_tokens"`
	// UserJWTSecret signs end-user tokens for auth-flagged app routes.
	UserJWTSecret string `yaml:"user_jwt_secret"`
}

// BridgeSecretList returns the active bridge secrets.
func (a AuthConfig) BridgeSecretList() []string { return splitList(a.BridgeSecrets) }

// AdminTokenList returns the active admin tokens.
func (a AuthConfig) AdminTokenList() []string { return splitList(a.AdminTokens) }

// Config is the root configuration.
type Config struct {
	Environment Environment    `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Logging     LoggingConfig  `yaml:"logging"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Apps        AppsConfig     `yaml:"apps"`
	Auth        AuthConfig     `yaml:"auth"`
}

// IsDevelopment reports whether the runtime is confirmed development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Environment: EnvProduction,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Apps: AppsConfig{
			ManifestRouting:        true,
			OutboundEnabled:        false,
			OutboundPerMinute:      60,
			AllowedImports:         []string{"platform/api", "platform/ui", "platform/federation", "platform/forms"},
			ExternalNetwork:        true,
			SandboxTimeout:         5 * time.Second,
			SupportedSchemaVersion: "1.0.0",
			CoreVersion:            "1.0.0",
		},
	}
}

// Load builds configuration from defaults, an optional YAML file named
// by PLATFORM_CONFIG, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PLATFORM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Environment != EnvDevelopment && cfg.Environment != EnvProduction {
		return nil, fmt.Errorf("unknown environment %q", cfg.Environment)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PLATFORM_ENV"); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("SERVER_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v, ok := envInt("REDIS_DB"); ok {
		cfg.Redis.DB = v
	}
	if v, ok := envBool("APPS_MANIFEST_ROUTING"); ok {
		cfg.Apps.ManifestRouting = v
	}
	if v, ok := envBool("APPS_OUTBOUND_ENABLED"); ok {
		cfg.Apps.OutboundEnabled = v
	}
	if v, ok := envInt("APPS_OUTBOUND_PER_MINUTE"); ok {
		cfg.Apps.OutboundPerMinute = int64(v)
	}
	if v, ok := envBool("APPS_ALLOW_DANGEROUS"); ok {
		cfg.Apps.AllowDangerous = v
	}
	if v := os.Getenv("APPS_ALLOWED_IMPORTS"); v != "" {
		cfg.Apps.AllowedImports = splitList(v)
	}
	if v, ok := envBool("APPS_EXTERNAL_NETWORK"); ok {
		cfg.Apps.ExternalNetwork = v
	}
	if v := os.Getenv("APPS_SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Apps.SandboxTimeout = d
		}
	}
	if v := os.Getenv("APPS_SCHEMA_VERSION"); v != "" {
		cfg.Apps.SupportedSchemaVersion = v
	}
	if v := os.Getenv("APPS_CORE_VERSION"); v != "" {
		cfg.Apps.CoreVersion = v
	}
	if v := os.Getenv("BRIDGE_SECRETS"); v != "" {
		cfg.Auth.BridgeSecrets = v
	}
	if v := os.Getenv("ADMIN_TOKENS"); v != "" {
		cfg.Auth.AdminTokens = v
	}
	if v := os.Getenv("USER_JWT_SECRET"); v != "" {
		cfg.Auth.UserJWTSecret = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
