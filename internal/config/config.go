// Package config loads the gateway's TOML configuration file and applies
// environment-variable overrides, the way internal/config did in the
// teacher repository.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration object (spec §6 "Configuration surface").
type Config struct {
	Port       int    `toml:"port"`
	TrustProxy bool   `toml:"trust_proxy"`

	Protocols ProtocolsConfig `toml:"protocols"`
	Paths     PathsConfig     `toml:"paths"`

	Providers         []ProviderConfig            `toml:"providers"`
	SystemPrompts     map[string]string           `toml:"system_prompts"`
	ModelRestrictions map[string]RestrictionConfig `toml:"model_restrictions"`

	MCP   MCPConfig   `toml:"mcp"`
	OAuth OAuthConfig `toml:"oauth"`
	JWT   JWTConfig   `toml:"jwt"`

	RateLimit RateLimitConfig `toml:"rate_limit"`
	CORS      CORSConfig      `toml:"cors"`

	TokenTracking   TokenTrackingConfig   `toml:"token_tracking"`
	RemoteMCPServers RemoteMCPServersConfig `toml:"remote_mcp_servers"`

	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Database   DatabaseConfig   `toml:"database"`

	DevMode bool `toml:"dev_mode"`
}

type ProtocolsConfig struct {
	Envelope bool `toml:"envelope"`
	Typed    bool `toml:"typed"`
}

type PathsConfig struct {
	RPC     string `toml:"rpc"`
	TRPC    string `toml:"trpc"`
	Health  string `toml:"health"`
	Webhook string `toml:"webhook"`
}

type RestrictionConfig struct {
	AllowedModels   []string `toml:"allowed_models"`
	AllowedPatterns []string `toml:"allowed_patterns"`
	BlockedModels   []string `toml:"blocked_models"`
}

type ProviderConfig struct {
	Name              string            `toml:"name"`
	Type              string            `toml:"type"`
	APIKey            string            `toml:"api_key"`
	BaseURL           string            `toml:"base_url"`
	DefaultModel      string            `toml:"default_model"`
	SystemPrompts     map[string]string `toml:"system_prompts"`
	ModelRestrictions RestrictionConfig `toml:"model_restrictions"`
}

type MCPConfig struct {
	Enabled    bool               `toml:"enabled"`
	Transports MCPTransportConfig `toml:"transports"`
	Auth       MCPAuthConfig      `toml:"auth"`
	AdminUsers []string           `toml:"admin_users"`
}

type MCPTransportConfig struct {
	HTTP  bool `toml:"http"`
	Stdio bool `toml:"stdio"`
	SSE   bool `toml:"sse"`
}

type MCPAuthConfig struct {
	RequireForList bool     `toml:"require_for_list"`
	RequireForCall bool     `toml:"require_for_call"`
	PublicTools    []string `toml:"public_tools"`
}

type OAuthConfig struct {
	Enabled        bool                 `toml:"enabled"`
	ClientID       string               `toml:"client_id"`
	ClientSecret   string               `toml:"client_secret"`
	EncryptionKey  string               `toml:"encryption_key"`
	SessionStorage SessionStorageConfig `toml:"session_storage"`
	BaseURL        string               `toml:"base_url"`
	RedirectURI    string               `toml:"redirect_uri"`
}

type SessionStorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type JWTConfig struct {
	Secret   string `toml:"secret"`
	Issuer   string `toml:"issuer"`
	Audience string `toml:"audience"`
}

type RateLimitConfig struct {
	WindowMS int `toml:"window_ms"`
	Max      int `toml:"max"`
}

type CORSConfig struct {
	Origin      string `toml:"origin"`
	Credentials bool   `toml:"credentials"`
}

type TokenTrackingConfig struct {
	Enabled            bool    `toml:"enabled"`
	PlatformFeePercent float64 `toml:"platform_fee_percent"`
	DatabaseURL        string  `toml:"database_url"`
	WebhookSecret      string  `toml:"webhook_secret"`
	WebhookPath        string  `toml:"webhook_path"`
}

type RemoteMCPServersConfig struct {
	Enabled         bool                  `toml:"enabled"`
	PrefixToolNames bool                  `toml:"prefix_tool_names"`
	Servers         []RemoteMCPServerConfig `toml:"servers"`
}

type RemoteMCPServerConfig struct {
	Name           string   `toml:"name"`
	Transport      string   `toml:"transport"`
	URL            string   `toml:"url"`
	Command        string   `toml:"command"`
	Image          string   `toml:"image"`
	Args           []string `toml:"args"`
	TimeoutMS      int      `toml:"timeout_ms"`
	AutoStart      bool     `toml:"auto_start"`
	StartupRetries int      `toml:"startup_retries"`
	StartupDelayMS int      `toml:"startup_delay_ms"`
}

// DispatcherConfig tunes the concurrency dispatcher (SPEC_FULL §4.N).
type DispatcherConfig struct {
	MinWorkers       int `toml:"min_workers"`
	MaxWorkers       int `toml:"max_workers"`
	QueueSize        int `toml:"queue_size"`
	ScaleUpThreshold int `toml:"scale_up_threshold"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Default returns production-sane defaults, mirroring the teacher's
// config.Default() factory.
func Default() *Config {
	return &Config{
		Port:       8787,
		TrustProxy: false,
		Protocols:  ProtocolsConfig{Envelope: true, Typed: true},
		Paths: PathsConfig{
			RPC:     "/rpc",
			TRPC:    "/trpc",
			Health:  "/health",
			Webhook: "/webhooks",
		},
		MCP: MCPConfig{
			Enabled:    true,
			Transports: MCPTransportConfig{HTTP: true, Stdio: true, SSE: true},
		},
		RateLimit: RateLimitConfig{WindowMS: 60_000, Max: 120},
		CORS:      CORSConfig{Origin: "*", Credentials: false},
		TokenTracking: TokenTrackingConfig{
			PlatformFeePercent: 10,
			WebhookPath:        "/webhooks",
		},
		Dispatcher: DispatcherConfig{
			MinWorkers:       4,
			MaxWorkers:       64,
			QueueSize:        1024,
			ScaleUpThreshold: 8,
		},
		Database: DatabaseConfig{Driver: "memory"},
	}
}

// Load reads and decodes a TOML file, then applies env-var substitution
// the same two-pass way the teacher does: ${VAR} expansion on allow-listed
// string fields, followed by direct GATEWAY_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if os.IsNotExist(err) {
				substituteEnvVars(cfg)
				applyDirectEnvOverrides(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	substituteEnvVars(cfg)
	applyDirectEnvOverrides(cfg)
	return cfg, nil
}

func substituteEnvVars(cfg *Config) {
	cfg.OAuth.ClientSecret = os.ExpandEnv(cfg.OAuth.ClientSecret)
	cfg.OAuth.EncryptionKey = os.ExpandEnv(cfg.OAuth.EncryptionKey)
	cfg.JWT.Secret = os.ExpandEnv(cfg.JWT.Secret)
	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)
	cfg.TokenTracking.WebhookSecret = os.ExpandEnv(cfg.TokenTracking.WebhookSecret)
	cfg.TokenTracking.DatabaseURL = os.ExpandEnv(cfg.TokenTracking.DatabaseURL)
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
	}
}

func applyDirectEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("GATEWAY_DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
		cfg.Database.Driver = "postgres"
	}
	if v := os.Getenv("GATEWAY_ENCRYPTION_KEY"); v != "" {
		cfg.OAuth.EncryptionKey = v
	}
	if v := os.Getenv("GATEWAY_WEBHOOK_SECRET"); v != "" {
		cfg.TokenTracking.WebhookSecret = v
	}
	if v := os.Getenv("GATEWAY_DEV_MODE"); v != "" {
		cfg.DevMode = strings.EqualFold(v, "true") || v == "1"
	}
}

// ScaleDownThreshold is a derived value for the dispatcher's auto-scaler
// (not a config field: always a quarter of ScaleUpThreshold).
func (c DispatcherConfig) ScaleDownThreshold() int {
	if c.ScaleUpThreshold <= 1 {
		return 0
	}
	return c.ScaleUpThreshold / 4
}

// RequestTimeout is the default per-request deadline used when a caller's
// context carries none (spec §5 "every blocking step has a deadline").
const RequestTimeout = 60 * time.Second
