package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the JOI Gateway, covering the
// sections spec.md §6 names: gateway, auth, memory, models, obsidian,
// livekit, telegram, tasks, apns, plus the database/provider/telemetry
// ambient sections needed to run them.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Auth      AuthConfig      `json:"auth"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Providers ProvidersConfig `json:"providers"`
	Memory    MemoryConfig    `json:"memory"`
	Models    ModelsConfig    `json:"models"`
	Obsidian  ObsidianConfig  `json:"obsidian,omitempty"`
	LiveKit   LiveKitConfig   `json:"livekit,omitempty"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Discord   DiscordConfig   `json:"discord,omitempty"`
	Tasks     TasksConfig     `json:"tasks,omitempty"`
	Apns      ApnsConfig      `json:"apns,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig controls the Session Gateway transport and HTTP surface.
type GatewayConfig struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Token             string   `json:"token,omitempty"`
	OwnerIDs          []string `json:"owner_ids,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
	MaxMessageChars   int      `json:"max_message_chars,omitempty"`
	RateLimitRPM      int      `json:"rate_limit_rpm,omitempty"`
	InjectionAction   string   `json:"injection_action,omitempty"` // "log", "warn" (default), "block", "off"
	InboundDebounceMs int      `json:"inbound_debounce_ms,omitempty"`
}

// AuthConfig controls bearer-token auth for the WS/HTTP surface.
type AuthConfig struct {
	Token      string   `json:"token,omitempty"`
	OwnerIDs   []string `json:"owner_ids,omitempty"`
	AllowOpen  bool     `json:"allow_open,omitempty"` // true disables auth entirely — local dev only
}

// DatabaseConfig configures Postgres for the default mode, or the
// embedded SQLite fallback when PostgresDSN is empty.
// PostgresDSN is NEVER read from config.json (secret) — only from env.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	Mode        string `json:"mode,omitempty"` // "postgres" (default) or "standalone"
}

// IsStandalone reports whether the gateway runs against the embedded
// SQLite fallback instead of Postgres.
func (c *Config) IsStandalone() bool {
	return c.Database.Mode == "standalone" || c.Database.PostgresDSN == ""
}

// MemoryConfig configures the area-scoped long-term memory system.
type MemoryConfig struct {
	Enabled           *bool   `json:"enabled,omitempty"` // default true
	EmbeddingProvider string  `json:"embedding_provider,omitempty"`
	EmbeddingModel    string  `json:"embedding_model,omitempty"`
	EmbeddingDim      int     `json:"embedding_dim,omitempty"` // default 768
	MaxResults        int     `json:"max_results,omitempty"`   // default 6
	MinScore          float64 `json:"min_score,omitempty"`     // default 0.35
	ConsolidateEveryH int     `json:"consolidate_every_hours,omitempty"`
}

// IsEnabled reports whether the memory system is on (default true).
func (c *MemoryConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// ModelsConfig configures the default agent model + per-task routing table.
type ModelsConfig struct {
	DefaultProvider string             `json:"default_provider"`
	DefaultModel    string             `json:"default_model"`
	Routes          map[string]string  `json:"routes,omitempty"` // task -> "provider/model"
	MaxTokens       int                `json:"max_tokens,omitempty"`
	Temperature     float64            `json:"temperature,omitempty"`
}

// ObsidianConfig configures the optional Obsidian-vault knowledge bridge.
type ObsidianConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	VaultPath string `json:"vault_path,omitempty"`
}

// LiveKitConfig configures the optional LiveKit voice-mode transport.
type LiveKitConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	URL       string `json:"url,omitempty"`
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
}

// TasksConfig configures the scheduler's default retry/backoff policy.
type TasksConfig struct {
	MaxRetries     int    `json:"max_retries,omitempty"`
	RetryBaseDelay string `json:"retry_base_delay,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
	ClaimTimeoutS  int    `json:"claim_timeout_seconds,omitempty"` // abandoned-claim recovery window
}

// ApnsConfig names the push-notification transport for Review Queue
// alerts. The actual client is a stub (internal/review/apns) — present
// because spec.md §6 names apns as a recognized config section.
type ApnsConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	KeyID       string `json:"key_id,omitempty"`
	BundleID    string `json:"bundle_id,omitempty"`
	PrivateKey  string `json:"-"`
	Sandbox     bool   `json:"sandbox,omitempty"`
}

// TelemetryConfig configures OpenTelemetry span export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Auth = src.Auth
	c.Database = src.Database
	c.Providers = src.Providers
	c.Memory = src.Memory
	c.Models = src.Models
	c.Obsidian = src.Obsidian
	c.LiveKit = src.LiveKit
	c.Telegram = src.Telegram
	c.Discord = src.Discord
	c.Tasks = src.Tasks
	c.Apns = src.Apns
	c.Telemetry = src.Telemetry
}
