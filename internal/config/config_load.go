package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
			InjectionAction: "warn",
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.joi-gateway/joi-gateway.db",
		},
		Memory: MemoryConfig{
			EmbeddingDim: 768,
			MaxResults:   6,
			MinScore:     0.35,
		},
		Models: ModelsConfig{
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-sonnet-4-5-20250929",
			MaxTokens:       8192,
			Temperature:     0.7,
		},
		Tasks: TasksConfig{
			MaxRetries:     3,
			RetryBaseDelay: "2s",
			RetryMaxDelay:  "30s",
			ClaimTimeoutS:  300,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values. The Postgres DSN has no config.json field
// and comes from env only; API keys and tokens may be set in either place.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("JOI_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("JOI_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("JOI_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("JOI_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("JOI_OLLAMA_BASE_URL", &c.Providers.Ollama.APIBase)

	envStr("JOI_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("JOI_AUTH_TOKEN", &c.Auth.Token)
	envStr("JOI_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("JOI_DISCORD_TOKEN", &c.Discord.Token)

	if c.Telegram.Token != "" {
		c.Telegram.Enabled = true
	}
	if c.Discord.Token != "" {
		c.Discord.Enabled = true
	}

	envStr("JOI_DEFAULT_PROVIDER", &c.Models.DefaultProvider)
	envStr("JOI_DEFAULT_MODEL", &c.Models.DefaultModel)

	envStr("JOI_HOST", &c.Gateway.Host)
	if v := os.Getenv("JOI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("JOI_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("JOI_DB_MODE", &c.Database.Mode)
	envStr("JOI_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("JOI_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("JOI_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("JOI_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("JOI_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("JOI_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("JOI_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
		c.Auth.OwnerIDs = c.Gateway.OwnerIDs
	}

	envStr("JOI_APNS_PRIVATE_KEY", &c.Apns.PrivateKey)
	envStr("JOI_LIVEKIT_API_KEY", &c.LiveKit.APIKey)
	envStr("JOI_LIVEKIT_API_SECRET", &c.LiveKit.APISecret)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after modifying config to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
