package config

// ProvidersConfig maps provider name to its config, consumed by
// internal/providers to construct wire clients and by internal/router
// to resolve task -> (provider, model).
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Ollama     ProviderConfig `json:"ollama"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key
// configured (Ollama is typically keyless, so a configured base URL
// also counts).
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != "" ||
		p.OpenRouter.APIKey != "" || p.Ollama.APIBase != ""
}

// TelegramConfig configures the Telegram ingress adapter
// (internal/ingress/telegram) — decode only, no bot-gateway lifecycle.
type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"` // "pairing" (default), "allowlist", "open", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"`
	HistoryLimit   int                 `json:"history_limit,omitempty"`
}

// DiscordConfig configures the Discord ingress adapter
// (internal/ingress/discord) — decode only.
type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
}
