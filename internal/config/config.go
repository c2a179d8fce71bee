// Package config provides configuration types and loading for communityagent.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Model, Provider, Gateway, Store, Tools, Agent, Analytics, Telegram, Logging.
type Config struct {
	Model     ModelConfig     `json:"model" yaml:"model"`
	Provider  ProviderConfig  `json:"provider" yaml:"provider"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Tools     ToolsConfig     `json:"tools" yaml:"tools"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups chat model settings. Tenants may override Name.
type ModelConfig struct {
	Name        string  `json:"name" yaml:"name" envconfig:"MODEL"`
	MaxTokens   int     `json:"maxTokens" yaml:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" yaml:"temperature" envconfig:"TEMPERATURE"`
}

// ---------------------------------------------------------------------------
// Provider – OpenAI-compatible gateway (OpenRouter, Lovable AI gateway, OpenAI)
// ---------------------------------------------------------------------------

// ProviderConfig contains the model gateway credentials and endpoints.
type ProviderConfig struct {
	APIKey         string `json:"apiKey" yaml:"apiKey" envconfig:"API_KEY"`
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty" envconfig:"API_BASE"`
	EmbeddingModel string `json:"embeddingModel" yaml:"embeddingModel" envconfig:"EMBEDDING_MODEL"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP server networking
// ---------------------------------------------------------------------------

// GatewayConfig contains gateway server settings.
type GatewayConfig struct {
	Host           string `json:"host" yaml:"host" envconfig:"HOST"`
	Port           int    `json:"port" yaml:"port" envconfig:"PORT"`
	TelegramSecret string `json:"telegramSecret" yaml:"telegramSecret" envconfig:"TELEGRAM_SECRET"`
}

// ---------------------------------------------------------------------------
// Store – tenant data persistence
// ---------------------------------------------------------------------------

// StoreConfig selects the SQLite driver and database file.
// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" envconfig:"DRIVER"`
	Path   string `json:"path" yaml:"path" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Tools – tool-specific behaviour
// ---------------------------------------------------------------------------

// ToolsConfig contains tool-specific settings.
type ToolsConfig struct {
	Web    WebToolConfig    `json:"web" yaml:"web"`
	Scrape ScrapeToolConfig `json:"scrape" yaml:"scrape"`
}

// WebToolConfig contains web tool settings.
type WebToolConfig struct {
	Search SearchConfig `json:"search" yaml:"search"`
}

// SearchConfig contains web search settings. Brave is the primary provider;
// DuckDuckGo HTML results are the fallback.
type SearchConfig struct {
	APIKey     string        `json:"apiKey" yaml:"apiKey" envconfig:"BRAVE_API_KEY"`
	BraveURL   string        `json:"braveUrl" yaml:"braveUrl" envconfig:"BRAVE_URL"`
	DDGURL     string        `json:"ddgUrl" yaml:"ddgUrl" envconfig:"DDG_URL"`
	MaxResults int           `json:"maxResults" yaml:"maxResults" envconfig:"MAX_RESULTS"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" envconfig:"TIMEOUT"`
}

// ScrapeToolConfig contains scrape_webpage settings.
type ScrapeToolConfig struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout" envconfig:"TIMEOUT"`
	MaxBytes  int64         `json:"maxBytes" yaml:"maxBytes" envconfig:"MAX_BYTES"`
	UserAgent string        `json:"userAgent" yaml:"userAgent" envconfig:"USER_AGENT"`
}

// ---------------------------------------------------------------------------
// Agent – loop behaviour
// ---------------------------------------------------------------------------

// AgentConfig contains agent loop settings. The iteration cap is fixed at
// agent.MaxIterations.
type AgentConfig struct {
	ParallelTools bool `json:"parallelTools" yaml:"parallelTools" envconfig:"PARALLEL_TOOLS"`
}

// ---------------------------------------------------------------------------
// Analytics – usage record sinks
// ---------------------------------------------------------------------------

// AnalyticsConfig configures where usage records go in addition to the store.
type AnalyticsConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

// KafkaConfig configures the Kafka usage sink.
// SASLMechanism is "", "PLAIN", "SCRAM-SHA-256" or "SCRAM-SHA-512".
type KafkaConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers       string `json:"brokers" yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic         string `json:"topic" yaml:"topic" envconfig:"KAFKA_TOPIC"`
	TLS           bool   `json:"tls" yaml:"tls" envconfig:"KAFKA_TLS"`
	SASLMechanism string `json:"saslMechanism,omitempty" yaml:"saslMechanism,omitempty" envconfig:"KAFKA_SASL_MECHANISM"`
	Username      string `json:"username,omitempty" yaml:"username,omitempty" envconfig:"KAFKA_USERNAME"`
	Password      string `json:"password,omitempty" yaml:"password,omitempty" envconfig:"KAFKA_PASSWORD"`
}

// ---------------------------------------------------------------------------
// Telegram – Bot API
// ---------------------------------------------------------------------------

// TelegramConfig configures the Bot API endpoint. Bot tokens live on the tenant.
type TelegramConfig struct {
	APIBase string `json:"apiBase" yaml:"apiBase" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" envconfig:"LEVEL"`
	Format string `json:"format" yaml:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:        "google/gemini-2.5-flash",
			MaxTokens:   2048,
			Temperature: 0.7,
		},
		Provider: ProviderConfig{
			APIBase:        "https://openrouter.ai/api/v1",
			EmbeddingModel: "text-embedding-3-small",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18790,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.communityagent/communityagent.db",
		},
		Tools: ToolsConfig{
			Web: WebToolConfig{
				Search: SearchConfig{
					BraveURL:   "https://api.search.brave.com/res/v1/web/search",
					DDGURL:     "https://html.duckduckgo.com/html/",
					MaxResults: 5,
					Timeout:    15 * time.Second,
				},
			},
			Scrape: ScrapeToolConfig{
				Timeout:   20 * time.Second,
				MaxBytes:  2 * 1024 * 1024,
				UserAgent: "communityagent/1.0 (+scrape_webpage)",
			},
		},
		Analytics: AnalyticsConfig{
			Kafka: KafkaConfig{
				Enabled: false,
				Brokers: "localhost:9092",
				Topic:   "communityagent.usage",
			},
		},
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
