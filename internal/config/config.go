// Package config loads and validates application configuration from
// config.yaml, KOHARU_* environment variables, and built-in defaults.
package config

import (
	"time"
)

// Config holds all configuration for the application components.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Line      LineConfig      `mapstructure:"line"`
	AI        AIConfig        `mapstructure:"ai"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Store     StoreConfig     `mapstructure:"store"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig holds HTTP server settings. BaseURL is the externally
// reachable URL used to build Stripe success/cancel redirects.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"     validate:"required"`
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=1m"`
}

// LineConfig holds LINE Messaging API credentials.
type LineConfig struct {
	ChannelSecret string `mapstructure:"channel_secret" validate:"required"`
	ChannelToken  string `mapstructure:"channel_token"  validate:"required"`
}

// AIConfig selects the generation backend and its tuning knobs.
// Moderation always uses the OpenAI moderations endpoint regardless of provider.
type AIConfig struct {
	Provider    string        `mapstructure:"provider" validate:"oneof=openai gemini"`
	Timeout     time.Duration `mapstructure:"timeout"  validate:"min=1s,max=10m"`
	// MaxRetries is the total attempt count; zero would mean retrying
	// until the timeout, so the floor is one.
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=1,max=10"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"min=100ms,max=1m"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
}

// OpenAIConfig holds OpenAI API settings. The token is always required
// because content moderation goes through the moderations endpoint.
type OpenAIConfig struct {
	Token   string `mapstructure:"token"    validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"url"`
	Model   string `mapstructure:"model"    validate:"required"`
}

// GeminiConfig holds Gemini API settings, used when ai.provider is "gemini".
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// StoreConfig selects the key-value store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=sqlite cloudflare"`

	// sqlite backend
	Path string `mapstructure:"path"`

	// cloudflare backend
	AccountID   string `mapstructure:"account_id"`
	NamespaceID string `mapstructure:"namespace_id"`
	APIToken    string `mapstructure:"api_token"`
}

// StripeConfig holds Stripe credentials and the subscription price.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"     validate:"required"`
	WebhookSecret string `mapstructure:"webhook_secret" validate:"required"`
	PriceID       string `mapstructure:"price_id"       validate:"required"`
}

// ChatConfig holds conversation policy knobs.
type ChatConfig struct {
	HistoryLimit    int `mapstructure:"history_limit"    validate:"min=1,max=100"`
	SummaryInterval int `mapstructure:"summary_interval" validate:"min=1,max=100"`
}

// MessagesConfig carries the fixed user-facing reply texts.
type MessagesConfig struct {
	Refusal        string `mapstructure:"refusal"         validate:"required"`
	Fallback       string `mapstructure:"fallback"        validate:"required"`
	SaveError      string `mapstructure:"save_error"      validate:"required"`
	Typing         string `mapstructure:"typing"          validate:"required"`
	Cancellation   string `mapstructure:"cancellation"    validate:"required"`
	PaymentThanks  string `mapstructure:"payment_thanks"  validate:"required"`
	PaymentProblem string `mapstructure:"payment_problem" validate:"required"`
}

// TaskConfig configures one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}
