package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps all configuration loading and validation failures.
var ErrConfiguration = errors.New("configuration error")

// LoadConfig loads configuration from the given YAML file (optional),
// KOHARU_* environment variables, and defaults, then validates it.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("KOHARU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, everything can come from env.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to read config file %q: %v", ErrConfiguration, path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	if err := cfg.validateBackends(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// validateBackends checks the cross-field requirements that struct tags
// cannot express: backend selections pull in their own credentials.
func (c *Config) validateBackends() error {
	if c.AI.Provider == "gemini" && c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required when ai.provider is gemini")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required when store.backend is sqlite")
		}
	case "cloudflare":
		if c.Store.AccountID == "" || c.Store.NamespaceID == "" || c.Store.APIToken == "" {
			return fmt.Errorf("store.account_id, store.namespace_id and store.api_token are required when store.backend is cloudflare")
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.timeout", 2*time.Minute)
	v.SetDefault("ai.max_retries", 3)
	v.SetDefault("ai.retry_delay", 2*time.Second)
	v.SetDefault("ai.temperature", 0.8)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "koharu.db")

	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.summary_interval", 5)

	// Credentials default to empty so viper binds their env variables
	// even without a config file; validation rejects missing values.
	v.SetDefault("server.base_url", "")
	v.SetDefault("line.channel_secret", "")
	v.SetDefault("line.channel_token", "")
	v.SetDefault("openai.token", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("store.account_id", "")
	v.SetDefault("store.namespace_id", "")
	v.SetDefault("store.api_token", "")
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.price_id", "")

	v.SetDefault("messages.refusal", "ごめんなさい、その話題についてはお話しできません...😅\n他のことを話しませんか？")
	v.SetDefault("messages.fallback", "ごめんなさい、今ちょっと調子が悪いみたい...😅\nまた話しかけてくれる？")
	v.SetDefault("messages.save_error", "設定の保存でエラーが発生しました...😅 もう一度試してみてね！")
	v.SetDefault("messages.typing", "...")
	v.SetDefault("messages.cancellation", "😢 サブスクリプションがキャンセルされました。\nまたいつでもお話しできることを楽しみにしています💕")
	v.SetDefault("messages.payment_thanks", "💕 お支払いありがとうございます！\n今月もたくさんお話ししましょうね〜✨")
	v.SetDefault("messages.payment_problem", "⚠️ お支払いに問題が発生しました。\nクレジットカード情報をご確認ください。\n\nサポートが必要でしたらお気軽にお声かけくださいね！")
}
