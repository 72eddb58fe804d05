package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"knowpack"
)

// loadConfig layers the defaults, an optional config file (JSON or
// YAML), and KNOWPACK_* environment variables, in that order.
func loadConfig() (knowpack.Config, error) {
	cfg := knowpack.DefaultConfig()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.knowpack")
		}
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("KNOWPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so the
	// override surface is bound explicitly.
	for _, key := range []string{
		"db_path", "db_name", "storage_dir", "embedding_dim",
		"few_shot_path", "max_depth", "batch_size", "target_count", "workers",
		"chat.provider", "chat.model", "chat.base_url", "chat.api_key",
		"embedding.provider", "embedding.model", "embedding.base_url", "embedding.api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Config structs carry json tags, not mapstructure ones.
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = providerKeyFromEnv(cfg.Chat.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = providerKeyFromEnv(cfg.Embedding.Provider)
	}

	return cfg, nil
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}
