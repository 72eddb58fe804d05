package pack

import (
	"encoding/json"
	"fmt"
	"os"

	"knowpack/retrieval"
)

// ConfigFile is the retrieval configuration's filename inside a pack.
const ConfigFile = "kg_config.json"

// Config is the per-pack retrieval configuration shipped as
// kg_config.json: model names plus the retrieval weights and toggles.
type Config struct {
	EmbeddingModel string            `json:"embedding_model"`
	ChatModel      string            `json:"chat_model"`
	EmbeddingDim   int               `json:"embedding_dim"`
	Retrieval      retrieval.Options `json:"retrieval"`
}

// DefaultPackConfig returns the configuration written into freshly
// built packs.
func DefaultPackConfig() *Config {
	return &Config{
		EmbeddingModel: "text-embedding-3-small",
		ChatModel:      "gpt-4o-mini",
		EmbeddingDim:   1536,
		Retrieval:      retrieval.DefaultOptions(),
	}
}

// LoadPackConfig reads a pack's kg_config.json.
func LoadPackConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pack: reading config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("pack: parsing config: %w", err)
	}
	return &cfg, nil
}

// SavePackConfig writes a pack's kg_config.json.
func SavePackConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("pack: encoding config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("pack: writing config: %w", err)
	}
	return nil
}
