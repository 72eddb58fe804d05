package knowpack

import (
	"os"
	"path/filepath"

	"knowpack/retrieval"
)

// Config holds all configuration for a knowpack agent.
type Config struct {
	// DBPath is the full path to the graph database. If empty, defaults
	// to ~/.knowpack/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "knowpack".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. "home" (default) uses ~/.knowpack/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// ReadOnly opens the database without write access; installed packs
	// are queried this way.
	ReadOnly bool `json:"read_only" yaml:"read_only"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Embedding dimensions (must match the embedding model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Retrieval toggles and weights
	Retrieval retrieval.Options `json:"retrieval" yaml:"retrieval"`

	// FewShotPath points at a line-delimited question/answer exemplar
	// file; empty disables few-shot prompting.
	FewShotPath string `json:"few_shot_path" yaml:"few_shot_path"`

	// Expansion
	MaxDepth    int `json:"max_depth" yaml:"max_depth"`
	BatchSize   int `json:"batch_size" yaml:"batch_size"`
	TargetCount int `json:"target_count" yaml:"target_count"`
	Workers     int `json:"workers" yaml:"workers"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, groq, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. The database lives in ~/.knowpack/knowpack.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "knowpack",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim: 768,
		Retrieval:    retrieval.DefaultOptions(),
		MaxDepth:     2,
		BatchSize:    10,
		TargetCount:  100,
		Workers:      1,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "knowpack"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".knowpack", name+".db")
	}
}
