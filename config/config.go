// Package config manages the live retrieval configuration for ragcore. It
// handles configuration loading, validation, and persistence with support for
// multiple sources:
//   - Configuration files (JSON)
//   - Environment variables
//   - Programmatic defaults and named presets (fast/balanced/accurate)
//
// The package implements a hierarchical configuration system where settings
// can be overridden in the following order (highest to lowest precedence):
//  1. Environment variables
//  2. Configuration file
//  3. Default values
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// SchemaVersion is the current persisted config schema version. A stored
// config whose version does not match is discarded; LoadConfig then returns
// defaults rather than attempting a partial migration.
const SchemaVersion = 1

// ChunkingConfig selects the chunker strategy and its window parameters.
type ChunkingConfig struct {
	Strategy       string `json:"strategy" validate:"required"`
	ChunkSize      int    `json:"chunkSize" validate:"min=100,max=1000"`
	OverlapPercent int    `json:"overlapPercent" validate:"min=0,max=30"`
}

// EmbeddingConfig selects the embedder strategy and its credentials.
type EmbeddingConfig struct {
	Strategy string `json:"strategy" validate:"required"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey,omitempty"`
}

// RetrievalConfig selects the retriever strategy and its tunables.
type RetrievalConfig struct {
	Strategy string  `json:"strategy" validate:"required,oneof=lexical semantic hybrid"`
	TopK     int     `json:"topK" validate:"min=1,max=30"`
	Alpha    float64 `json:"alpha" validate:"min=0,max=1"`
}

// GenerationConfig selects the generator strategy used in chat mode.
type GenerationConfig struct {
	Strategy string `json:"strategy" validate:"required"`
	Model    string `json:"model,omitempty"`
}

// RAGConfig holds the five named strategy selections the orchestrator (C8)
// validates against their registries before running a pipeline.
type RAGConfig struct {
	Chunking    ChunkingConfig    `json:"chunking" validate:"required"`
	Embedding   EmbeddingConfig   `json:"embedding" validate:"required"`
	Retrieval   RetrievalConfig   `json:"retrieval" validate:"required"`
	Generation  GenerationConfig  `json:"generation" validate:"required"`
	PostProcess []string          `json:"postProcess,omitempty"`
}

// Config holds all configuration for the ragcore engine: the live RAGConfig
// plus ambient settings shared by every component.
type Config struct {
	SchemaVersion int       `json:"schemaVersion"`
	RAG           RAGConfig `json:"rag" validate:"required"`

	// Ambient settings.
	StorePath    string            `json:"storePath"`
	SamplesDir   string            `json:"samplesDir,omitempty"`
	LogLevel     string            `json:"logLevel"`
	Timeout      time.Duration     `json:"timeout"`
	MaxRetries   int               `json:"maxRetries"`
	ExtraHeaders map[string]string `json:"extraHeaders"`
}

var validate = validator.New()

// Validate checks struct tags on Config and returns a single combined error
// describing every violated field, or nil.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Default returns production-ready defaults: a hybrid retriever at α=0.5,
// a 400-char/12%-overlap chunker, and polish disabled.
func Default() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		RAG: RAGConfig{
			Chunking:  ChunkingConfig{Strategy: "sliding-window", ChunkSize: 400, OverlapPercent: 12},
			Embedding: EmbeddingConfig{Strategy: "openai", Model: "text-embedding-3-small"},
			Retrieval: RetrievalConfig{Strategy: "hybrid", TopK: 10, Alpha: 0.5},
			Generation: GenerationConfig{
				Strategy: "extractive",
			},
		},
		StorePath:  "ragcore.db",
		LogLevel:   "info",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		ExtraHeaders: make(map[string]string),
	}
}

// Preset names recognized by Named.
const (
	PresetFast     = "fast"
	PresetBalanced = "balanced"
	PresetAccurate = "accurate"
)

// Named returns one of the three built-in presets from spec §4.11. It panics
// on an unknown name since preset ids are a programmer-supplied constant,
// never user input.
func Named(preset string) *Config {
	cfg := Default()
	switch preset {
	case PresetFast:
		cfg.RAG.Chunking = ChunkingConfig{Strategy: "sliding-window", ChunkSize: 500, OverlapPercent: 10}
		cfg.RAG.Retrieval = RetrievalConfig{Strategy: "lexical", TopK: 5}
		cfg.RAG.PostProcess = nil
	case PresetBalanced:
		cfg.RAG.Chunking = ChunkingConfig{Strategy: "sliding-window", ChunkSize: 400, OverlapPercent: 12}
		cfg.RAG.Retrieval = RetrievalConfig{Strategy: "hybrid", TopK: 10, Alpha: 0.5}
		cfg.RAG.PostProcess = []string{"polish"}
	case PresetAccurate:
		cfg.RAG.Chunking = ChunkingConfig{Strategy: "sliding-window", ChunkSize: 300, OverlapPercent: 15}
		cfg.RAG.Retrieval = RetrievalConfig{Strategy: "hybrid", TopK: 15, Alpha: 0.7}
		cfg.RAG.PostProcess = []string{"polish"}
	default:
		panic(fmt.Sprintf("config: unknown preset %q", preset))
	}
	return cfg
}

// LoadConfig loads configuration from multiple sources, combining them
// according to the precedence rules. It automatically searches for
// configuration files in standard locations, loads a local .env for
// credentials, and applies environment variable overrides.
//
// Configuration file search paths:
//  1. $RAGCORE_CONFIG environment variable
//  2. ~/.ragcore/config.json
//  3. ~/.config/ragcore/config.json
//  4. ./ragcore.json
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := Default()

	configFile := os.Getenv("RAGCORE_CONFIG")
	if configFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidates := []string{
				filepath.Join(home, ".ragcore", "config.json"),
				filepath.Join(home, ".config", "ragcore", "config.json"),
				"ragcore.json",
			}
			for _, candidate := range candidates {
				if _, err := os.Stat(candidate); err == nil {
					configFile = candidate
					break
				}
			}
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var stored Config
			if err := json.Unmarshal(data, &stored); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
			}
			if stored.SchemaVersion == SchemaVersion {
				cfg = &stored
			}
			// schema mismatch: fall through with defaults, per §4.11.
		}
	}

	if v := os.Getenv("RAGCORE_EMBEDDING_STRATEGY"); v != "" {
		cfg.RAG.Embedding.Strategy = v
	}
	if v := os.Getenv("RAGCORE_EMBEDDING_MODEL"); v != "" {
		cfg.RAG.Embedding.Model = v
	}
	if v := os.Getenv("RAGCORE_RETRIEVAL_STRATEGY"); v != "" {
		cfg.RAG.Retrieval.Strategy = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.RAG.Embedding.APIKey = v
	}
	if v := os.Getenv("RAGCORE_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}

	return cfg, nil
}

// Save persists the configuration to a JSON file at the specified path,
// stamping SchemaVersion so a future LoadConfig can detect incompatibility.
func (c *Config) Save(path string) error {
	c.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Export serializes cfg to JSON for the import/export roundtrip law of
// spec §8: import(export(cfg)) == cfg.
func (c *Config) Export() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Import parses data produced by Export into a fresh Config.
func Import(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: import: %w", err)
	}
	return &cfg, nil
}
