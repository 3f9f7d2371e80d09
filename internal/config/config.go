// Package config provides configuration loading and structs for the retrieval pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Index backends understood by the vector package.
const (
	BackendFlat  = "flat"
	BackendFAISS = "faiss"
)

// Similarity metrics understood by the vector package.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
)

// Config holds all configuration for a build or retrieval run.
// The seven core options use the exact key names of the pipeline contract.
type Config struct {
	Debug bool `yaml:"debug"`

	DocumentsDirectory string `yaml:"documents_directory"`
	IndexDirectory     string `yaml:"index_directory"`
	IndexName          string `yaml:"index_name"`
	EmbeddingModelName string `yaml:"embedding_model_name"`
	ChunkSize          int    `yaml:"chunk_size"`
	ChunkOverlap       int    `yaml:"chunk_overlap"`
	DefaultK           int    `yaml:"default_k"`

	IndexBackend        string `yaml:"index_backend"`
	IndexMetric         string `yaml:"index_metric"`
	Dedup               bool   `yaml:"dedup"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`

	ONNX   ONNXConfig   `yaml:"onnx"`
	OpenAI OpenAIConfig `yaml:"openai"`
}

// ONNXConfig holds ONNX embedder settings.
type ONNXConfig struct {
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
	CacheSize int    `yaml:"cache_size"`
}

// OpenAIConfig holds settings for the OpenAI embeddings API.
type OpenAIConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	BatchSize int    `yaml:"batch_size"`
}

// Load reads and parses the config file at path, loads a sibling .env file if present,
// applies defaults, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	cfg.DocumentsDirectory = expandPath(cfg.DocumentsDirectory, configDir)
	cfg.IndexDirectory = expandPath(cfg.IndexDirectory, configDir)
	if cfg.ONNX.ModelPath != "" {
		cfg.ONNX.ModelPath = expandPath(cfg.ONNX.ModelPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks option ranges that defaults cannot repair.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d (chunk_size %d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.DefaultK < 1 {
		return fmt.Errorf("default_k must be at least 1, got %d", c.DefaultK)
	}
	if c.IndexName == "" || strings.ContainsAny(c.IndexName, `/\`) {
		return fmt.Errorf("index_name %q must be a plain file name", c.IndexName)
	}
	switch c.IndexBackend {
	case BackendFlat, BackendFAISS:
	default:
		return fmt.Errorf("unknown index_backend %q (supported: flat, faiss)", c.IndexBackend)
	}
	switch c.IndexMetric {
	case MetricCosine, MetricL2:
	default:
		return fmt.Errorf("unknown index_metric %q (supported: cosine, l2)", c.IndexMetric)
	}
	if c.EmbeddingDimensions < 0 {
		return fmt.Errorf("embedding_dimensions must not be negative, got %d", c.EmbeddingDimensions)
	}
	return nil
}

// loadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are kept. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
