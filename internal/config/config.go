// Package config loads layered configuration: hardcoded defaults, then the
// user config file, then the project config file, then environment
// variables, each layer overriding the last.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete storyrank configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Provider   ProviderConfig   `yaml:"provider" json:"provider"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	// Backend selects the store: "mongo" (default) or "embedded".
	Backend string `yaml:"backend" json:"backend"`

	// URI is the MongoDB connection string. Never written to config files;
	// set it via STORYRANK_MONGODB_URI or a .env entry.
	URI string `yaml:"-" json:"-"`

	Database    string `yaml:"database" json:"database"`
	Collection  string `yaml:"collection" json:"collection"`
	VectorIndex string `yaml:"vector_index" json:"vector_index"`

	// Path is the embedded backend's index directory (empty = in-memory).
	Path string `yaml:"path" json:"path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "mistral" (default) or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// ProviderConfig configures the external model provider gateway.
type ProviderConfig struct {
	BaseURL         string `yaml:"base_url" json:"base_url"`
	CompletionModel string `yaml:"completion_model" json:"completion_model"`

	// APIKey comes from MISTRAL_API_KEY only; it never lives in YAML.
	APIKey string `yaml:"-" json:"-"`

	// MinInterval is the floor between consecutive provider calls.
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`

	// MaxRetries is the retry budget for rate-limited or failed calls.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// BaseRetryDelay seeds the exponential backoff.
	BaseRetryDelay time.Duration `yaml:"base_retry_delay" json:"base_retry_delay"`
}

// RetrievalConfig configures the hybrid retrieval engine.
type RetrievalConfig struct {
	// SemanticWeight and LexicalWeight must sum to 1.0.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight" json:"lexical_weight"`

	// Depth is the per-leg candidate fetch size.
	Depth int `yaml:"depth" json:"depth"`

	// DefaultLimit is the result count when the caller asks for none.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Log: LogConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Backend:     "mongo",
			Database:    "raguserstories",
			Collection:  "ragstories",
			VectorIndex: "vector_hybridretrieval_index",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "mistral",
			Model:      "mistral-embed",
			Dimensions: 0, // auto-detect from the provider
			CacheSize:  1000,
		},
		Provider: ProviderConfig{
			BaseURL:         "https://api.mistral.ai/v1",
			CompletionModel: "mistral-small-latest",
			MinInterval:     time.Second,
			MaxRetries:      3,
			BaseRetryDelay:  2 * time.Second,
		},
		Retrieval: RetrievalConfig{
			SemanticWeight: 0.7,
			LexicalWeight:  0.3,
			Depth:          20,
			DefaultLimit:   10,
		},
	}
}

// GetUserConfigPath returns the user configuration file path, following the
// XDG Base Directory convention.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "storyrank", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "storyrank", "config.yaml")
	}
	return filepath.Join(home, ".config", "storyrank", "config.yaml")
}

// Load loads configuration for a project directory. Precedence, lowest to
// highest: defaults, user config, project config (.storyrank.yaml), .env
// file, environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	// .env entries become process env vars without clobbering existing ones.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromDir loads .storyrank.yaml or .storyrank.yml if present.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".storyrank.yaml", ".storyrank.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML merges a YAML file over the current values.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.FilePath != "" {
		c.Log.FilePath = other.Log.FilePath
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.Database != "" {
		c.Store.Database = other.Store.Database
	}
	if other.Store.Collection != "" {
		c.Store.Collection = other.Store.Collection
	}
	if other.Store.VectorIndex != "" {
		c.Store.VectorIndex = other.Store.VectorIndex
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Provider.BaseURL != "" {
		c.Provider.BaseURL = other.Provider.BaseURL
	}
	if other.Provider.CompletionModel != "" {
		c.Provider.CompletionModel = other.Provider.CompletionModel
	}
	if other.Provider.MinInterval != 0 {
		c.Provider.MinInterval = other.Provider.MinInterval
	}
	if other.Provider.MaxRetries != 0 {
		c.Provider.MaxRetries = other.Provider.MaxRetries
	}
	if other.Provider.BaseRetryDelay != 0 {
		c.Provider.BaseRetryDelay = other.Provider.BaseRetryDelay
	}

	// Weights merge as a pair so a file can lower one below the default.
	if other.Retrieval.SemanticWeight != 0 || other.Retrieval.LexicalWeight != 0 {
		c.Retrieval.SemanticWeight = other.Retrieval.SemanticWeight
		c.Retrieval.LexicalWeight = other.Retrieval.LexicalWeight
	}
	if other.Retrieval.Depth != 0 {
		c.Retrieval.Depth = other.Retrieval.Depth
	}
	if other.Retrieval.DefaultLimit != 0 {
		c.Retrieval.DefaultLimit = other.Retrieval.DefaultLimit
	}
}

// applyEnvOverrides applies STORYRANK_* (and MISTRAL_API_KEY) overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STORYRANK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STORYRANK_LOG_FILE"); v != "" {
		c.Log.FilePath = v
	}

	if v := os.Getenv("STORYRANK_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("STORYRANK_MONGODB_URI"); v != "" {
		c.Store.URI = v
	} else if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Store.URI = v
	}
	if v := os.Getenv("STORYRANK_MONGODB_DATABASE"); v != "" {
		c.Store.Database = v
	}
	if v := os.Getenv("STORYRANK_MONGODB_COLLECTION"); v != "" {
		c.Store.Collection = v
	}
	if v := os.Getenv("STORYRANK_VECTOR_INDEX"); v != "" {
		c.Store.VectorIndex = v
	}

	if v := os.Getenv("STORYRANK_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("STORYRANK_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}

	if v := os.Getenv("MISTRAL_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("STORYRANK_PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("STORYRANK_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Provider.MinInterval = d
		}
	}
	if v := os.Getenv("STORYRANK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Provider.MaxRetries = n
		}
	}

	// Weight overrides accept explicit zeros, unlike file merging.
	if v := os.Getenv("STORYRANK_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.SemanticWeight = w
		}
	}
	if v := os.Getenv("STORYRANK_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.LexicalWeight = w
		}
	}
	if v := os.Getenv("STORYRANK_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.Depth = n
		}
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Retrieval.SemanticWeight)
	}
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.LexicalWeight > 1 {
		return fmt.Errorf("lexical_weight must be between 0 and 1, got %f", c.Retrieval.LexicalWeight)
	}
	sum := c.Retrieval.SemanticWeight + c.Retrieval.LexicalWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("semantic_weight + lexical_weight must equal 1.0, got %.2f", sum)
	}
	if c.Retrieval.Depth < 0 {
		return fmt.Errorf("depth must be non-negative, got %d", c.Retrieval.Depth)
	}
	if c.Retrieval.DefaultLimit < 0 {
		return fmt.Errorf("default_limit must be non-negative, got %d", c.Retrieval.DefaultLimit)
	}

	validBackends := map[string]bool{"mongo": true, "embedded": true}
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		return fmt.Errorf("store.backend must be 'mongo' or 'embedded', got %s", c.Store.Backend)
	}

	validProviders := map[string]bool{"mistral": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'mistral' or 'static', got %s", c.Embeddings.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	if c.Provider.MinInterval < 0 {
		return fmt.Errorf("provider.min_interval must be non-negative, got %s", c.Provider.MinInterval)
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider.max_retries must be non-negative, got %d", c.Provider.MaxRetries)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file. Secrets carry a
// yaml:"-" tag and never reach disk.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
