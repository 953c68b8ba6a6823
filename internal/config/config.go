// Package config loads and persists engine configuration from the
// project-local .skb directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"skb/internal/skberr"
)

// Dir is the project-local hidden directory holding all engine state.
const Dir = ".skb"

// Config represents the complete engine configuration
type Config struct {
	Version    int    `json:"version" mapstructure:"version"`
	ProjectKey string `json:"projectKey" mapstructure:"projectKey"`
	RepoRoot   string `json:"repoRoot" mapstructure:"repoRoot"`

	Sources   SourcesConfig   `json:"sources" mapstructure:"sources"`
	Llm       LlmConfig       `json:"llm" mapstructure:"llm"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Rerank    RerankConfig    `json:"rerank" mapstructure:"rerank"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Guard     GuardConfig     `json:"guard" mapstructure:"guard"`
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// SourcesConfig controls which files the pipeline considers eligible
type SourcesConfig struct {
	Extensions   []string `json:"extensions" mapstructure:"extensions"`
	Excludes     []string `json:"excludes" mapstructure:"excludes"`
	IncludeTests bool     `json:"includeTests" mapstructure:"includeTests"`
}

// EndpointConfig describes one LLM endpoint in the pool
type EndpointConfig struct {
	Name      string `json:"name" mapstructure:"name" toml:"name"`
	BaseURL   string `json:"baseUrl" mapstructure:"baseUrl" toml:"base_url"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey" toml:"api_key"`
	Model     string `json:"model" mapstructure:"model" toml:"model"`
	MaxTokens int    `json:"maxTokens" mapstructure:"maxTokens" toml:"max_tokens"`
	Enabled   bool   `json:"enabled" mapstructure:"enabled" toml:"enabled"`
}

// RetryConfig is the LLM retry policy
type RetryConfig struct {
	MaxRetries  int `json:"maxRetries" mapstructure:"maxRetries"`
	BaseDelayMs int `json:"baseDelayMs" mapstructure:"baseDelayMs"`
	MaxDelayMs  int `json:"maxDelayMs" mapstructure:"maxDelayMs"`
}

// LlmConfig contains the endpoint pool and retry policy.
// Endpoints may be declared inline or in .skb/endpoints.toml; when both
// are present the TOML file wins.
type LlmConfig struct {
	Endpoints     []EndpointConfig `json:"endpoints" mapstructure:"endpoints"`
	EndpointsFile string           `json:"endpointsFile" mapstructure:"endpointsFile"`
	Retry         RetryConfig      `json:"retry" mapstructure:"retry"`
	TimeoutMs     int              `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// EmbeddingConfig points at the embedding HTTP service
type EmbeddingConfig struct {
	BaseURL   string `json:"baseUrl" mapstructure:"baseUrl"`
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
	BatchSize int    `json:"batchSize" mapstructure:"batchSize"`
	TimeoutMs int    `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// RerankConfig points at the optional rerank HTTP service
type RerankConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	BaseURL   string `json:"baseUrl" mapstructure:"baseUrl"`
	Model     string `json:"model" mapstructure:"model"`
	TimeoutMs int    `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// StoreConfig sizes the in-memory tiers of the vector store
type StoreConfig struct {
	FragmentCacheSize int `json:"fragmentCacheSize" mapstructure:"fragmentCacheSize"`
	QueryCacheSize    int `json:"queryCacheSize" mapstructure:"queryCacheSize"`
	DefaultTopK       int `json:"defaultTopK" mapstructure:"defaultTopK"`
}

// GuardConfig bounds daily LLM-driven work per project
type GuardConfig struct {
	DailyQuestionQuota    int `json:"dailyQuestionQuota" mapstructure:"dailyQuestionQuota"`
	DailyExplorationQuota int `json:"dailyExplorationQuota" mapstructure:"dailyExplorationQuota"`
	BackoffBaseMs         int `json:"backoffBaseMs" mapstructure:"backoffBaseMs"`
	BackoffMaxMs          int `json:"backoffMaxMs" mapstructure:"backoffMaxMs"`
}

// SchedulerConfig controls the periodic background refresh
type SchedulerConfig struct {
	Enabled         bool `json:"enabled" mapstructure:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes" mapstructure:"intervalMinutes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:    1,
		ProjectKey: "default",
		RepoRoot:   ".",
		Sources: SourcesConfig{
			Extensions:   []string{".java"},
			Excludes:     []string{"target", "build", "out", "node_modules"},
			IncludeTests: false,
		},
		Llm: LlmConfig{
			Endpoints: []EndpointConfig{},
			Retry: RetryConfig{
				MaxRetries:  3,
				BaseDelayMs: 10000,
				MaxDelayMs:  60000,
			},
			TimeoutMs: 120000,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://localhost:8000",
			Model:     "BAAI/bge-m3",
			Dimension: 1024,
			BatchSize: 10,
			TimeoutMs: 30000,
		},
		Rerank: RerankConfig{
			Enabled:   false,
			BaseURL:   "http://localhost:8001",
			Model:     "BAAI/bge-reranker-v2-m3",
			TimeoutMs: 10000,
		},
		Store: StoreConfig{
			FragmentCacheSize: 512,
			QueryCacheSize:    128,
			DefaultTopK:       10,
		},
		Guard: GuardConfig{
			DailyQuestionQuota:    200,
			DailyExplorationQuota: 50,
			BackoffBaseMs:         30000,
			BackoffMaxMs:          1800000,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			IntervalMinutes: 30,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// Load loads configuration from <repoRoot>/.skb/config.yaml, falling back
// to defaults when the file does not exist. An endpoints TOML file, when
// configured or present at the default location, overrides inline endpoints.
func Load(repoRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(repoRoot, Dir))

	cfg := DefaultConfig()
	cfg.RepoRoot = repoRoot

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := cfg.loadEndpointsFile(repoRoot); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, skberr.Wrap(skberr.ConfigInvalid, "failed to read config", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, skberr.Wrap(skberr.ConfigInvalid, "failed to parse config", err)
	}
	cfg.RepoRoot = repoRoot

	if err := cfg.loadEndpointsFile(repoRoot); err != nil {
		return nil, err
	}
	return cfg, nil
}

// endpointsFile is the TOML document shape for the endpoint pool
type endpointsFile struct {
	Endpoints []EndpointConfig `toml:"endpoints"`
}

func (c *Config) loadEndpointsFile(repoRoot string) error {
	path := c.Llm.EndpointsFile
	if path == "" {
		path = filepath.Join(repoRoot, Dir, "endpoints.toml")
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	var f endpointsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return skberr.Wrap(skberr.ConfigInvalid, fmt.Sprintf("failed to parse %s", path), err)
	}
	if len(f.Endpoints) > 0 {
		c.Llm.Endpoints = f.Endpoints
	}
	return nil
}

// Validate checks the values an engine cannot start without
func (c *Config) Validate() error {
	if c.ProjectKey == "" {
		return skberr.New(skberr.ConfigInvalid, "projectKey must not be empty")
	}
	if c.Embedding.BaseURL == "" {
		return skberr.New(skberr.ConfigInvalid, "embedding.baseUrl must not be empty")
	}
	if c.Llm.Retry.MaxRetries < 0 {
		return skberr.New(skberr.ConfigInvalid, "llm.retry.maxRetries must not be negative")
	}
	for i, ep := range c.Llm.Endpoints {
		if ep.BaseURL == "" {
			return skberr.Newf(skberr.ConfigInvalid, "llm.endpoints[%d].baseUrl must not be empty", i)
		}
	}
	return nil
}

// Save writes the configuration to <repoRoot>/.skb/config.yaml as JSON-ish
// YAML (plain JSON is valid YAML, and keeps one marshaller in play).
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return skberr.Wrap(skberr.StoreIO, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return skberr.Wrap(skberr.Internal, "failed to marshal config", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return skberr.Wrap(skberr.StoreIO, "failed to write config", err)
	}
	return nil
}
