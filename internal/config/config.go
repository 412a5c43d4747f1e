// Package config loads and validates the notemcp configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the config file looked up next to the database
// or under the user config directory.
const DefaultConfigName = "notemcp.yaml"

// Config is the complete notemcp configuration.
type Config struct {
	// Vaults are the note directories to index.
	Vaults []string `yaml:"vaults" json:"vaults"`

	// Database is the note database path.
	Database string `yaml:"database" json:"database"`

	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// IngestConfig tunes the ingestion worker.
type IngestConfig struct {
	// BatchSize is the number of queued notes per ingestion batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// DebounceWindow is the watcher's per-note quiet window.
	DebounceWindow time.Duration `yaml:"debounce_window" json:"debounce_window"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	// Provider is "static" (default) or "ollama".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the embedding model name (ollama only).
	Model string `yaml:"model" json:"model"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// BatchSize is the model sub-batch size per inference call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout bounds one embedding request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// SearchConfig tunes query answering.
type SearchConfig struct {
	// TopK is the default number of results.
	TopK int `yaml:"top_k" json:"top_k"`

	// QueryCacheSize is the number of cached query embeddings.
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
}

// ServerConfig configures the RPC socket.
type ServerConfig struct {
	// SocketPath is the Unix socket path. Empty derives it from the
	// database path.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// PIDFile is the PID file path. Empty derives it from the database
	// path.
	PIDFile string `yaml:"pid_file" json:"pid_file"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" json:"level"`

	// File, when set, receives JSON log lines instead of stderr.
	File string `yaml:"file" json:"file"`
}

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Ingest: IngestConfig{
			BatchSize:      8,
			DebounceWindow: 200 * time.Millisecond,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			OllamaHost: "http://localhost:11434",
			BatchSize:  16,
			Timeout:    60 * time.Second,
		},
		Search: SearchConfig{
			TopK:           10,
			QueryCacheSize: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path and applies defaults to unset
// fields. A missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := New()
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = def.Ingest.BatchSize
	}
	if c.Ingest.DebounceWindow <= 0 {
		c.Ingest.DebounceWindow = def.Ingest.DebounceWindow
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = def.Embeddings.Provider
	}
	if c.Embeddings.OllamaHost == "" {
		c.Embeddings.OllamaHost = def.Embeddings.OllamaHost
	}
	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = def.Embeddings.BatchSize
	}
	if c.Embeddings.Timeout <= 0 {
		c.Embeddings.Timeout = def.Embeddings.Timeout
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = def.Search.TopK
	}
	if c.Search.QueryCacheSize <= 0 {
		c.Search.QueryCacheSize = def.Search.QueryCacheSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate rejects configurations the worker cannot run with.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "static", "ollama":
	default:
		return fmt.Errorf("unknown embeddings provider: %q", c.Embeddings.Provider)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}

	return nil
}

// SocketPath returns the configured or derived socket path.
func (c *Config) SocketPath() string {
	if c.Server.SocketPath != "" {
		return c.Server.SocketPath
	}
	return c.Database + ".sock"
}

// PIDFilePath returns the configured or derived PID file path.
func (c *Config) PIDFilePath() string {
	if c.Server.PIDFile != "" {
		return c.Server.PIDFile
	}
	return c.Database + ".pid"
}

// DefaultPath returns the user-level config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "notemcp", DefaultConfigName)
	}
	return DefaultConfigName
}
