package config

import (
	"fmt"
	"time"

	"github.com/lazypower/tiermem/internal/logging"
)

// Config holds all tiermem configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" toml:"server"`
	Database  DatabaseConfig  `koanf:"database" toml:"database"`
	Index     IndexConfig     `koanf:"index" toml:"index"`
	Notify    NotifyConfig    `koanf:"notify" toml:"notify"`
	Lifecycle LifecycleConfig `koanf:"lifecycle" toml:"lifecycle"`
	Logging   logging.Config  `koanf:"logging" toml:"logging"`
	Hooks     HooksConfig     `koanf:"hooks" toml:"hooks"`
}

type ServerConfig struct {
	Bind string `koanf:"bind" toml:"bind"`
	Port int    `koanf:"port" toml:"port"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" toml:"path"`
}

// IndexConfig controls the vector index that receives fully indexed memories.
type IndexConfig struct {
	Path        string `koanf:"path" toml:"path"` // empty: next to the database
	InMemory    bool   `koanf:"in_memory" toml:"in_memory"`
	Compress    bool   `koanf:"compress" toml:"compress"`
	Embedder    string `koanf:"embedder" toml:"embedder"` // "hash", "ollama", "auto"
	Dimensions  int    `koanf:"dimensions" toml:"dimensions"`
	OllamaURL   string `koanf:"ollama_url" toml:"ollama_url"`
	OllamaModel string `koanf:"ollama_model" toml:"ollama_model"`
}

// NotifyConfig controls promotion prompt delivery. An empty NATSURL disables
// the agent sink; prompts are still logged for the user.
type NotifyConfig struct {
	NATSURL       string `koanf:"nats_url" toml:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix" toml:"subject_prefix"`
}

type LifecycleConfig struct {
	BatchSize      int           `koanf:"batch_size" toml:"batch_size"`
	WorkingCap     int           `koanf:"working_cap" toml:"working_cap"`
	HistoryLimit   int           `koanf:"history_limit" toml:"history_limit"`
	TrackerRetries int           `koanf:"tracker_retries" toml:"tracker_retries"`
	TrackerBackoff time.Duration `koanf:"tracker_backoff" toml:"tracker_backoff"`
	SweepInterval  time.Duration `koanf:"sweep_interval" toml:"sweep_interval"`
	SweepWorkers   int           `koanf:"sweep_workers" toml:"sweep_workers"`
}

type HooksConfig struct {
	Enabled bool `koanf:"enabled" toml:"enabled"`
	Timeout int  `koanf:"timeout" toml:"timeout"` // seconds
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Index: IndexConfig{
			Compress:    false,
			Embedder:    "auto",
			Dimensions:  256,
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "nomic-embed-text",
		},
		Notify: NotifyConfig{
			SubjectPrefix: "tiermem.prompts",
		},
		Lifecycle: LifecycleConfig{
			BatchSize:      50,
			WorkingCap:     500,
			HistoryLimit:   10,
			TrackerRetries: 3,
			TrackerBackoff: 50 * time.Millisecond,
			SweepInterval:  6 * time.Hour,
			SweepWorkers:   4,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Hooks: HooksConfig{
			Enabled: true,
			Timeout: 10,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Validate rejects settings the lifecycle cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Lifecycle.BatchSize <= 0 {
		return fmt.Errorf("lifecycle.batch_size must be positive, got %d", c.Lifecycle.BatchSize)
	}
	if c.Lifecycle.WorkingCap < 0 {
		return fmt.Errorf("lifecycle.working_cap must not be negative, got %d", c.Lifecycle.WorkingCap)
	}
	if c.Lifecycle.TrackerRetries < 0 {
		return fmt.Errorf("lifecycle.tracker_retries must not be negative, got %d", c.Lifecycle.TrackerRetries)
	}
	switch c.Index.Embedder {
	case "hash", "ollama", "auto":
	default:
		return fmt.Errorf("index.embedder must be hash, ollama or auto, got %q", c.Index.Embedder)
	}
	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("index.dimensions must be positive, got %d", c.Index.Dimensions)
	}
	return nil
}
