// Package config loads and hot-reloads service configuration, grounded
// on dotagent's pkg/config (JSON file + caarlos0/env overrides,
// ~-prefixed path expansion) and go-claw's config watcher
// (fsnotify-driven reload events).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, loaded from a JSON file on
// disk and then overridden by environment variables.
type Config struct {
	mu sync.RWMutex

	Store     StoreConfig     `json:"store"`
	Embedding EmbeddingConfig `json:"embedding"`
	Search    SearchConfig    `json:"search"`
	Replicate ReplicateConfig `json:"replicate"`
	Server    ServerConfig    `json:"server"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type StoreConfig struct {
	DataDir            string        `json:"data_dir" env:"OPENCODEMEM_DATA_DIR"`
	MaxObservationLen  int           `json:"max_observation_length" env:"OPENCODEMEM_MAX_OBSERVATION_LENGTH"`
	MaxContextResults  int           `json:"max_context_results" env:"OPENCODEMEM_MAX_CONTEXT_RESULTS"`
	MaxSearchResults   int           `json:"max_search_results" env:"OPENCODEMEM_MAX_SEARCH_RESULTS"`
	DedupeWindow       time.Duration `json:"dedupe_window" env:"OPENCODEMEM_DEDUPE_WINDOW"`
}

type EmbeddingConfig struct {
	Enabled  bool   `json:"enabled" env:"OPENCODEMEM_EMBEDDING_ENABLED"`
	Model    string `json:"model" env:"OPENCODEMEM_EMBEDDING_MODEL"`
	Endpoint string `json:"endpoint" env:"OPENCODEMEM_EMBEDDING_ENDPOINT"`
	APIKey   string `json:"api_key" env:"OPENCODEMEM_EMBEDDING_API_KEY"`
}

type SearchConfig struct {
	LexicalWeight float64 `json:"lexical_weight" env:"OPENCODEMEM_SEARCH_LEXICAL_WEIGHT"`
	SemanticWeight float64 `json:"semantic_weight" env:"OPENCODEMEM_SEARCH_SEMANTIC_WEIGHT"`
	RecencyWeight float64 `json:"recency_weight" env:"OPENCODEMEM_SEARCH_RECENCY_WEIGHT"`
	TagBoostWeight float64 `json:"tag_boost_weight" env:"OPENCODEMEM_SEARCH_TAG_BOOST_WEIGHT"`
}

type ReplicateConfig struct {
	Enabled  bool   `json:"enabled" env:"OPENCODEMEM_REPLICATE_ENABLED"`
	CronSpec string `json:"cron_spec" env:"OPENCODEMEM_REPLICATE_CRON_SPEC"`
}

type ServerConfig struct {
	Addr string `json:"addr" env:"OPENCODEMEM_ADDR"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"OPENCODEMEM_OTEL_ENABLED"`
	ServiceName string `json:"service_name" env:"OPENCODEMEM_OTEL_SERVICE_NAME"`
}

// Default returns the baseline configuration before file/env overrides.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir:           "~/.opencodemem",
			MaxObservationLen: 4000,
			MaxContextResults: 20,
			MaxSearchResults:  20,
			DedupeWindow:      15 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Enabled: false,
			Model:   "text-embedding-3-small",
		},
		Search: SearchConfig{
			LexicalWeight:  0.45,
			SemanticWeight: 0.35,
			RecencyWeight:  0.15,
			TagBoostWeight: 0.05,
		},
		Replicate: ReplicateConfig{
			Enabled:  false,
			CronSpec: "@every 5m",
		},
		Server: ServerConfig{Addr: ":8765"},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "opencodemem",
		},
	}
}

// Load reads path (a JSON config file, missing is fine) and applies
// environment overrides on top, mirroring dotagent's LoadConfig.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.Store.DataDir = expandHome(cfg.Store.DataDir)
	return cfg, nil
}

// Save writes cfg back to path as indented JSON.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DataDir returns the resolved, home-expanded data directory.
func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Store.DataDir
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return home
}
