package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Brave    BraveConfig
	Cache    CacheConfig
	Governor GovernorConfig
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
}

type BraveConfig struct {
	APIKey  string
	BaseURL string
	Count   int
}

type CacheConfig struct {
	Enabled             bool
	Path                string
	MaxEntries          int
	SimilarityThreshold float64
	FlushDelayMs        int
}

type GovernorConfig struct {
	QueueEnabled     bool
	MinDelayMs       int
	LowWater         int
	ResetBufferMs    int
	RequestTimeoutMs int
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Brave: BraveConfig{
			BaseURL: "https://api.search.brave.com",
			Count:   10,
		},
		Cache: CacheConfig{
			Enabled:             true,
			Path:                filepath.Join(dataDir, "cache.json"),
			MaxEntries:          2048,
			SimilarityThreshold: 0.85,
			FlushDelayMs:        500,
		},
		Governor: GovernorConfig{
			QueueEnabled:     true,
			MinDelayMs:       1000,
			LowWater:         2,
			ResetBufferMs:    500,
			RequestTimeoutMs: 30000,
		},
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "websearch-data"
		}
	}
	return filepath.Join(dir, "websearch")
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/websearch/config.json, then applies WEBSEARCH_*
// environment overrides. A missing Brave API key fails here, before any
// network attempt is possible.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Brave.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Brave Search API key. " +
			"Set it via environment variable WEBSEARCH_BRAVE_API_KEY")
	}

	return cfg, nil
}
