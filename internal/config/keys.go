package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "brave.api_key", typ: kString, env: "WEBSEARCH_BRAVE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Brave.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Brave.APIKey },
	},
	{
		key: "brave.base_url", typ: kString, env: "WEBSEARCH_BRAVE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Brave.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Brave.BaseURL },
	},
	{
		key: "brave.count", typ: kInt, env: "WEBSEARCH_BRAVE_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Brave.Count = v.(int) },
		extract: func(cfg Config) any { return cfg.Brave.Count },
	},
	{
		key: "cache.enabled", typ: kBool, env: "WEBSEARCH_CACHE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Cache.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Cache.Enabled },
	},
	{
		key: "cache.path", typ: kString, env: "WEBSEARCH_CACHE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Cache.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Path },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "WEBSEARCH_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "cache.similarity_threshold", typ: kFloat, env: "WEBSEARCH_CACHE_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cache.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Cache.SimilarityThreshold },
	},
	{
		key: "cache.flush_delay_ms", typ: kInt, env: "WEBSEARCH_CACHE_FLUSH_DELAY_MS",
		apply:   func(cfg *Config, v any) { cfg.Cache.FlushDelayMs = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.FlushDelayMs },
	},
	{
		key: "governor.queue_enabled", typ: kBool, env: "WEBSEARCH_GOVERNOR_QUEUE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Governor.QueueEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Governor.QueueEnabled },
	},
	{
		key: "governor.min_delay_ms", typ: kInt, env: "WEBSEARCH_GOVERNOR_MIN_DELAY_MS",
		apply:   func(cfg *Config, v any) { cfg.Governor.MinDelayMs = v.(int) },
		extract: func(cfg Config) any { return cfg.Governor.MinDelayMs },
	},
	{
		key: "governor.low_water", typ: kInt, env: "WEBSEARCH_GOVERNOR_LOW_WATER",
		apply:   func(cfg *Config, v any) { cfg.Governor.LowWater = v.(int) },
		extract: func(cfg Config) any { return cfg.Governor.LowWater },
	},
	{
		key: "governor.reset_buffer_ms", typ: kInt, env: "WEBSEARCH_GOVERNOR_RESET_BUFFER_MS",
		apply:   func(cfg *Config, v any) { cfg.Governor.ResetBufferMs = v.(int) },
		extract: func(cfg Config) any { return cfg.Governor.ResetBufferMs },
	},
	{
		key: "governor.request_timeout_ms", typ: kInt, env: "WEBSEARCH_GOVERNOR_REQUEST_TIMEOUT_MS",
		apply:   func(cfg *Config, v any) { cfg.Governor.RequestTimeoutMs = v.(int) },
		extract: func(cfg Config) any { return cfg.Governor.RequestTimeoutMs },
	},
	{
		key: "server.port", typ: kInt, env: "WEBSEARCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "WEBSEARCH_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WEBSEARCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "WEBSEARCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
