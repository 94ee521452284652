package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/websearch/internal/brave"
	"github.com/kalambet/websearch/internal/cache"
	"github.com/kalambet/websearch/internal/config"
	"github.com/kalambet/websearch/internal/govern"
	"github.com/kalambet/websearch/internal/history"
	"github.com/kalambet/websearch/internal/search"
)

// app bundles the wired search client and its owned stores.
type app struct {
	client   *search.Client
	cache    *cache.Store
	history  *history.Store
	governor *govern.Governor
}

// newApp wires a search client from config: upstream Brave client, governor,
// optional cache, and the sqlite lookup log.
func newApp(cfg config.Config) (*app, error) {
	setupLogging(cfg)

	var store *cache.Store
	if cfg.Cache.Enabled {
		var err error
		store, err = cache.Open(cfg.Cache.Path, cfg.Cache.MaxEntries,
			time.Duration(cfg.Cache.FlushDelayMs)*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
	}

	hist, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("opening history: %w", err)
	}

	governor := govern.New(govern.Options{
		QueueDisabled: !cfg.Governor.QueueEnabled,
		MinDelay:      time.Duration(cfg.Governor.MinDelayMs) * time.Millisecond,
		LowWater:      cfg.Governor.LowWater,
		ResetBuffer:   time.Duration(cfg.Governor.ResetBufferMs) * time.Millisecond,
		Timeout:       time.Duration(cfg.Governor.RequestTimeoutMs) * time.Millisecond,
	})

	upstream := brave.New(cfg.Brave.BaseURL, cfg.Brave.APIKey)
	client := search.NewClient(upstream, governor, search.Options{
		Cache:     store,
		Threshold: cfg.Cache.SimilarityThreshold,
		Count:     cfg.Brave.Count,
		History:   hist,
	})

	return &app{
		client:   client,
		cache:    store,
		history:  hist,
		governor: governor,
	}, nil
}

// close flushes the cache and closes the history store.
func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing cache: %v\n", err)
		}
	}
	if err := a.history.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing history: %v\n", err)
	}
}

func setupLogging(cfg config.Config) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
