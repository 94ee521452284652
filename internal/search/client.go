package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/websearch/internal/brave"
	"github.com/kalambet/websearch/internal/cache"
	"github.com/kalambet/websearch/internal/govern"
	"github.com/kalambet/websearch/internal/history"
	"github.com/kalambet/websearch/internal/similarity"
)

// DefaultThreshold is the bigram cosine score at or above which a cached
// query is treated as equivalent to the submitted one.
const DefaultThreshold = 0.85

// Source says how a search result was satisfied.
type Source string

const (
	SourceExact    Source = "exact"
	SourceFuzzy    Source = "fuzzy"
	SourceUpstream Source = "upstream"
)

// Result is the outcome of one search: the raw upstream payload plus where
// it came from. MatchedQuery and Score are set for fuzzy hits only.
type Result struct {
	Raw          json.RawMessage
	Source       Source
	Score        float64
	MatchedQuery string
}

// Upstream abstracts the search API for testing.
type Upstream interface {
	Search(ctx context.Context, query string, count int) (*brave.Result, error)
}

// Recorder receives the lookup log. history.Store implements it.
type Recorder interface {
	RecordLookup(l history.Lookup) error
}

// Options configures a Client.
type Options struct {
	// Cache may be nil to disable caching entirely.
	Cache *cache.Store

	// Threshold for fuzzy matches; <= 0 selects DefaultThreshold.
	Threshold float64

	// Count is the number of web results requested per upstream call.
	Count int

	// History may be nil; recording failures never fail a search.
	History Recorder
}

// Client deduplicates and paces searches against an upstream API. Exact
// repeats are served from the cache by content hash, near-duplicates by
// bigram cosine similarity, and everything else goes through the governor.
type Client struct {
	upstream  Upstream
	governor  *govern.Governor
	cache     *cache.Store
	threshold float64
	count     int
	history   Recorder
	logger    *slog.Logger
}

// NewClient creates a Client using the given upstream and governor.
func NewClient(upstream Upstream, governor *govern.Governor, opts Options) *Client {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Client{
		upstream:  upstream,
		governor:  governor,
		cache:     opts.Cache,
		threshold: threshold,
		count:     opts.Count,
		history:   opts.History,
		logger:    slog.Default(),
	}
}

// Search resolves a query from the cache when possible, otherwise through a
// governed upstream call whose successful result is admitted to the cache.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	start := time.Now()
	hash := cache.Hash(query)
	var vec similarity.Vector

	if c.cache != nil {
		if entry, ok := c.cache.Get(hash); ok {
			c.logger.Debug("cache hit", "kind", "exact", "query", query)
			c.record(query, "exact", 1, entry.Query, start)
			return &Result{Raw: entry.Result, Source: SourceExact}, nil
		}

		vec = similarity.Embed(query)
		if entry, score, ok := c.cache.Best(vec, c.threshold); ok {
			c.logger.Debug("cache hit", "kind", "fuzzy", "query", query, "matched", entry.Query, "score", score)
			c.record(query, "fuzzy", score, entry.Query, start)
			return &Result{Raw: entry.Result, Source: SourceFuzzy, Score: score, MatchedQuery: entry.Query}, nil
		}
	}

	var raw json.RawMessage
	err := c.governor.Do(ctx, func(callCtx context.Context) (*govern.Feedback, error) {
		res, callErr := c.upstream.Search(callCtx, query, c.count)
		var fb *govern.Feedback
		if res != nil {
			fb = feedback(res.RateLimit)
		}
		if callErr != nil {
			return fb, callErr
		}
		raw = res.Raw
		return fb, nil
	})
	if err != nil {
		c.record(query, "error", 0, "", start)
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	if c.cache != nil {
		c.cache.Put(hash, &cache.Entry{Query: query, Result: raw, Embedding: vec})
	}
	c.record(query, "miss", 0, "", start)
	return &Result{Raw: raw, Source: SourceUpstream}, nil
}

// record appends to the lookup log. History is auxiliary: failures are
// logged, never surfaced.
func (c *Client) record(query, outcome string, score float64, matched string, start time.Time) {
	if c.history == nil {
		return
	}
	err := c.history.RecordLookup(history.Lookup{
		Query:        query,
		Outcome:      outcome,
		Score:        score,
		MatchedQuery: matched,
		DurationMs:   time.Since(start).Milliseconds(),
	})
	if err != nil {
		c.logger.Warn("recording lookup failed", "query", query, "error", err)
	}
}

func feedback(rl brave.RateLimit) *govern.Feedback {
	return &govern.Feedback{
		Remaining:    rl.Remaining,
		HasRemaining: rl.HasRemaining,
		ResetAfter:   rl.ResetAfter,
		HasReset:     rl.HasReset,
	}
}
