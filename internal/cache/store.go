package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/websearch/internal/similarity"
)

const (
	// DefaultMaxEntries bounds the in-memory index. The snapshot retains
	// whatever the index holds; least recently used entries drop first.
	DefaultMaxEntries = 2048

	// DefaultFlushDelay coalesces bursts of writes into one disk flush.
	DefaultFlushDelay = 500 * time.Millisecond
)

// Entry is an immutable cached query result. The result payload is kept
// opaque; the embedding is used only for fuzzy lookup.
type Entry struct {
	Query     string            `json:"query"`
	Result    json.RawMessage   `json:"result"`
	Embedding similarity.Vector `json:"embedding"`
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries   int    `json:"entries"`
	ExactHits uint64 `json:"exact_hits"`
	FuzzyHits uint64 `json:"fuzzy_hits"`
	Misses    uint64 `json:"misses"`
}

// Store is a durable query→result cache keyed by content hash, with a
// bounded LRU index and debounced JSON snapshot persistence.
type Store struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, *Entry]
	path       string
	flushDelay time.Duration
	flushTimer *time.Timer
	logger     *slog.Logger

	exactHits uint64
	fuzzyHits uint64
	misses    uint64
}

// Open loads the snapshot at path (if any) into a new Store. A missing file
// starts an empty cache; a corrupt file is logged and also starts empty.
// Pass maxEntries <= 0 or flushDelay <= 0 to use the defaults.
func Open(path string, maxEntries int, flushDelay time.Duration) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}

	index, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating cache index: %w", err)
	}

	s := &Store{
		entries:    index,
		path:       path,
		flushDelay: flushDelay,
		logger:     slog.Default(),
	}
	s.load()
	return s, nil
}

// load reads the persisted snapshot into the index. Never fails the caller.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("could not read cache snapshot, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var snapshot map[string]*Entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Warn("could not parse cache snapshot, starting empty", "path", s.path, "error", err)
		return
	}

	for hash, entry := range snapshot {
		s.entries.Add(hash, entry)
	}
}

// Hash returns the cache key for a query: the hex sha256 of its exact text.
func Hash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Get performs an exact lookup by hash and counts a hit when found.
func (s *Store) Get(hash string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(hash)
	if ok {
		s.exactHits++
	}
	return entry, ok
}

// Best scans all cached embeddings for the entry most similar to vec.
// A hit requires score >= threshold; scoring exactly at the threshold counts
// as a match. The miss counter advances when nothing qualifies, so Best is
// expected to run once per lookup, after Get has missed.
func (s *Store) Best(vec similarity.Vector, threshold float64) (*Entry, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Entry
	var bestScore float64
	for _, entry := range s.entries.Values() {
		score := similarity.Cosine(vec, entry.Embedding)
		if best == nil || score > bestScore {
			best = entry
			bestScore = score
		}
	}

	if best == nil || bestScore < threshold {
		s.misses++
		return nil, bestScore, false
	}
	s.fuzzyHits++
	return best, bestScore, true
}

// Put inserts or overwrites an entry (last write wins per hash) and schedules
// a debounced snapshot flush.
func (s *Store) Put(hash string, entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Add(hash, entry)
	s.scheduleFlushLocked()
}

// scheduleFlushLocked arms the single pending flush timer, or pushes it out
// when one is already pending. Only one flush fires per write burst.
func (s *Store) scheduleFlushLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Reset(s.flushDelay)
		return
	}
	s.flushTimer = time.AfterFunc(s.flushDelay, func() {
		if err := s.Flush(); err != nil {
			s.logger.Warn("cache flush failed", "path", s.path, "error", err)
		}
	})
}

// Flush writes the snapshot to disk immediately. The write goes through a
// temp file and rename so a crash mid-write never corrupts the snapshot.
func (s *Store) Flush() error {
	s.mu.Lock()
	snapshot := make(map[string]*Entry, s.entries.Len())
	for _, hash := range s.entries.Keys() {
		if entry, ok := s.entries.Peek(hash); ok {
			snapshot[hash] = entry
		}
	}
	s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding cache snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".websearch-cache-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Purge drops all entries and rewrites the snapshot.
func (s *Store) Purge() error {
	s.mu.Lock()
	s.entries.Purge()
	s.mu.Unlock()
	return s.Flush()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Stats returns a snapshot of the hit/miss counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:   s.entries.Len(),
		ExactHits: s.exactHits,
		FuzzyHits: s.fuzzyHits,
		Misses:    s.misses,
	}
}

// Close stops any pending flush timer and writes a final snapshot.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()
	return s.Flush()
}
