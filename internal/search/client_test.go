package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/websearch/internal/brave"
	"github.com/kalambet/websearch/internal/cache"
	"github.com/kalambet/websearch/internal/govern"
	"github.com/kalambet/websearch/internal/history"
)

type mockUpstream struct {
	mu       sync.Mutex
	calls    int
	searchFn func(ctx context.Context, query string, count int) (*brave.Result, error)
}

func (m *mockUpstream) Search(ctx context.Context, query string, count int) (*brave.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.searchFn(ctx, query, count)
}

func (m *mockUpstream) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRecorder struct {
	mu      sync.Mutex
	lookups []history.Lookup
	err     error
}

func (m *mockRecorder) RecordLookup(l history.Lookup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lookups = append(m.lookups, l)
	return nil
}

func (m *mockRecorder) last(t *testing.T) history.Lookup {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lookups) == 0 {
		t.Fatal("no lookups recorded")
	}
	return m.lookups[len(m.lookups)-1]
}

func staticUpstream(body string) *mockUpstream {
	return &mockUpstream{
		searchFn: func(_ context.Context, _ string, _ int) (*brave.Result, error) {
			return &brave.Result{Raw: json.RawMessage(body)}, nil
		},
	}
}

func testGovernor() *govern.Governor {
	return govern.New(govern.Options{MinDelay: time.Microsecond, Timeout: -1})
}

func testCache(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(filepath.Join(t.TempDir(), "cache.json"), 0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSearch_ExactRepeatHitsCacheOnce(t *testing.T) {
	up := staticUpstream(`{"web":{"results":[{"title":"a"}]}}`)
	c := NewClient(up, testGovernor(), Options{Cache: testCache(t)})

	first, err := c.Search(context.Background(), "golang http client")
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if first.Source != SourceUpstream {
		t.Errorf("first source = %q, want upstream", first.Source)
	}

	second, err := c.Search(context.Background(), "golang http client")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if second.Source != SourceExact {
		t.Errorf("second source = %q, want exact", second.Source)
	}
	if !bytes.Equal(first.Raw, second.Raw) {
		t.Error("cached result differs from the original")
	}
	if up.callCount() != 1 {
		t.Errorf("upstream called %d times, want 1", up.callCount())
	}
}

func TestSearch_FuzzyHitForNearDuplicate(t *testing.T) {
	up := staticUpstream(`{"r":1}`)
	c := NewClient(up, testGovernor(), Options{Cache: testCache(t)})

	if _, err := c.Search(context.Background(), "javascript proxy patterns"); err != nil {
		t.Fatalf("first search: %v", err)
	}

	res, err := c.Search(context.Background(), "javascript proxy pattern")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if res.Source != SourceFuzzy {
		t.Fatalf("source = %q, want fuzzy", res.Source)
	}
	if res.MatchedQuery != "javascript proxy patterns" {
		t.Errorf("matched query = %q", res.MatchedQuery)
	}
	if res.Score < 0.85 {
		t.Errorf("score = %v, want >= threshold", res.Score)
	}
	if up.callCount() != 1 {
		t.Errorf("upstream called %d times, want 1", up.callCount())
	}
}

func TestSearch_DissimilarQueryGoesUpstream(t *testing.T) {
	up := staticUpstream(`{"r":1}`)
	c := NewClient(up, testGovernor(), Options{Cache: testCache(t)})

	if _, err := c.Search(context.Background(), "javascript proxy patterns"); err != nil {
		t.Fatalf("first search: %v", err)
	}
	res, err := c.Search(context.Background(), "weather forecast oslo")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if res.Source != SourceUpstream {
		t.Errorf("source = %q, want upstream", res.Source)
	}
	if up.callCount() != 2 {
		t.Errorf("upstream called %d times, want 2", up.callCount())
	}
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	up := staticUpstream(`{}`)
	c := NewClient(up, testGovernor(), Options{})

	if _, err := c.Search(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty query")
	}
	if up.callCount() != 0 {
		t.Error("empty query must not reach upstream")
	}
}

func TestSearch_UpstreamErrorNotCached(t *testing.T) {
	fail := true
	up := &mockUpstream{
		searchFn: func(_ context.Context, _ string, _ int) (*brave.Result, error) {
			if fail {
				return &brave.Result{}, &brave.StatusError{Code: http.StatusTooManyRequests, Status: "429 Too Many Requests"}
			}
			return &brave.Result{Raw: json.RawMessage(`{"ok":true}`)}, nil
		},
	}
	c := NewClient(up, testGovernor(), Options{Cache: testCache(t)})

	_, err := c.Search(context.Background(), "flaky query")
	var statusErr *brave.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("got %v, want wrapped *StatusError", err)
	}

	// The failure must not have been admitted to the cache.
	fail = false
	res, err := c.Search(context.Background(), "flaky query")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Source != SourceUpstream {
		t.Errorf("source = %q, want upstream after a failed first attempt", res.Source)
	}
	if up.callCount() != 2 {
		t.Errorf("upstream called %d times, want 2", up.callCount())
	}
}

func TestSearch_NilCacheAlwaysGoesUpstream(t *testing.T) {
	up := staticUpstream(`{"r":1}`)
	c := NewClient(up, testGovernor(), Options{})

	for i := 0; i < 3; i++ {
		res, err := c.Search(context.Background(), "same query")
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if res.Source != SourceUpstream {
			t.Errorf("source = %q, want upstream with caching disabled", res.Source)
		}
	}
	if up.callCount() != 3 {
		t.Errorf("upstream called %d times, want 3", up.callCount())
	}
}

func TestSearch_FeedbackReachesGovernor(t *testing.T) {
	up := &mockUpstream{
		searchFn: func(_ context.Context, _ string, _ int) (*brave.Result, error) {
			return &brave.Result{
				Raw:       json.RawMessage(`{}`),
				RateLimit: brave.RateLimit{Remaining: 11, HasRemaining: true},
			}, nil
		},
	}
	g := testGovernor()
	c := NewClient(up, g, Options{})

	if _, err := c.Search(context.Background(), "q"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	st := g.Snapshot()
	if !st.KnownRemaining || st.Remaining != 11 {
		t.Errorf("governor state = %+v, want remaining 11", st)
	}
}

func TestSearch_RecordsOutcomes(t *testing.T) {
	rec := &mockRecorder{}
	up := staticUpstream(`{"r":1}`)
	c := NewClient(up, testGovernor(), Options{Cache: testCache(t), History: rec})

	c.Search(context.Background(), "javascript proxy patterns")
	if got := rec.last(t); got.Outcome != "miss" {
		t.Errorf("first outcome = %q, want miss", got.Outcome)
	}

	c.Search(context.Background(), "javascript proxy patterns")
	if got := rec.last(t); got.Outcome != "exact" {
		t.Errorf("repeat outcome = %q, want exact", got.Outcome)
	}

	c.Search(context.Background(), "javascript proxy pattern")
	got := rec.last(t)
	if got.Outcome != "fuzzy" {
		t.Errorf("near-duplicate outcome = %q, want fuzzy", got.Outcome)
	}
	if got.MatchedQuery != "javascript proxy patterns" || got.Score < 0.85 {
		t.Errorf("fuzzy lookup = %+v", got)
	}
}

func TestSearch_RecordsErrors(t *testing.T) {
	rec := &mockRecorder{}
	up := &mockUpstream{
		searchFn: func(_ context.Context, _ string, _ int) (*brave.Result, error) {
			return nil, errors.New("connection refused")
		},
	}
	c := NewClient(up, testGovernor(), Options{History: rec})

	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected upstream error")
	}
	if got := rec.last(t); got.Outcome != "error" {
		t.Errorf("outcome = %q, want error", got.Outcome)
	}
}

func TestSearch_HistoryFailureDoesNotFailSearch(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	up := staticUpstream(`{"r":1}`)
	c := NewClient(up, testGovernor(), Options{History: rec})

	if _, err := c.Search(context.Background(), "q"); err != nil {
		t.Fatalf("search failed on a history error: %v", err)
	}
}

func TestSearch_CustomThreshold(t *testing.T) {
	up := staticUpstream(`{"r":1}`)
	// A threshold of 0.99 should reject the near-duplicate that 0.85 accepts.
	c := NewClient(up, testGovernor(), Options{Cache: testCache(t), Threshold: 0.99})

	if _, err := c.Search(context.Background(), "javascript proxy patterns"); err != nil {
		t.Fatalf("first search: %v", err)
	}
	res, err := c.Search(context.Background(), "javascript proxy pattern")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if res.Source != SourceUpstream {
		t.Errorf("source = %q, want upstream under a strict threshold", res.Source)
	}
}
