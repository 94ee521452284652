package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production Brave Search API endpoint.
const DefaultBaseURL = "https://api.search.brave.com"

// RateLimit is the quota information reported on a response. The Has* flags
// distinguish absent or unparseable headers from real zero values.
type RateLimit struct {
	Remaining    int
	HasRemaining bool
	ResetAfter   time.Duration
	HasReset     bool
}

// Result is one upstream response: the raw body kept opaque for caching,
// plus the rate-limit headers observed on it.
type Result struct {
	Raw       json.RawMessage
	RateLimit RateLimit
}

// StatusError reports a non-success HTTP response from the search API.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search API returned %s", e.Status)
}

// Client communicates with the Brave Search web search API over HTTPS.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the given base URL and subscription key.
// Pass an empty baseURL to use the production endpoint. The HTTP client
// carries no timeout of its own; the caller bounds each request via context.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// Search issues GET /res/v1/web/search for the given query and returns the
// raw response body. A missing API key fails before any network attempt.
// Non-2xx responses return a *StatusError together with a Result carrying
// whatever rate-limit headers the rejection reported.
func (c *Client) Search(ctx context.Context, query string, count int) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("missing Brave Search API key")
	}

	params := url.Values{}
	params.Set("q", query)
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	result := &Result{RateLimit: parseRateLimit(resp.Header)}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return result, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("reading search response: %w", err)
	}
	if !json.Valid(body) {
		return result, fmt.Errorf("search response is not valid JSON")
	}
	result.Raw = body
	return result, nil
}

// parseRateLimit reads X-RateLimit-Remaining and X-RateLimit-Reset. Brave
// sends comma-separated per-window lists ("1, 14400"); the first value is
// the shortest window and the one worth pacing against. A malformed or
// absent header leaves the corresponding field unknown.
func parseRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	if v, ok := firstInt(h.Get("X-RateLimit-Remaining")); ok {
		rl.Remaining = v
		rl.HasRemaining = true
	}
	if v, ok := firstInt(h.Get("X-RateLimit-Reset")); ok {
		rl.ResetAfter = time.Duration(v) * time.Second
		rl.HasReset = true
	}
	return rl
}

func firstInt(header string) (int, bool) {
	if header == "" {
		return 0, false
	}
	first, _, _ := strings.Cut(header, ",")
	v, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, false
	}
	return v, true
}
