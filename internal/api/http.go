package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/websearch/internal/brave"
	"github.com/kalambet/websearch/internal/cache"
	"github.com/kalambet/websearch/internal/govern"
	"github.com/kalambet/websearch/internal/history"
	"github.com/kalambet/websearch/internal/search"
)

// Searcher abstracts the search client for the HTTP and MCP layers.
type Searcher interface {
	Search(ctx context.Context, query string) (*search.Result, error)
}

// Deps holds dependencies for the HTTP handler. Cache, History, and Governor
// are optional; their endpoints report accordingly when absent.
type Deps struct {
	Searcher Searcher
	Cache    *cache.Store
	History  *history.Store
	Governor *govern.Governor
	Token    string
}

// NewHandler returns the management/search HTTP handler. When Token is
// non-empty every route except /health requires bearer auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/search", handleSearch(deps))
		r.Get("/status", handleStatus(deps))
		r.Get("/cache/stats", handleCacheStats(deps))
		r.Delete("/cache", handleCachePurge(deps))
		r.Get("/history", handleHistory(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// SearchResponse is the JSON body for GET /search.
type SearchResponse struct {
	Source       string          `json:"source"`
	Score        float64         `json:"score,omitempty"`
	MatchedQuery string          `json:"matched_query,omitempty"`
	Result       json.RawMessage `json:"result"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}

		res, err := deps.Searcher.Search(r.Context(), query)
		if err != nil {
			var statusErr *brave.StatusError
			if errors.As(err, &statusErr) {
				httpError(w, http.StatusBadGateway, "upstream_error", "upstream rejected the search: %d %s", statusErr.Code, statusErr.Status)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}

		writeJSON(w, SearchResponse{
			Source:       string(res.Source),
			Score:        res.Score,
			MatchedQuery: res.MatchedQuery,
			Result:       res.Raw,
		})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type statusBody struct {
			Remaining      int    `json:"remaining"`
			KnownRemaining bool   `json:"known_remaining"`
			ResetAt        string `json:"reset_at,omitempty"`
			LastRequestAt  string `json:"last_request_at,omitempty"`
			Waiting        int    `json:"waiting"`
		}
		var body statusBody
		if deps.Governor != nil {
			st := deps.Governor.Snapshot()
			body.Remaining = st.Remaining
			body.KnownRemaining = st.KnownRemaining
			body.Waiting = st.Waiting
			if !st.ResetAt.IsZero() {
				body.ResetAt = st.ResetAt.Format(time.RFC3339)
			}
			if !st.LastRequestAt.IsZero() {
				body.LastRequestAt = st.LastRequestAt.Format(time.RFC3339)
			}
		}
		writeJSON(w, body)
	}
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Cache == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "cache is disabled")
			return
		}
		writeJSON(w, deps.Cache.Stats())
	}
}

func handleCachePurge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Cache == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "cache is disabled")
			return
		}
		if err := deps.Cache.Purge(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "purging cache: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "history is disabled")
			return
		}
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = v
		}

		lookups, err := deps.History.RecentLookups(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing history: %v", err)
			return
		}

		type lookupBody struct {
			ID           string  `json:"id"`
			CreatedAt    string  `json:"created_at"`
			Query        string  `json:"query"`
			Outcome      string  `json:"outcome"`
			Score        float64 `json:"score,omitempty"`
			MatchedQuery string  `json:"matched_query,omitempty"`
			DurationMs   int64   `json:"duration_ms"`
		}
		body := make([]lookupBody, len(lookups))
		for i, l := range lookups {
			body[i] = lookupBody{
				ID:           l.ID,
				CreatedAt:    l.CreatedAt.Format(time.RFC3339),
				Query:        l.Query,
				Outcome:      l.Outcome,
				Score:        l.Score,
				MatchedQuery: l.MatchedQuery,
				DurationMs:   l.DurationMs,
			}
		}
		writeJSON(w, body)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	var body errorBody
	body.Error.Type = errType
	body.Error.Message = fmt.Sprintf(format, args...)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
