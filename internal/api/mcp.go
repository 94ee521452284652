package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/websearch/internal/brave"
	"github.com/kalambet/websearch/internal/cache"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Searcher Searcher
	Cache    *cache.Store // optional; stats resource reports disabled when nil
}

// NewMCPServer creates an MCP server exposing web search as a tool.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"websearch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("websearch — deduplicating, rate-limited web search. Repeated or near-duplicate queries are served from a local cache."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("web_search",
			mcp.WithDescription("Search the web. Near-duplicate queries are answered from the local cache without an upstream call."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpWebSearch(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"cache://stats",
			"Search Cache Statistics",
			mcp.WithResourceDescription("Entry count and hit/miss counters of the local query cache"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCacheStats(deps),
	)

	return s
}

func mcpWebSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Searcher.Search(ctx, query)
		if err != nil {
			var statusErr *brave.StatusError
			if errors.As(err, &statusErr) {
				return mcpError(fmt.Sprintf("upstream rejected the search: %d %s", statusErr.Code, statusErr.Status)), nil
			}
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		results, err := brave.ParseWebResults(res.Raw)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to decode results: %v", err)), nil
		}

		type toolResult struct {
			Source       string            `json:"source"`
			MatchedQuery string            `json:"matched_query,omitempty"`
			Results      []brave.WebResult `json:"results"`
		}
		b, err := json.Marshal(toolResult{
			Source:       string(res.Source),
			MatchedQuery: res.MatchedQuery,
			Results:      results,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceCacheStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Cache == nil {
			return nil, fmt.Errorf("cache is disabled")
		}

		b, err := json.Marshal(deps.Cache.Stats())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cache stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
