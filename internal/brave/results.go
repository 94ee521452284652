package brave

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// WebResult is a thin typed view over one web search result, used for
// display only. The cache always stores the raw response.
type WebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// webSearchBody mirrors the parts of the Brave response we display.
type webSearchBody struct {
	Web struct {
		Results []WebResult `json:"results"`
	} `json:"web"`
}

// ParseWebResults decodes the display view from a raw search response.
// Descriptions are stripped of the HTML highlight markup Brave embeds.
func ParseWebResults(raw json.RawMessage) ([]WebResult, error) {
	var body webSearchBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	results := body.Web.Results
	for i := range results {
		results[i].Title = StripMarkup(results[i].Title)
		results[i].Description = StripMarkup(results[i].Description)
	}
	return results, nil
}

// StripMarkup removes HTML tags (Brave wraps matched terms in <strong>) and
// resolves entities, returning plain text.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var b strings.Builder
	tok := html.NewTokenizer(strings.NewReader(s))
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tok.Text())
		}
	}
}
