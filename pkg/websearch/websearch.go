// Package websearch is the external web search contract the agentic tool
// loop's web_search tool (§4.F.3) calls through. The wire format of any
// concrete provider is explicitly out of scope (spec.md §6): this package
// defines only the adapter boundary and a thin stdlib-backed client for a
// Tavily-class JSON search API, grounded on the teacher's
// runtime/toolregistry/provider "thin contract, swappable adapter" shape.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Result is one search hit.
type Result struct {
	URL     string
	Title   string
	Snippet string
}

// Searcher is the contract the tool loop's web_search tool depends on.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// HTTPDoer is the subset of *http.Client a Searcher implementation needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TavilyClient is a thin adapter over a Tavily-class search API: POST a
// query, get back a JSON array of {url, title, content}. No third-party
// SDK exists in the example corpus for this API family, and the wire
// contract itself is explicitly out of scope per spec.md §6, so this is
// built directly on net/http rather than speculatively depending on an
// unspecified wire format.
type TavilyClient struct {
	http    HTTPDoer
	baseURL string
	apiKey  string
}

// NewTavilyClient constructs a TavilyClient. baseURL defaults to Tavily's
// production search endpoint when empty.
func NewTavilyClient(httpClient HTTPDoer, baseURL, apiKey string) *TavilyClient {
	if baseURL == "" {
		baseURL = "https://api.tavily.com/search"
	}
	return &TavilyClient{http: httpClient, baseURL: baseURL, apiKey: apiKey}
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (c *TavilyClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	body, err := json.Marshal(tavilyRequest{APIKey: c.apiKey, Query: query, MaxResults: limit})
	if err != nil {
		return nil, fmt.Errorf("websearch: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("websearch: provider returned status %d", resp.StatusCode)
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Result{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}
	return results, nil
}
