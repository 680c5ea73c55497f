package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fourthplaces/seesaw/pkg/extraction/cache"
	"github.com/fourthplaces/seesaw/pkg/scrape"
	"github.com/fourthplaces/seesaw/pkg/websearch"
)

// excerptWindow bounds how much context surrounds a keyword match returned
// by search_page/search_site, keeping tool output small enough that a
// bounded loop can make several calls without exhausting the model's
// context budget.
const excerptWindow = 240

func findExcerpts(content, query string) []string {
	if query == "" || content == "" {
		return nil
	}
	lowerContent := strings.ToLower(content)
	lowerQuery := strings.ToLower(query)

	var excerpts []string
	start := 0
	for {
		idx := strings.Index(lowerContent[start:], lowerQuery)
		if idx < 0 {
			break
		}
		pos := start + idx
		from := pos - excerptWindow/2
		if from < 0 {
			from = 0
		}
		to := pos + len(query) + excerptWindow/2
		if to > len(content) {
			to = len(content)
		}
		excerpts = append(excerpts, strings.TrimSpace(content[from:to]))
		start = pos + len(query)
		if start >= len(content) {
			break
		}
	}
	return excerpts
}

// SearchPageTool implements search_page: keyword + context search inside
// one cached page, identified by its content-hash snapshot id.
type SearchPageTool struct {
	pages cache.PageStore
	// bySnapshot resolves a snapshot id (= content hash, per SPEC_FULL's
	// "snapshot_id is retained as a derived, content-hash-based identifier")
	// back to a (site_url, url) pair, since PageStore is keyed by
	// (SiteURL, URL) rather than by hash.
	bySnapshot map[string]cache.CachedPage
}

// NewSearchPageTool constructs a SearchPageTool. index maps a snapshot id
// (content hash) to its CachedPage, built once per pipeline run from the
// scope's page list.
func NewSearchPageTool(pages cache.PageStore, index map[string]cache.CachedPage) *SearchPageTool {
	return &SearchPageTool{pages: pages, bySnapshot: index}
}

func (t *SearchPageTool) Name() ToolName { return ToolSearchPage }

func (t *SearchPageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"snapshot_id": {"type": "string"},
			"query": {"type": "string"}
		},
		"required": ["snapshot_id", "query"]
	}`)
}

type searchPageInput struct {
	SnapshotID string `json:"snapshot_id"`
	Query      string `json:"query"`
}

func (t *SearchPageTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in searchPageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("search_page: decode input: %w", err)
	}
	page, ok := t.bySnapshot[in.SnapshotID]
	if !ok {
		return nil, fmt.Errorf("search_page: unknown snapshot_id %q", in.SnapshotID)
	}
	excerpts := findExcerpts(page.Content, in.Query)
	return json.Marshal(map[string]any{"excerpts": excerpts})
}

// SearchSiteTool implements search_site: the same keyword search as
// SearchPageTool, but across every cached page for the scope's site.
type SearchSiteTool struct {
	pages   cache.PageStore
	siteURL string
}

// NewSearchSiteTool constructs a SearchSiteTool scoped to one site.
func NewSearchSiteTool(pages cache.PageStore, siteURL string) *SearchSiteTool {
	return &SearchSiteTool{pages: pages, siteURL: siteURL}
}

func (t *SearchSiteTool) Name() ToolName { return ToolSearchSite }

func (t *SearchSiteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
}

type searchSiteInput struct {
	Query string `json:"query"`
}

type siteHit struct {
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
}

func (t *SearchSiteTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in searchSiteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("search_site: decode input: %w", err)
	}

	pages, err := t.pages.ListPages(ctx, t.siteURL)
	if err != nil {
		return nil, fmt.Errorf("search_site: list pages: %w", err)
	}

	var hits []siteHit
	for _, p := range pages {
		for _, excerpt := range findExcerpts(p.Content, in.Query) {
			hits = append(hits, siteHit{URL: p.URL, Excerpt: excerpt})
		}
	}
	return json.Marshal(map[string]any{"results": hits})
}

// WebSearchTool implements web_search, delegating to an external
// Tavily-class search provider.
type WebSearchTool struct {
	searcher websearch.Searcher
}

// NewWebSearchTool constructs a WebSearchTool.
func NewWebSearchTool(searcher websearch.Searcher) *WebSearchTool {
	return &WebSearchTool{searcher: searcher}
}

func (t *WebSearchTool) Name() ToolName { return ToolWebSearch }

func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
}

type webSearchInput struct {
	Query string `json:"query"`
}

func (t *WebSearchTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in webSearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("web_search: decode input: %w", err)
	}

	results, err := t.searcher.Search(ctx, in.Query, 5)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}

	out := make([]map[string]string, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]string{"url": r.URL, "snippet": r.Snippet})
	}
	return json.Marshal(map[string]any{"results": out})
}

// FetchURLTool implements fetch_url, subject to the same SSRF checks as
// ingestion (§4.F.3 "fetch_url(url) -> content: subject to the same SSRF
// checks as ingestion").
type FetchURLTool struct {
	scraper scrape.Scraper
}

// NewFetchURLTool constructs a FetchURLTool. scraper is expected to apply
// its own SSRF guard (both scrape.SimpleScraper and scrape.HeadlessScraper
// do).
func NewFetchURLTool(scraper scrape.Scraper) *FetchURLTool {
	return &FetchURLTool{scraper: scraper}
}

func (t *FetchURLTool) Name() ToolName { return ToolFetchURL }

func (t *FetchURLTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"url": {"type": "string"}},
		"required": ["url"]
	}`)
}

type fetchURLInput struct {
	URL string `json:"url"`
}

func (t *FetchURLTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in fetchURLInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("fetch_url: decode input: %w", err)
	}

	page, err := t.scraper.Scrape(ctx, in.URL)
	if err != nil {
		// Fatal tool errors (invalid URL, blocked host) are returned to the
		// model as a structured error message, not surfaced as a loop-fatal
		// Go error (§4.F.3).
		return json.Marshal(map[string]any{"error": err.Error()})
	}
	return json.Marshal(map[string]any{"content": page.Content})
}
