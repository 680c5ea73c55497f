// Package cache is the storage adapter §3/§4.F.1 names as the extraction
// pipeline's exclusive owner of cached pages and page summaries: a
// CachedPage holds the content-hash-keyed raw content written through on
// every ingest, and a PageSummary holds the content-hash-keyed Pass 1
// output. Both share the same "unchanged content never re-summarizes"
// discipline — a lookup by content_hash either returns the prior result or
// nothing, never a partial/stale one.
package cache

import (
	"context"
	"time"
)

// CachedPage is the durable record a RawPage becomes once written through
// the storage adapter (§4.E "Content discipline").
type CachedPage struct {
	SiteURL     string
	URL         string
	ContentHash string
	Content     string
	Title       string
	ContentType string
	FetchedAt   time.Time
}

// PageSummary is the Pass 1 output, keyed by ContentHash so a re-ingest with
// unchanged content is a cache hit rather than a fresh LLM call (§4.F.1).
type PageSummary struct {
	ContentHash string
	SnapshotID  string
	URL         string
	Content     string
	PromptHash  string
	CreatedAt   time.Time
}

// PageStore is the shared-read, serialized-write-on-(site_url, url) storage
// adapter of §5 "Shared resources". WritePage upserts keyed by (SiteURL,
// URL); a write with an unchanged ContentHash is still idempotent (same
// row), but callers should treat it as a no-op per §4.E and skip
// downstream work, which is why WritePage reports whether the hash
// actually changed.
type PageStore interface {
	// WritePage upserts page and reports changed=true iff no prior row
	// existed for (SiteURL, URL) or its ContentHash differs from the
	// stored one.
	WritePage(ctx context.Context, page CachedPage) (changed bool, err error)
	// GetPage returns the current cached page for (siteURL, url), or nil
	// if none has ever been written.
	GetPage(ctx context.Context, siteURL, url string) (*CachedPage, error)
	// ListPages returns every cached page for a site, for scope-wide
	// passes (Pass 2 candidate extraction, Pass 4 merge).
	ListPages(ctx context.Context, siteURL string) ([]CachedPage, error)
}

// SummaryStore is the Pass 1 cache: a lookup by content hash returns the
// prior summary verbatim, or (nil, nil) if none has been stored.
type SummaryStore interface {
	GetSummary(ctx context.Context, contentHash string) (*PageSummary, error)
	PutSummary(ctx context.Context, summary PageSummary) error
}
