// Package scrape implements the two Web scraper/ingestor variants
// spec.md §6 names beyond the crawler's own recursive walk: a headless
// browser for JS-heavy pages and confirmation-link following (the
// confirm_newsletter and subscribe_newsletter workflows), and a simple
// HTTP scraper for static pages (the resource_link workflow's "scrape one
// URL"). Both apply the same SSRF guard as the crawler before any outbound
// request.
package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/fourthplaces/seesaw/pkg/crawler/ingestor"
)

// Page is the uniform output of either scraper variant, intentionally
// shaped like ingestor.RawPage so downstream extraction code never branches
// on which scraper produced it.
type Page struct {
	URL         string
	Content     string
	Title       string
	ContentType string
	FetchedAt   time.Time
}

// ToRawPage adapts a Page into the crawler's uniform ingestor.RawPage, so
// a scraped page can flow through the same content-hash/cache discipline
// (§4.E) as a crawled one.
func (p Page) ToRawPage() ingestor.RawPage {
	return ingestor.RawPage{
		URL:         p.URL,
		Content:     p.Content,
		Title:       p.Title,
		ContentType: p.ContentType,
		FetchedAt:   p.FetchedAt,
		Metadata:    map[string]string{"scraper": "scrape"},
	}
}

// Guard is the same narrow SSRF-check surface ingestor.Guard exposes, kept
// as its own type so this package does not import ingestor for more than
// the RawPage shape.
type Guard interface {
	Check(ctx context.Context, rawURL string) error
}

// Scraper fetches one URL's rendered content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (Page, error)
}

// ErrorKind reuses the ingestor.ErrorKind taxonomy: a scraper is just a
// single-URL ingestor, so callers that already branch on
// ingestor.ErrorKind (the extraction pipeline, the workflow layer) can
// treat scrape errors the same way.
type ErrorKind = ingestor.ErrorKind

const (
	ErrorSecurity    = ingestor.ErrorSecurity
	ErrorHTTP        = ingestor.ErrorHTTP
	ErrorRateLimited = ingestor.ErrorRateLimited
	ErrorInvalidURL  = ingestor.ErrorInvalidURL
	ErrorTimeout     = ingestor.ErrorTimeout
)

// Error is returned by every Scraper implementation on failure.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scrape: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("scrape: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }
