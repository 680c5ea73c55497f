package scrape

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func extractTitle(body []byte) string {
	m := titlePattern.FindSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(string(bytes.TrimSpace(m[1])))
}

// HTTPDoer is the subset of *http.Client SimpleScraper needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SimpleScraper fetches one static page over plain HTTP, grounded on
// ingestor.WebIngestor's fetchOne (same SSRF-check-then-GET sequence, with
// no recursive link walk since a scraper only ever handles the one URL it
// is asked for).
type SimpleScraper struct {
	http  HTTPDoer
	guard Guard
}

// NewSimpleScraper constructs a SimpleScraper.
func NewSimpleScraper(httpClient HTTPDoer, guard Guard) *SimpleScraper {
	return &SimpleScraper{http: httpClient, guard: guard}
}

func (s *SimpleScraper) Scrape(ctx context.Context, rawURL string) (Page, error) {
	if err := s.guard.Check(ctx, rawURL); err != nil {
		return Page{}, &Error{Kind: ErrorSecurity, Cause: err}
	}
	if _, err := url.Parse(rawURL); err != nil {
		return Page{}, &Error{Kind: ErrorInvalidURL, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, &Error{Kind: ErrorInvalidURL, Cause: err}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Page{}, &Error{Kind: ErrorHTTP, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Page{}, &Error{Kind: ErrorRateLimited}
	}
	if resp.StatusCode >= 400 {
		return Page{}, &Error{Kind: ErrorHTTP}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Page{}, &Error{Kind: ErrorHTTP, Cause: err}
	}

	return Page{
		URL:         rawURL,
		Content:     string(body),
		Title:       extractTitle(body),
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now().UTC(),
	}, nil
}
