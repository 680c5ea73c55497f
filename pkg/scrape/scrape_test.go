package scrape

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuard struct {
	err error
}

func (g *fakeGuard) Check(ctx context.Context, rawURL string) error { return g.err }

type fakeDoer struct {
	statusCode int
	body       string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	status := f.statusCode
	if status == 0 {
		status = 200
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestSimpleScraperRejectsURLsTheGuardBlocks(t *testing.T) {
	scraper := NewSimpleScraper(&fakeDoer{}, &fakeGuard{err: errors.New("blocked")})

	_, err := scraper.Scrape(context.Background(), "http://169.254.169.254/latest/meta-data")
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrorSecurity, se.Kind)
}

func TestSimpleScraperExtractsTitleAndBody(t *testing.T) {
	doer := &fakeDoer{body: "<html><head><title>Food Pantry</title></head><body>hello</body></html>"}
	scraper := NewSimpleScraper(doer, &fakeGuard{})

	page, err := scraper.Scrape(context.Background(), "https://example.org/pantry")
	require.NoError(t, err)
	assert.Equal(t, "Food Pantry", page.Title)
	assert.Contains(t, page.Content, "hello")
}

func TestSimpleScraperMapsRateLimitStatus(t *testing.T) {
	doer := &fakeDoer{statusCode: 429}
	scraper := NewSimpleScraper(doer, &fakeGuard{})

	_, err := scraper.Scrape(context.Background(), "https://example.org/pantry")
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrorRateLimited, se.Kind)
}

func TestSimpleScraperMapsHTTPErrorStatus(t *testing.T) {
	doer := &fakeDoer{statusCode: 500}
	scraper := NewSimpleScraper(doer, &fakeGuard{})

	_, err := scraper.Scrape(context.Background(), "https://example.org/pantry")
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrorHTTP, se.Kind)
}

func TestPageToRawPageCarriesScraperMetadata(t *testing.T) {
	page := Page{URL: "https://example.org", Content: "hi", Title: "Hi"}
	raw := page.ToRawPage()
	assert.Equal(t, "scrape", raw.Metadata["scraper"])
	assert.Equal(t, page.Content, raw.Content)
}

func TestHeadlessScraperRejectsURLsTheGuardBlocksWithoutLaunchingABrowser(t *testing.T) {
	h := NewHeadlessScraper(&fakeGuard{err: errors.New("blocked")}, 0)

	_, err := h.Scrape(context.Background(), "http://10.0.0.5/internal")
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrorSecurity, se.Kind)
}

func TestFollowConfirmationLinkRejectsURLsTheGuardBlocksWithoutLaunchingABrowser(t *testing.T) {
	h := NewHeadlessScraper(&fakeGuard{err: errors.New("blocked")}, 0)

	ok, _, err := h.FollowConfirmationLink(context.Background(), "http://127.0.0.1/confirm", []string{"subscribed"})
	require.Error(t, err)
	assert.False(t, ok)
}
