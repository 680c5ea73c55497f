package ingestor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowGuard struct{ denyURL string }

func (g *allowGuard) Check(_ context.Context, u string) error {
	if g.denyURL != "" && u == g.denyURL {
		return &Error{Kind: ErrorSecurity}
	}
	return nil
}

type fakeDoer struct {
	responses map[string]string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	body, ok := f.responses[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestContentHashIsStableAcrossWhitespaceVariation(t *testing.T) {
	a := RawPage{Content: "Hello   world\n\n"}
	b := RawPage{Content: "Hello world"}
	assert.Equal(t, a.ContentHash(), b.ContentHash())
}

func TestContentHashDiffersOnRealChange(t *testing.T) {
	a := RawPage{Content: "Hello world"}
	b := RawPage{Content: "Goodbye world"}
	assert.NotEqual(t, a.ContentHash(), b.ContentHash())
}

func TestWebIngestorDiscoverWalksLinksWithinDepth(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"https://example.org/": `<html><title>Home</title><body><a href="/about">About</a></body></html>`,
		"https://example.org/about": `<html><title>About</title><body>no links here</body></html>`,
	}}
	w := NewWebIngestor(doer, &allowGuard{}, 1000, 10)

	pages, err := w.Discover(context.Background(), DiscoverConfig{URL: "https://example.org/", MaxDepth: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Home", pages[0].Title)
}

func TestWebIngestorDiscoverDoesNotExceedMaxDepth(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"https://example.org/": `<a href="/a">a</a>`,
		"https://example.org/a": `<a href="/b">b</a>`,
		"https://example.org/b": `no links`,
	}}
	w := NewWebIngestor(doer, &allowGuard{}, 1000, 10)

	pages, err := w.Discover(context.Background(), DiscoverConfig{URL: "https://example.org/", MaxDepth: 0, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, pages, 1, "max_depth=0 must fetch only the seed URL")
}

func TestWebIngestorDiscoverFailsWhenSeedURLIsBlocked(t *testing.T) {
	w := NewWebIngestor(&fakeDoer{}, &allowGuard{denyURL: "https://blocked.example/"}, 1000, 10)

	_, err := w.Discover(context.Background(), DiscoverConfig{URL: "https://blocked.example/", Limit: 10})
	require.Error(t, err)
	assert.Equal(t, ErrorSecurity, err.(*Error).Kind)
}

func TestWebIngestorDiscoverSkipsBlockedLinksButContinues(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"https://example.org/":      `<a href="/ok">ok</a><a href="https://blocked.example/">blocked</a>`,
		"https://example.org/ok":    `no links`,
	}}
	w := NewWebIngestor(doer, &allowGuard{denyURL: "https://blocked.example/"}, 1000, 10)

	pages, err := w.Discover(context.Background(), DiscoverConfig{URL: "https://example.org/", MaxDepth: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, pages, 2, "a blocked link is skipped, not fatal to the whole crawl")
}

func TestWebIngestorDiscoverReportsMaxPagesReached(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"https://example.org/":  `<a href="/a">a</a><a href="/b">b</a>`,
		"https://example.org/a": `no links`,
		"https://example.org/b": `no links`,
	}}
	w := NewWebIngestor(doer, &allowGuard{}, 1000, 10)

	_, err := w.Discover(context.Background(), DiscoverConfig{URL: "https://example.org/", MaxDepth: 1, Limit: 1})
	require.Error(t, err)
	assert.Equal(t, ErrorMaxPagesReached, err.(*Error).Kind)
}

type fakeSocialClient struct {
	posts []SocialPost
	err   error
}

func (f *fakeSocialClient) ListPosts(_ context.Context, _ string, _ int) ([]SocialPost, error) {
	return f.posts, f.err
}

func TestSocialIngestorDiscoverRequiresHandle(t *testing.T) {
	ig := NewInstagramIngestor(&fakeSocialClient{})
	_, err := ig.Discover(context.Background(), DiscoverConfig{})
	require.Error(t, err)
}

func TestSocialIngestorDiscoverMapsPostsToRawPages(t *testing.T) {
	ig := NewFacebookIngestor(&fakeSocialClient{posts: []SocialPost{
		{ID: "1", Permalink: "https://facebook.com/p/1", Caption: "hello"},
	}})
	pages, err := ig.Discover(context.Background(), DiscoverConfig{Options: map[string]string{"handle": "acme"}})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "facebook", pages[0].Metadata["platform"])
}

func TestSocialIngestorFetchSpecificIsUnsupported(t *testing.T) {
	ig := NewXIngestor(&fakeSocialClient{})
	pages, err := ig.FetchSpecific(context.Background(), []string{"https://x.com/a"})
	require.NoError(t, err)
	assert.Empty(t, pages)
}
