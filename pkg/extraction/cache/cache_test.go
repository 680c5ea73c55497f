package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePageReportsChangedOnFirstWrite(t *testing.T) {
	store := NewInmemPageStore()
	changed, err := store.WritePage(context.Background(), CachedPage{
		SiteURL: "https://example.org", URL: "https://example.org/a", ContentHash: "h1",
	})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestWritePageReportsUnchangedWhenHashMatchesPriorWrite(t *testing.T) {
	store := NewInmemPageStore()
	ctx := context.Background()
	page := CachedPage{SiteURL: "https://example.org", URL: "https://example.org/a", ContentHash: "h1", Content: "v1"}

	_, err := store.WritePage(ctx, page)
	require.NoError(t, err)

	changed, err := store.WritePage(ctx, page)
	require.NoError(t, err)
	assert.False(t, changed, "re-writing the same content_hash must report unchanged (§4.E no-op re-ingest)")
}

func TestWritePageReportsChangedWhenHashDiffers(t *testing.T) {
	store := NewInmemPageStore()
	ctx := context.Background()
	page := CachedPage{SiteURL: "https://example.org", URL: "https://example.org/a", ContentHash: "h1"}

	_, err := store.WritePage(ctx, page)
	require.NoError(t, err)

	page.ContentHash = "h2"
	changed, err := store.WritePage(ctx, page)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestGetPageReturnsNilForUnknownPage(t *testing.T) {
	store := NewInmemPageStore()
	page, err := store.GetPage(context.Background(), "https://example.org", "https://example.org/missing")
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestListPagesFiltersBySiteURL(t *testing.T) {
	store := NewInmemPageStore()
	ctx := context.Background()
	_, _ = store.WritePage(ctx, CachedPage{SiteURL: "https://a.org", URL: "https://a.org/1", ContentHash: "h1"})
	_, _ = store.WritePage(ctx, CachedPage{SiteURL: "https://b.org", URL: "https://b.org/1", ContentHash: "h2"})

	pages, err := store.ListPages(ctx, "https://a.org")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "https://a.org/1", pages[0].URL)
}

func TestSummaryStoreRoundTripsByContentHash(t *testing.T) {
	store := NewInmemSummaryStore()
	ctx := context.Background()

	existing, err := store.GetSummary(ctx, "hash-1")
	require.NoError(t, err)
	assert.Nil(t, existing)

	require.NoError(t, store.PutSummary(ctx, PageSummary{
		ContentHash: "hash-1", Content: "summarized text", CreatedAt: time.Now(),
	}))

	got, err := store.GetSummary(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "summarized text", got.Content)
}
