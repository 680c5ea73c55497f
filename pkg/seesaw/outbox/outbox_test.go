package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

type fakeBus struct {
	emitted []core.Event
}

func (f *fakeBus) Emit(e core.Event) { f.emitted = append(f.emitted, e) }

func TestPublishOnceEmitsAndMarksPublished(t *testing.T) {
	store := NewInmemStore()
	require.NoError(t, store.Write(context.Background(), nil, "resource.submitted.v1", []byte(`"https://example.org"`), "corr-1"))

	b := &fakeBus{}
	pub := NewPublisher(store, b, func(_ string, payload []byte) (any, error) {
		var v string
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}, 10)

	n, err := pub.PublishOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, b.emitted, 1)
	assert.Equal(t, "https://example.org", b.emitted[0].Payload)

	entries, err := store.ClaimUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "published entry must not be reclaimed")
}

func TestPublishOnceLeavesUndecodableEntriesUnpublished(t *testing.T) {
	store := NewInmemStore()
	require.NoError(t, store.Write(context.Background(), nil, "broken.v1", []byte(`not json`), "corr-1"))

	b := &fakeBus{}
	pub := NewPublisher(store, b, func(_ string, payload []byte) (any, error) {
		var v string
		return v, json.Unmarshal(payload, &v)
	}, 10)

	n, err := pub.PublishOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, b.emitted)

	entries, err := store.ClaimUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "undecodable entries stay unpublished for a later retry")
}

func TestCleanupRemovesOnlyOldPublished(t *testing.T) {
	store := NewInmemStore()
	require.NoError(t, store.Write(context.Background(), nil, "x.v1", []byte(`1`), "corr-1"))

	entries, _ := store.ClaimUnpublished(context.Background(), 10)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.MarkPublished(context.Background(), []string{entries[0].ID}, old))

	removed, err := CleanupOlderThan(context.Background(), store, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
