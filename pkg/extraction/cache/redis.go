package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSummaryCache wraps a SummaryStore of record with a Redis read-through
// layer: GetSummary checks Redis first, falling back to the wrapped store
// on a miss and populating Redis before returning. PutSummary writes
// through to both. This keeps Postgres as the durable source of truth
// while avoiding a round-trip for the common case of re-summarizing
// content a recent pass already processed.
type RedisSummaryCache struct {
	client *redis.Client
	inner  SummaryStore
	ttl    time.Duration
	prefix string
}

// NewRedisSummaryCache constructs a read-through cache in front of inner.
// A ttl of zero disables expiry (summaries are immutable once written,
// keyed by content hash, so an infinite TTL is a reasonable default; a
// finite one just bounds Redis memory growth).
func NewRedisSummaryCache(client *redis.Client, inner SummaryStore, ttl time.Duration) *RedisSummaryCache {
	return &RedisSummaryCache{client: client, inner: inner, ttl: ttl, prefix: "seesaw:page_summary:"}
}

func (c *RedisSummaryCache) GetSummary(ctx context.Context, contentHash string) (*PageSummary, error) {
	raw, err := c.client.Get(ctx, c.prefix+contentHash).Bytes()
	if err == nil {
		var sum PageSummary
		if jsonErr := json.Unmarshal(raw, &sum); jsonErr == nil {
			return &sum, nil
		}
	}

	sum, err := c.inner.GetSummary(ctx, contentHash)
	if err != nil || sum == nil {
		return sum, err
	}

	if encoded, encErr := json.Marshal(sum); encErr == nil {
		_ = c.client.Set(ctx, c.prefix+contentHash, encoded, c.ttl).Err()
	}
	return sum, nil
}

func (c *RedisSummaryCache) PutSummary(ctx context.Context, summary PageSummary) error {
	if err := c.inner.PutSummary(ctx, summary); err != nil {
		return err
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return nil
	}
	_ = c.client.Set(ctx, c.prefix+summary.ContentHash, encoded, c.ttl).Err()
	return nil
}
