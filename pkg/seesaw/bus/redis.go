package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// RedisGroupBus fans committed events out over Redis Streams consumer
// groups, giving the bounded-queue-with-lagged-signal contract of §5
// "Backpressure" cross-process reach: a late subscriber whose consumer
// group falls behind the stream's MAXLEN gets entries trimmed out from
// under it and must resynchronize from durable sources, exactly like the
// in-process Bus's dropped-queue behavior.
//
// RedisGroupBus wraps the in-process Bus for same-process fan-out and adds
// a publish-to-stream step so other processes sharing the same Redis
// instance observe the same events.
type RedisGroupBus struct {
	inner  Bus
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisGroupBus constructs a RedisGroupBus publishing to the given stream
// key with the given trim length (events beyond maxLen are approximately
// trimmed, matching Redis's MAXLEN ~ semantics).
func NewRedisGroupBus(client *redis.Client, stream string, maxLen int64) *RedisGroupBus {
	return &RedisGroupBus{inner: New(), client: client, stream: stream, maxLen: maxLen}
}

// Emit fans the event out locally and publishes it to the shared stream.
// Stream publish failure is logged by the caller's telemetry wrapper, never
// returned: emission cannot fail per the §4.A contract.
func (b *RedisGroupBus) Emit(event core.Event) {
	b.inner.Emit(event)

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return
	}
	_ = b.client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":       event.Kind,
			"version":    event.Version,
			"payload":    payload,
			"corr":       string(event.CorrelationId),
			"occurredAt": event.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
}

func (b *RedisGroupBus) Subscribe(kind string, capacity int) Subscription {
	return b.inner.Subscribe(kind, capacity)
}

func (b *RedisGroupBus) DispatchRequest(ctx context.Context, event core.Event, match Matcher) (any, error) {
	return b.inner.DispatchRequest(ctx, event, match)
}

// ConsumeGroup reads the shared stream as a named consumer group, decoding
// entries back into core.Event and re-emitting them on the local in-process
// bus. If the consumer's last-delivered position has been trimmed off the
// stream (it lagged beyond maxLen), Redis returns entries starting from
// whatever remains; callers distinguish this from normal operation by
// tracking the last-seen stream ID gap and should treat a gap as a lagged
// signal per §5.
func (b *RedisGroupBus) ConsumeGroup(ctx context.Context, group, consumer string, decode func(kind string, payload []byte) (any, error)) error {
	_ = b.client.XGroupCreateMkStream(ctx, b.stream, group, "$").Err()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    64,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return err
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				kind, _ := msg.Values["kind"].(string)
				payloadStr, _ := msg.Values["payload"].(string)
				corr, _ := msg.Values["corr"].(string)

				payload, decErr := decode(kind, []byte(payloadStr))
				if decErr == nil {
					b.inner.Emit(core.Event{
						Kind:          kind,
						Payload:       payload,
						CorrelationId: core.CorrelationId(corr),
						OccurredAt:    time.Now().UTC(),
					})
				}
				_ = b.client.XAck(ctx, b.stream, group, msg.ID).Err()
			}
		}
	}
}
