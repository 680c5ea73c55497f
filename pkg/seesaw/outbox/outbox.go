// Package outbox implements the durable event outbox of §4.A / §6: events
// are appended to a table in the same transaction as a business write, then
// a background publisher drains unpublished rows and emits them on the bus
// with at-least-once delivery.
//
// Grounded on original_source/packages/seesaw-rs/src/outbox.rs: same
// schema, same "FOR UPDATE SKIP LOCKED"-equivalent claim discipline, same
// versioned event_type string ("notification.created.v1").
package outbox

import (
	"context"
	"time"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// Entry is a serialized event queued for publication.
type Entry struct {
	ID            string
	EventType     string // versioned, e.g. "notification.created.v1"
	Payload       []byte
	CorrelationId core.CorrelationId
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Tx abstracts the transaction a business write and an outbox write share.
// Concrete Store implementations define what satisfies this (a *sql.Tx, a
// mongo session, ...); outbox.Writer only needs to thread it through.
type Tx any

// Writer appends events to the outbox inside an existing business
// transaction tx.
type Writer interface {
	Write(ctx context.Context, tx Tx, eventType string, payload []byte, corr core.CorrelationId) error
}

// Store is the durable backing store for outbox entries: writes happen
// inside a caller-supplied transaction; reads/claims happen for the
// publisher loop and are expected to use skip-locked semantics so multiple
// publisher instances never double-publish.
type Store interface {
	Writer

	// ClaimUnpublished returns up to limit unpublished entries, created-order,
	// claimed exclusively for this call (skip-locked or equivalent) so a
	// concurrent publisher instance does not also claim them.
	ClaimUnpublished(ctx context.Context, limit int) ([]Entry, error)

	// MarkPublished records that entry ids were successfully emitted on the
	// bus. Entries not marked remain unpublished and are retried by a later
	// ClaimUnpublished call.
	MarkPublished(ctx context.Context, ids []string, publishedAt time.Time) error

	// DeleteOlderThan removes published entries whose PublishedAt predates
	// the retention cutoff (§3 "cleanup removes entries ... older than a
	// retention window").
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Decoder turns a published entry's raw payload back into a core.Event
// payload value, keyed by EventType so old rows keep deserializing under
// their original tag after new versions are introduced.
type Decoder func(eventType string, payload []byte) (any, error)

// Emitter is the minimal bus surface the publisher needs.
type Emitter interface {
	Emit(core.Event)
}

// Publisher drains unpublished outbox entries and emits them on the bus.
// Publish failures (decode errors, emit... though Emit cannot itself fail)
// keep the entry unpublished; PublishOnce is safe to call repeatedly on a
// fixed interval from a background loop.
type Publisher struct {
	store   Store
	bus     Emitter
	decode  Decoder
	batch   int
}

// NewPublisher constructs a Publisher. batch bounds how many entries are
// claimed per PublishOnce call.
func NewPublisher(store Store, bus Emitter, decode Decoder, batch int) *Publisher {
	if batch <= 0 {
		batch = 100
	}
	return &Publisher{store: store, bus: bus, decode: decode, batch: batch}
}

// PublishOnce claims a batch of unpublished entries, emits the ones that
// decode successfully, and marks those as published. Entries whose payload
// fails to decode are left unpublished so a later pass (after a decoder fix
// or schema backfill) can retry them; this is the "publish failure keeps the
// entry unpublished" rule from §4.A.
func (p *Publisher) PublishOnce(ctx context.Context) (published int, err error) {
	entries, err := p.store.ClaimUnpublished(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var ok []string
	for _, e := range entries {
		payload, decErr := p.decode(e.EventType, e.Payload)
		if decErr != nil {
			continue
		}
		p.bus.Emit(core.Event{
			Kind:          e.EventType,
			Payload:       payload,
			CorrelationId: e.CorrelationId,
			OccurredAt:    e.CreatedAt,
		})
		ok = append(ok, e.ID)
	}

	if len(ok) == 0 {
		return 0, nil
	}
	if err := p.store.MarkPublished(ctx, ok, time.Now().UTC()); err != nil {
		return 0, err
	}
	return len(ok), nil
}

// Run polls PublishOnce on interval until ctx is cancelled. An error from a
// single pass does not stop the loop: it is passed to onError when onError
// is non-nil, and the next tick tries again rather than aborting (§7).
func (p *Publisher) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// CleanupOlderThan runs a single cleanup pass removing published entries
// older than retention.
func CleanupOlderThan(ctx context.Context, store Store, retention time.Duration) (int, error) {
	return store.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
}
