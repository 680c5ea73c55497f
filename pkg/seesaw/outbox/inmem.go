package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// InmemStore is an in-memory Store for tests and local development. Its
// methods are guarded by a mutex, but ClaimUnpublished records no claim:
// until MarkPublished is called, every ClaimUnpublished call returns the
// same unpublished entries, so callers sharing one instance can claim the
// same entry.
type InmemStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

// NewInmemStore constructs an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{entries: make(map[string]*Entry)}
}

func (s *InmemStore) Write(_ context.Context, _ Tx, eventType string, payload []byte, corr core.CorrelationId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.entries[id] = &Entry{
		ID:            id,
		EventType:     eventType,
		Payload:       append([]byte(nil), payload...),
		CorrelationId: corr,
		CreatedAt:     time.Now().UTC(),
	}
	s.order = append(s.order, id)
	return nil
}

func (s *InmemStore) ClaimUnpublished(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		e := s.entries[id]
		if e.PublishedAt == nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *InmemStore) MarkPublished(_ context.Context, ids []string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := publishedAt
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.PublishedAt = &at
		}
	}
	return nil
}

func (s *InmemStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	kept := s.order[:0:0]
	for _, id := range s.order {
		e := s.entries[id]
		if e.PublishedAt != nil && e.PublishedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}
