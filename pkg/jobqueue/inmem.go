package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InmemStore is a process-local Store for tests and local development.
type InmemStore struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
}

// NewInmemStore constructs an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{jobs: make(map[string]*Job)}
}

func (s *InmemStore) Insert(_ context.Context, j Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.IdempotencyKey != "" {
		for _, id := range s.order {
			existing := s.jobs[id]
			if existing.JobType == j.JobType && existing.IdempotencyKey == j.IdempotencyKey &&
				existing.Status != StatusSucceeded && existing.Status != StatusFailed {
				return existing.ID, nil
			}
		}
	}

	id := uuid.NewString()
	j.ID = id
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	s.jobs[id] = &j
	s.order = append(s.order, id)
	return id, nil
}

func (s *InmemStore) Claim(_ context.Context, _ string, types []string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	var best *Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != StatusPending {
			continue
		}
		if len(types) > 0 && !allowed[j.JobType] {
			continue
		}
		if best == nil || j.Priority > best.Priority {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusRunning
	best.Attempts++
	now := time.Now().UTC()
	best.StartedAt = &now
	cp := *best
	return &cp, nil
}

func (s *InmemStore) MarkSucceeded(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = StatusSucceeded
	now := time.Now().UTC()
	j.FinishedAt = &now
	return nil
}

func (s *InmemStore) MarkFailed(_ context.Context, id string, errMsg string, retryable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.ErrorMessage = errMsg
	if retryable && j.Attempts < j.MaxRetries {
		j.Status = StatusPending
		j.StartedAt = nil
		return nil
	}
	j.Status = StatusFailed
	now := time.Now().UTC()
	j.FinishedAt = &now
	return nil
}
