package machine

import (
	"context"
	"sync"
	"time"
)

// InmemStore is a process-local Store for tests and single-instance
// deployments.
type InmemStore struct {
	mu   sync.Mutex
	snap map[string]Snapshot
}

// NewInmemStore constructs an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{snap: make(map[string]Snapshot)}
}

func (s *InmemStore) Load(_ context.Context, machineKind, aggregateKey string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snap[key(machineKind, aggregateKey)]
	if !ok {
		return nil, nil
	}
	cp := snap
	cp.State = append([]byte(nil), snap.State...)
	return &cp, nil
}

func (s *InmemStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.UpdatedAt = time.Now().UTC().Unix()
	s.snap[key(snap.MachineKind, snap.AggregateKey)] = snap
	return nil
}

func key(machineKind, aggregateKey string) string {
	return machineKind + "\x00" + aggregateKey
}

// InmemLocker is a process-local Locker backed by a per-key mutex map. It
// satisfies the "per-aggregate lock for the duration of (load, decide,
// save)" requirement within a single process; cross-process locking is the
// responsibility of the Mongo-backed deployment (advisory locks at the
// document level are out of scope here, matching §4.D's description of the
// lock as a shared-resource concern rather than a storage-layer one).
type InmemLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewInmemLocker constructs an empty InmemLocker.
func NewInmemLocker() *InmemLocker {
	return &InmemLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *InmemLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
