package machine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// discoveryState is a minimal persistent machine state modeling §4.C's
// "resource discovery" example: {Pending, Discovering, Completed, Failed}.
type discoveryState struct {
	Status  string
	Version int
	changed bool
}

func (s discoveryState) Changed() bool { return s.changed }

type discoveryMachine struct{}

func (discoveryMachine) Kind() string { return "resource_discovery" }

func (discoveryMachine) Initial() discoveryState {
	return discoveryState{Status: "pending"}
}

func (discoveryMachine) Decide(_ context.Context, s discoveryState, event core.Event) (discoveryState, *core.Command, error) {
	s.changed = false
	switch event.Kind {
	case "resource.submitted.v1":
		s.Status = "discovering"
		s.changed = true
		cmd := core.NewCommand("resource.discover", event.Payload, event.CorrelationId)
		return s, &cmd, nil
	case "resource.discovery_completed.v1":
		s.Status = "completed"
		s.Version++
		s.changed = true
		return s, nil, nil
	default:
		return s, nil, nil
	}
}

type fakeEmitter struct {
	dispatched []core.Command
}

func (f *fakeEmitter) Dispatch(_ context.Context, cmd core.Command) error {
	f.dispatched = append(f.dispatched, cmd)
	return nil
}

func newRunner() (*Runner[discoveryState], *InmemStore, *fakeEmitter) {
	store := NewInmemStore()
	emitter := &fakeEmitter{}
	codec := JSONCodec[discoveryState]{New: func() discoveryState { return discoveryState{} }}
	return NewRunner[discoveryState](discoveryMachine{}, store, codec, NewInmemLocker(), emitter), store, emitter
}

func TestRunLoadsInitialStateWhenNoSnapshotExists(t *testing.T) {
	r, store, emitter := newRunner()

	err := r.Run(context.Background(), "res-1", core.NewEvent("resource.submitted.v1", 1, "https://example.org", "corr-1"))
	require.NoError(t, err)

	snap, err := store.Load(context.Background(), "resource_discovery", "res-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Revision, "first persisted change always lands at revision 1")

	require.Len(t, emitter.dispatched, 1)
	assert.Equal(t, "resource.discover", emitter.dispatched[0].Kind)
}

func TestRunDoesNotAdvanceRevisionWhenStateUnchanged(t *testing.T) {
	r, store, _ := newRunner()

	require.NoError(t, r.Run(context.Background(), "res-2", core.NewEvent("resource.submitted.v1", 1, nil, "corr-2")))
	require.NoError(t, r.Run(context.Background(), "res-2", core.NewEvent("some.unrelated.event.v1", 1, nil, "corr-2")))

	snap, err := store.Load(context.Background(), "resource_discovery", "res-2")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Revision, "an event that decide() ignores must not bump the revision")
}

func TestRunPersistsBeforeDispatching(t *testing.T) {
	r, store, emitter := newRunner()

	require.NoError(t, r.Run(context.Background(), "res-3", core.NewEvent("resource.submitted.v1", 1, nil, "corr-3")))

	snap, err := store.Load(context.Background(), "resource_discovery", "res-3")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Revision, "snapshot must already be saved by the time Run returns, ahead of/alongside dispatch")
	require.Len(t, emitter.dispatched, 1)
}

func TestRunAcrossTwoEventsAccumulatesRevisions(t *testing.T) {
	r, store, _ := newRunner()

	require.NoError(t, r.Run(context.Background(), "res-4", core.NewEvent("resource.submitted.v1", 1, nil, "corr-4")))
	require.NoError(t, r.Run(context.Background(), "res-4", core.NewEvent("resource.discovery_completed.v1", 1, nil, "corr-4")))

	snap, err := store.Load(context.Background(), "resource_discovery", "res-4")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Revision)

	decoded, err := JSONCodec[discoveryState]{New: func() discoveryState { return discoveryState{} }}.Decode(snap.State)
	require.NoError(t, err)
	assert.Equal(t, "completed", decoded.Status)
	assert.Equal(t, 1, decoded.Version)
}

func TestInmemLockerSerializesSameKey(t *testing.T) {
	l := NewInmemLocker()

	unlock1, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		unlock2, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)
		unlock2()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Lock on the same key must not proceed before the first unlocks")
	default:
	}
	unlock1()
	<-done
}
