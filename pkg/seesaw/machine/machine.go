// Package machine implements the §4.C contract: a pure decision function
// mapping (state, event) to at most one Command, and the durable variant
// that loads/persists its state around that decision.
package machine

import (
	"context"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// Machine is the non-durable decision contract. Decide may inspect and
// mutate internal state but must never perform IO; the caller owns
// threading events into it and commands out of it.
type Machine interface {
	Decide(ctx context.Context, event core.Event) (*core.Command, error)
}

// MachineFunc adapts a plain function to Machine for stateless decisions.
type MachineFunc func(ctx context.Context, event core.Event) (*core.Command, error)

func (f MachineFunc) Decide(ctx context.Context, event core.Event) (*core.Command, error) {
	return f(ctx, event)
}

// State is the opaque, serializable state a PersistentMachine carries
// between invocations. Changed reports whether Decide mutated it since it
// was loaded, so the runner knows whether a new revision must be persisted
// (§4.C "if decide did not change state, revision does not advance").
type State interface {
	Changed() bool
}

// PersistentMachine is keyed by an aggregate key (e.g. a resource id or page
// url) and is loaded from and saved to a Snapshot store around each decision.
type PersistentMachine[S State] interface {
	// Kind identifies this machine type for snapshot storage, e.g.
	// "resource_discovery" or "page_lifecycle".
	Kind() string
	// Initial constructs the state for an aggregate with no prior snapshot.
	Initial() S
	// Decide runs the pure decision against the loaded state, returning the
	// command to dispatch, if any. It must not perform IO.
	Decide(ctx context.Context, state S, event core.Event) (S, *core.Command, error)
}

// Snapshot is the durable record of a PersistentMachine's state for one
// aggregate key (§4.B glossary "Machine snapshot").
type Snapshot struct {
	MachineKind  string
	AggregateKey string
	Revision     int
	State        []byte
	UpdatedAt    int64 // unix seconds; set by the store on save
}

// Store persists and retrieves snapshots keyed by (machine_kind,
// aggregate_key). Implementations must guarantee that concurrent Run calls
// for the same (kind, key) serialize — the §4.D "per-aggregate lock for the
// duration of (load, decide, save)" requirement.
type Store interface {
	Load(ctx context.Context, machineKind, aggregateKey string) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Codec serializes and deserializes a machine's State for storage. Kept
// separate from Store so the same store can back machines with different
// state shapes.
type Codec[S State] interface {
	Encode(s S) ([]byte, error)
	Decode(b []byte) (S, error)
}

// Locker serializes (load, decide, save) per aggregate key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Runner drives one PersistentMachine through the load -> decide -> save ->
// dispatch sequence, in that strict order (§4.C).
type Runner[S State] struct {
	machine PersistentMachine[S]
	store   Store
	codec   Codec[S]
	locker  Locker
	bus     Emitter
}

// Emitter is the bus surface Runner needs to emit the resulting command via
// a dispatcher, kept as a narrow interface so tests can fake it.
type Emitter interface {
	Dispatch(ctx context.Context, cmd core.Command) error
}

// NewRunner constructs a Runner for the given machine, snapshot store, and
// codec. locker may be nil, in which case no per-aggregate locking is
// performed (acceptable only when the caller already serializes calls for
// the same aggregate key, e.g. single-threaded tests).
func NewRunner[S State](m PersistentMachine[S], store Store, codec Codec[S], locker Locker, bus Emitter) *Runner[S] {
	return &Runner[S]{machine: m, store: store, codec: codec, locker: locker, bus: bus}
}

// Run executes the full load-decide-save-dispatch sequence for one event
// against the aggregate identified by aggregateKey.
//
// Ordering is unconditional: save precedes dispatch even though a crash
// between them means the command is lost (recoverable only via event
// replay), because a crash before save must look like the decision never
// happened (§4.C).
func (r *Runner[S]) Run(ctx context.Context, aggregateKey string, event core.Event) error {
	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, aggregateKey)
		if err != nil {
			return core.Wrap(core.CategoryTransient, "machine: acquire aggregate lock", err)
		}
		defer unlock()
	}

	state, revision, err := r.load(ctx, aggregateKey)
	if err != nil {
		return err
	}

	newState, cmd, err := r.machine.Decide(ctx, state, event)
	if err != nil {
		return core.Wrap(core.CategoryFatal, "machine: decide", err)
	}

	if newState.Changed() {
		encoded, err := r.codec.Encode(newState)
		if err != nil {
			return core.Wrap(core.CategoryFatal, "machine: encode state", err)
		}
		if err := r.store.Save(ctx, Snapshot{
			MachineKind:  r.machine.Kind(),
			AggregateKey: aggregateKey,
			Revision:     revision + 1,
			State:        encoded,
		}); err != nil {
			return core.Wrap(core.CategoryTransient, "machine: save snapshot", err)
		}
	}

	if cmd == nil {
		return nil
	}
	if err := r.bus.Dispatch(ctx, *cmd); err != nil {
		return core.Wrap(core.CategoryTransient, "machine: dispatch decided command", err)
	}
	return nil
}

func (r *Runner[S]) load(ctx context.Context, aggregateKey string) (S, int, error) {
	var zero S
	snap, err := r.store.Load(ctx, r.machine.Kind(), aggregateKey)
	if err != nil {
		return zero, 0, core.Wrap(core.CategoryTransient, "machine: load snapshot", err)
	}
	if snap == nil {
		return r.machine.Initial(), 0, nil
	}
	state, err := r.codec.Decode(snap.State)
	if err != nil {
		return zero, 0, core.Wrap(core.CategoryFatal, "machine: decode snapshot state", err)
	}
	return state, snap.Revision, nil
}
