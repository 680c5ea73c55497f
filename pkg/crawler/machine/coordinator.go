package machine

import (
	"context"
	"fmt"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
	seesawmachine "github.com/fourthplaces/seesaw/pkg/seesaw/machine"
)

// aggregateKeyed is implemented by every event payload this Coordinator
// routes, so routing never has to type-switch on the concrete payload type
// to find the id an event belongs to.
type aggregateKeyed interface {
	aggregateKey() string
}

func (p ResourceSubmittedPayload) aggregateKey() string     { return p.ResourceID }
func (p PageContentChangedPayload) aggregateKey() string    { return p.PageID }
func (p PageExtractionStartedPayload) aggregateKey() string { return p.PageID }

// ResourceIDPayload carries only the resource id, for events
// (DiscoveryCompleted, DiscoveryFailed) that need nothing else to route or
// decide.
type ResourceIDPayload struct{ ResourceID string }

func (p ResourceIDPayload) aggregateKey() string { return p.ResourceID }

type PageIDPayload struct{ PageID string }

func (p PageIDPayload) aggregateKey() string { return p.PageID }

// Coordinator routes each event to the resource or page machine its
// aggregate id belongs to, per §4.E: "Holds one resource machine per
// resource id and one page machine per page id... instantiated lazily on
// first event for an aggregate." Both machines here are stateless decision
// functions (machine.PersistentMachine implementations carry no per-id
// memory of their own); the per-aggregate state that would otherwise
// require an in-memory instance-per-id map lives in the snapshot Store
// instead, so "lazy instantiation" is realized by the Store returning a
// fresh Initial() on first Load for a key rather than by a Go-level cache
// of machine objects.
type Coordinator struct {
	resources *seesawmachine.Runner[ResourceState]
	pages     *seesawmachine.Runner[PageState]
}

// NewCoordinator wires a resource and a page Runner sharing one snapshot
// store, codec family, locker, and command emitter.
func NewCoordinator(store seesawmachine.Store, locker seesawmachine.Locker, bus seesawmachine.Emitter) *Coordinator {
	return &Coordinator{
		resources: seesawmachine.NewRunner[ResourceState](
			ResourceMachine{}, store, seesawmachine.JSONCodec[ResourceState]{New: func() ResourceState { return ResourceState{} }}, locker, bus,
		),
		pages: seesawmachine.NewRunner[PageState](
			PageMachine{}, store, seesawmachine.JSONCodec[PageState]{New: func() PageState { return PageState{} }}, locker, bus,
		),
	}
}

// Route dispatches event to the resource or page machine, keyed by the
// aggregate id carried in its payload. Events whose Kind this Coordinator
// does not recognize are rejected rather than silently dropped, so a
// misrouted event is visible immediately rather than disappearing.
func (c *Coordinator) Route(ctx context.Context, event core.Event) error {
	keyed, ok := event.Payload.(aggregateKeyed)
	if !ok {
		return fmt.Errorf("crawler/machine: coordinator: event %q payload does not carry an aggregate key", event.Kind)
	}
	key := keyed.aggregateKey()

	switch event.Kind {
	case EventResourceSubmitted, EventDiscoveryCompleted, EventDiscoveryFailed:
		return c.resources.Run(ctx, key, event)
	case EventPageFlagged, EventPageUnflagged, EventPageContentChanged,
		EventPageExtractionStarted, EventPageExtracted:
		return c.pages.Run(ctx, key, event)
	default:
		return fmt.Errorf("crawler/machine: coordinator: unrecognized event kind %q", event.Kind)
	}
}
