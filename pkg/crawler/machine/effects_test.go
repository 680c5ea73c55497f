package machine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/crawler/ingestor"
	seesawbus "github.com/fourthplaces/seesaw/pkg/seesaw/bus"
	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
	seesawdispatch "github.com/fourthplaces/seesaw/pkg/seesaw/dispatch"
	seesawmachine "github.com/fourthplaces/seesaw/pkg/seesaw/machine"
)

type fakeIngestor struct {
	pages []ingestor.RawPage
	err   error
}

func (f *fakeIngestor) Name() string { return "fake" }

func (f *fakeIngestor) Discover(_ context.Context, _ ingestor.DiscoverConfig) ([]ingestor.RawPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

func (f *fakeIngestor) FetchSpecific(_ context.Context, _ []string) ([]ingestor.RawPage, error) {
	return nil, nil
}

func TestDiscoverEffectEmitsDiscoveryCompletedWithPageURLs(t *testing.T) {
	effect := DiscoverEffect{Ingestor: &fakeIngestor{pages: []ingestor.RawPage{{URL: "https://a.org/1"}, {URL: "https://a.org/2"}}}}

	events, err := effect.Execute(context.Background(), core.NewCommand(CommandDiscoverResource, DiscoverResourcePayload{
		ResourceID: "res-1", SiteURL: "https://a.org",
	}, "corr-1"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDiscoveryCompleted, events[0].Kind)
	payload := events[0].Payload.(DiscoveryCompletedPayload)
	assert.Equal(t, "res-1", payload.ResourceID)
	assert.Equal(t, []string{"https://a.org/1", "https://a.org/2"}, payload.PageURLs)
}

func TestDiscoverEffectTranslatesIngestorErrorIntoDiscoveryFailedEvent(t *testing.T) {
	effect := DiscoverEffect{Ingestor: &fakeIngestor{err: &ingestor.Error{Kind: ingestor.ErrorTimeout}}}

	events, err := effect.Execute(context.Background(), core.NewCommand(CommandDiscoverResource, DiscoverResourcePayload{
		ResourceID: "res-1", SiteURL: "https://a.org",
	}, "corr-1"))
	require.NoError(t, err, "an ingestor failure is reported as a domain event, not a dispatcher error")
	require.Len(t, events, 1)
	assert.Equal(t, EventDiscoveryFailed, events[0].Kind)
	assert.Equal(t, "res-1", events[0].Payload.(DiscoveryFailedPayload).ResourceID)
}

func TestExtractPageEffectEmitsPageExtracted(t *testing.T) {
	var effect ExtractPageEffect
	events, err := effect.Execute(context.Background(), core.NewCommand(CommandExtractPage, ExtractPagePayload{PageID: "page-1"}, ""))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventPageExtracted, events[0].Kind)
	assert.Equal(t, "page-1", events[0].Payload.(PageExtractedPayload).PageID)
}

// TestSubscribeRoutesFullResourceLifecycleThroughDispatcherAndBackToMachine
// wires bus + Dispatcher + Coordinator + Subscribe the way cmd/worker does,
// and drives one resource through submitted -> discovering -> completed
// entirely through the bus, asserting the discovery_completed event carries
// the discovered pages and the resource machine itself advances past
// Discovering (§4.E's full event -> command -> effect -> event loop).
func TestSubscribeRoutesFullResourceLifecycleThroughDispatcherAndBackToMachine(t *testing.T) {
	bus := seesawbus.New()
	store := seesawmachine.NewInmemStore()
	locker := seesawmachine.NewInmemLocker()

	dispatcher := seesawdispatch.New(busEmitter{bus}, nil)
	require.NoError(t, dispatcher.Register(CommandDiscoverResource, DiscoverEffect{
		Ingestor: &fakeIngestor{pages: []ingestor.RawPage{{URL: "https://a.org/1"}}},
	}))

	coordinator := NewCoordinator(store, locker, seesawdispatch.SingleCommand{Dispatcher: dispatcher})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	Subscribe(ctx, bus, coordinator, 32, nil)

	sub := bus.Subscribe(EventDiscoveryCompleted, 8)
	defer sub.Close()

	bus.Emit(core.NewEvent(EventResourceSubmitted, 1, ResourceSubmittedPayload{
		ResourceID: "res-1", SiteURL: "https://a.org",
	}, "corr-1"))

	select {
	case env := <-sub.C():
		require.False(t, env.Lagged)
		payload := env.Event.Payload.(DiscoveryCompletedPayload)
		assert.Equal(t, []string{"https://a.org/1"}, payload.PageURLs)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discovery_completed")
	}

	// Give the Subscribe loop's own re-routing of discovery_completed a
	// moment to run before asserting the resulting snapshot.
	time.Sleep(10 * time.Millisecond)
	snap, err := store.Load(context.Background(), ResourceMachine{}.Kind(), "res-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	state, err := seesawmachine.JSONCodec[ResourceState]{New: func() ResourceState { return ResourceState{} }}.Decode(snap.State)
	require.NoError(t, err)
	assert.Equal(t, ResourceCompleted, state.Status)
}

// busEmitter adapts seesawbus.Bus to dispatch.Emitter's narrow Emit-only
// surface.
type busEmitter struct {
	bus seesawbus.Bus
}

func (b busEmitter) Emit(e core.Event) { b.bus.Emit(e) }
