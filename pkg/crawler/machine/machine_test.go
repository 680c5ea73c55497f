package machine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
	seesawmachine "github.com/fourthplaces/seesaw/pkg/seesaw/machine"
)

type fakeEmitter struct {
	dispatched []core.Command
}

func (f *fakeEmitter) Dispatch(_ context.Context, cmd core.Command) error {
	f.dispatched = append(f.dispatched, cmd)
	return nil
}

func newCoordinator(emitter seesawmachine.Emitter) *Coordinator {
	return NewCoordinator(seesawmachine.NewInmemStore(), seesawmachine.NewInmemLocker(), emitter)
}

func TestResourceMachineSubmittedEmitsDiscoverCommand(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newCoordinator(emitter)

	err := c.Route(context.Background(), core.NewEvent(EventResourceSubmitted, 1, ResourceSubmittedPayload{
		ResourceID: "res-1", SiteURL: "https://example.org", MaxDepth: 2,
	}, "corr-1"))
	require.NoError(t, err)

	require.Len(t, emitter.dispatched, 1)
	assert.Equal(t, CommandDiscoverResource, emitter.dispatched[0].Kind)
	payload := emitter.dispatched[0].Payload.(DiscoverResourcePayload)
	assert.Equal(t, "res-1", payload.ResourceID)
	assert.Equal(t, 2, payload.MaxDepth)
}

func TestResourceMachineIgnoresSecondSubmissionWhileDiscovering(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newCoordinator(emitter)
	ctx := context.Background()

	submit := func() error {
		return c.Route(ctx, core.NewEvent(EventResourceSubmitted, 1, ResourceSubmittedPayload{
			ResourceID: "res-1", SiteURL: "https://example.org",
		}, ""))
	}
	require.NoError(t, submit())
	require.NoError(t, submit())

	assert.Len(t, emitter.dispatched, 1, "a resource already Discovering must not re-emit DiscoverResource")
}

func TestResourceMachineCompletionEmitsNoCommand(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newCoordinator(emitter)
	ctx := context.Background()

	require.NoError(t, c.Route(ctx, core.NewEvent(EventResourceSubmitted, 1, ResourceSubmittedPayload{
		ResourceID: "res-1", SiteURL: "https://example.org",
	}, "")))
	require.NoError(t, c.Route(ctx, core.NewEvent(EventDiscoveryCompleted, 1, ResourceIDPayload{
		ResourceID: "res-1",
	}, "")))

	assert.Len(t, emitter.dispatched, 1, "DiscoveryCompleted emits no command")
}

func TestResourceMachineFailureHasNoAutoRetry(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newCoordinator(emitter)
	ctx := context.Background()

	require.NoError(t, c.Route(ctx, core.NewEvent(EventResourceSubmitted, 1, ResourceSubmittedPayload{
		ResourceID: "res-1", SiteURL: "https://example.org",
	}, "")))
	require.NoError(t, c.Route(ctx, core.NewEvent(EventDiscoveryFailed, 1, ResourceIDPayload{
		ResourceID: "res-1",
	}, "")))

	assert.Len(t, emitter.dispatched, 1, "DiscoveryFailed must not itself trigger a retry command")
}

func TestPageMachineFlagThenExtractionStartedEmitsExtractPageWithID(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newCoordinator(emitter)
	ctx := context.Background()

	require.NoError(t, c.Route(ctx, core.NewEvent(EventPageFlagged, 1, PageIDPayload{PageID: "page-1"}, "")))
	require.NoError(t, c.Route(ctx, core.NewEvent(EventPageExtractionStarted, 1, PageExtractionStartedPayload{
		PageID: "page-1",
	}, "")))

	require.Len(t, emitter.dispatched, 1)
	assert.Equal(t, CommandExtractPage, emitter.dispatched[0].Kind)
	assert.Equal(t, "page-1", emitter.dispatched[0].Payload.(ExtractPagePayload).PageID)
}

func TestPageMachineContentChangeFlagsOnlyWhenHashDiffers(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newCoordinator(emitter)
	ctx := context.Background()

	require.NoError(t, c.Route(ctx, core.NewEvent(EventPageContentChanged, 1, PageContentChangedPayload{
		PageID: "page-2", ContentHash: "abc",
	}, "")))
	require.NoError(t, c.Route(ctx, core.NewEvent(EventPageContentChanged, 1, PageContentChangedPayload{
		PageID: "page-2", ContentHash: "abc",
	}, "")))
	require.NoError(t, c.Route(ctx, core.NewEvent(EventPageExtractionStarted, 1, PageExtractionStartedPayload{
		PageID: "page-2",
	}, "")))

	require.Len(t, emitter.dispatched, 1, "the repeated identical hash must not re-flag and re-trigger extraction")
}

func TestAuthMachineTranslatesSendOTPRequestIntoCommand(t *testing.T) {
	var m AuthMachine
	cmd, err := m.Decide(context.Background(), core.NewEvent(EventSendOTPRequested, 1, SendOTPRequestedPayload{
		Email: "a@example.org",
	}, "corr-1"))
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, CommandSendOTP, cmd.Kind)
}

func TestAuthMachineFactEventProducesNoCommand(t *testing.T) {
	var m AuthMachine
	cmd, err := m.Decide(context.Background(), core.NewEvent("auth.otp_sent.v1", 1, nil, ""))
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestCoordinatorRejectsUnrecognizedEventKind(t *testing.T) {
	c := newCoordinator(&fakeEmitter{})
	err := c.Route(context.Background(), core.NewEvent("some.other.event.v1", 1, ResourceIDPayload{ResourceID: "x"}, ""))
	assert.Error(t, err)
}
