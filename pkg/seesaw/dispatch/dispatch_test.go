package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

type fakeEmitter struct {
	emitted []core.Event
}

func (f *fakeEmitter) Emit(e core.Event) { f.emitted = append(f.emitted, e) }

type fakeJobs struct {
	enqueued []core.Command
	err      error
}

func (f *fakeJobs) Enqueue(_ context.Context, cmd core.Command) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, cmd)
	return nil
}

func TestDispatchRunsEffectAndEmitsEvents(t *testing.T) {
	bus := &fakeEmitter{}
	d := New(bus, &fakeJobs{})
	require.NoError(t, d.Register("page.fetch", EffectFunc(func(_ context.Context, cmd core.Command) ([]core.Event, error) {
		return []core.Event{core.NewEvent("page.fetched.v1", 1, cmd.Payload, "")}, nil
	})))

	out := d.Dispatch(context.Background(), []core.Command{
		core.NewCommand("page.fetch", "https://example.org", "corr-1"),
	})

	assert.True(t, out.Complete)
	assert.Equal(t, 1, out.Succeeded)
	require.Len(t, bus.emitted, 1)
	assert.Equal(t, core.CorrelationId("corr-1"), bus.emitted[0].CorrelationId, "event inherits command's correlation id when effect leaves it empty")
}

func TestRegisterRejectsSecondEffectForSameKind(t *testing.T) {
	d := New(&fakeEmitter{}, &fakeJobs{})
	noop := EffectFunc(func(_ context.Context, _ core.Command) ([]core.Event, error) { return nil, nil })

	require.NoError(t, d.Register("page.fetch", noop))
	err := d.Register("page.fetch", noop)
	require.Error(t, err)
	assert.IsType(t, &core.ErrEffectAlreadyRegistered{}, err)
}

func TestDispatchEmitsCommandFailedOnUnregisteredKind(t *testing.T) {
	bus := &fakeEmitter{}
	d := New(bus, &fakeJobs{})

	out := d.Dispatch(context.Background(), []core.Command{
		core.NewCommand("unknown.kind", nil, "corr-2"),
	})

	assert.False(t, out.Complete)
	assert.Equal(t, 0, out.FailedAt)
	require.Len(t, bus.emitted, 1)
	assert.Equal(t, core.CommandFailedEventKind, bus.emitted[0].Kind)
	payload := bus.emitted[0].Payload.(core.CommandFailedPayload)
	assert.Equal(t, core.CategoryFatal, payload.Category, "unclassified dispatcher errors default to fatal")
}

func TestDispatchStopsAtFirstFailureAndReportsPartial(t *testing.T) {
	bus := &fakeEmitter{}
	d := New(bus, &fakeJobs{})
	require.NoError(t, d.Register("ok", EffectFunc(func(_ context.Context, _ core.Command) ([]core.Event, error) {
		return nil, nil
	})))
	require.NoError(t, d.Register("boom", EffectFunc(func(_ context.Context, _ core.Command) ([]core.Event, error) {
		return nil, core.NewError(core.CategoryConflict, "already extracted")
	})))

	out := d.Dispatch(context.Background(), []core.Command{
		core.NewCommand("ok", nil, "corr-3"),
		core.NewCommand("boom", nil, "corr-3"),
		core.NewCommand("ok", nil, "corr-3"),
	})

	assert.False(t, out.Complete)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.FailedAt)
	require.Len(t, bus.emitted, 1, "the third command must never run once the batch has failed")
	payload := bus.emitted[0].Payload.(core.CommandFailedPayload)
	assert.Equal(t, core.CategoryConflict, payload.Category)
}

func TestDispatchHandsBackgroundCommandsToJobQueueWithoutRunningEffect(t *testing.T) {
	bus := &fakeEmitter{}
	jobs := &fakeJobs{}
	d := New(bus, jobs)
	ran := false
	require.NoError(t, d.Register("reindex", EffectFunc(func(_ context.Context, _ core.Command) ([]core.Event, error) {
		ran = true
		return nil, nil
	})))

	out := d.Dispatch(context.Background(), []core.Command{
		core.NewBackgroundCommand("reindex", nil, "corr-4", core.JobSpec{JobType: "reindex", MaxRetries: 3}),
	})

	assert.True(t, out.Complete)
	assert.False(t, ran, "background commands bypass the inline effect entirely")
	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, "reindex", jobs.enqueued[0].Job.JobType)
	assert.Empty(t, bus.emitted)
}

func TestDispatchEmitsCommandFailedWhenEnqueueFails(t *testing.T) {
	bus := &fakeEmitter{}
	jobs := &fakeJobs{err: core.NewError(core.CategoryTransient, "queue unavailable")}
	d := New(bus, jobs)

	out := d.Dispatch(context.Background(), []core.Command{
		core.NewBackgroundCommand("reindex", nil, "corr-5", core.JobSpec{JobType: "reindex"}),
	})

	assert.False(t, out.Complete)
	require.Len(t, bus.emitted, 1)
	payload := bus.emitted[0].Payload.(core.CommandFailedPayload)
	assert.Equal(t, core.CategoryTransient, payload.Category)
	assert.True(t, payload.Category.Retryable())
}
