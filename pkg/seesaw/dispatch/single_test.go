package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

func TestSingleCommandDispatchesOneCommandAndReturnsNilOnSuccess(t *testing.T) {
	bus := &fakeEmitter{}
	d := New(bus, &fakeJobs{})
	require.NoError(t, d.Register("ok", EffectFunc(func(_ context.Context, _ core.Command) ([]core.Event, error) {
		return nil, nil
	})))

	adapter := SingleCommand{Dispatcher: d}
	err := adapter.Dispatch(context.Background(), core.NewCommand("ok", nil, "corr-1"))
	assert.NoError(t, err)
}

func TestSingleCommandReturnsErrorWhenEffectFails(t *testing.T) {
	bus := &fakeEmitter{}
	d := New(bus, &fakeJobs{})
	require.NoError(t, d.Register("boom", EffectFunc(func(_ context.Context, _ core.Command) ([]core.Event, error) {
		return nil, core.NewError(core.CategoryFatal, "kaboom")
	})))

	adapter := SingleCommand{Dispatcher: d}
	err := adapter.Dispatch(context.Background(), core.NewCommand("boom", nil, "corr-2"))
	assert.Error(t, err)
}
