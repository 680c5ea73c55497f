package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe("resource.submitted", 8)
	defer sub.Close()

	b.Emit(core.NewEvent("resource.submitted", 1, "https://example.org", "corr-1"))

	select {
	case env := <-sub.C():
		require.False(t, env.Lagged)
		assert.Equal(t, "https://example.org", env.Event.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestSubscribeDoesNotReceiveOtherKinds(t *testing.T) {
	b := New()
	sub := b.Subscribe("resource.submitted", 8)
	defer sub.Close()

	b.Emit(core.NewEvent("page.flagged", 1, nil, "corr-1"))

	select {
	case <-sub.C():
		t.Fatal("unexpected delivery for unrelated kind")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("x", 1)
	sub.Close()
	assert.NotPanics(t, sub.Close)
}

func TestLaggedSignalOnFullQueue(t *testing.T) {
	b := New()
	sub := b.Subscribe("x", 1)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Emit(core.NewEvent("x", 1, i, "corr"))
	}

	var sawLagged bool
	for i := 0; i < 5; i++ {
		select {
		case env := <-sub.C():
			if env.Lagged {
				sawLagged = true
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	assert.True(t, sawLagged, "expected a lagged signal once the bounded queue overflowed")
}

func TestDispatchRequestReturnsFirstMatch(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Emit(core.NewEvent("discovery.completed", 1, "ok", "ignored"))
	}()

	result, err := b.DispatchRequest(ctx, core.NewEvent("resource.submitted", 1, nil, ""), func(e core.Event) (any, bool) {
		if e.Kind == "discovery.completed" {
			return e.Payload, true
		}
		return nil, false
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestDispatchRequestTimesOutOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.DispatchRequest(ctx, core.NewEvent("resource.submitted", 1, nil, ""), func(core.Event) (any, bool) {
		return nil, false
	})
	require.Error(t, err)
}
