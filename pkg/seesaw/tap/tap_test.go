package tap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

func TestNotifyCallsAllTapsEvenIfOneFails(t *testing.T) {
	var calledA, calledB bool
	var failedIdx = -1

	r := New(func(idx int, _ core.Event, _ error) { failedIdx = idx })
	r.Register(TapFunc(func(context.Context, core.Event) error {
		calledA = true
		return errors.New("boom")
	}))
	r.Register(TapFunc(func(context.Context, core.Event) error {
		calledB = true
		return nil
	}))

	r.Notify(context.Background(), core.NewEvent("x", 1, nil, ""))

	assert.True(t, calledA)
	assert.True(t, calledB, "a failing tap must not block later taps")
	assert.Equal(t, 0, failedIdx)
}

func TestNotifyWithNilSinkDoesNotPanic(t *testing.T) {
	r := New(nil)
	r.Register(TapFunc(func(context.Context, core.Event) error { return errors.New("boom") }))
	assert.NotPanics(t, func() { r.Notify(context.Background(), core.NewEvent("x", 1, nil, "")) })
}
