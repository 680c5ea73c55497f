// Package tap implements read-only, post-commit event observers (§4.A, §9).
// Taps cannot decide, mutate, or emit; the type system enforces this by
// giving Tap only an observation method with no return value that could
// feed back into the engine. A failing tap is logged and skipped, never
// retried and never allowed to block other taps.
package tap

import (
	"context"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// Tap observes a committed event. Implementations must not perform state
// mutations that other components depend on; typical uses are metrics,
// audit logging, and publishing to external systems (a websocket feed, a
// webhook). Returning an error only affects whether the registry logs a
// warning; it never unwinds or retries.
type Tap interface {
	OnEvent(ctx context.Context, event core.Event) error
}

// TapFunc adapts a plain function to the Tap interface.
type TapFunc func(ctx context.Context, event core.Event) error

func (f TapFunc) OnEvent(ctx context.Context, event core.Event) error { return f(ctx, event) }

// ErrorSink receives errors returned by taps so the registry's caller can
// decide how to log them without this package importing a logging backend.
type ErrorSink func(tapIndex int, event core.Event, err error)

// Registry holds the set of registered taps and notifies them, in
// registration order, after effects have committed. Registry does no
// locking of its own, so it is not safe for concurrent registration and
// notification.
type Registry struct {
	taps []Tap
	sink ErrorSink
}

// New constructs an empty Registry. sink may be nil, in which case tap
// errors are dropped without being reported; they are never retried (§4.A).
func New(sink ErrorSink) *Registry {
	return &Registry{sink: sink}
}

// Register installs tap. Taps are notified in registration order.
func (r *Registry) Register(t Tap) {
	r.taps = append(r.taps, t)
}

// Notify calls every registered tap with event. Each tap's error, if any,
// is reported to the ErrorSink and does not stop iteration over the
// remaining taps — this is the one place in the engine where one
// subscriber's failure is explicitly isolated from the others, because taps
// are observational rather than part of the causal chain.
func (r *Registry) Notify(ctx context.Context, event core.Event) {
	for i, t := range r.taps {
		if err := t.OnEvent(ctx, event); err != nil && r.sink != nil {
			r.sink(i, event, err)
		}
	}
}
