// Package bus implements the typed event substrate of §4.A: emit/subscribe,
// a synchronous dispatch_request helper, and per-topic bounded queues with a
// synthetic "lagged" signal for slow subscribers.
//
// Ordering guarantees (§5): per-subscriber FIFO within a single emitter;
// global order across subscribers or correlation chains is not guaranteed.
// Taps (package tap) are notified after effect handlers have committed; this
// package only fans events out to Subscriptions, the dispatcher is
// responsible for running effects before taps see anything.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// ErrLagged names the condition a Lagged envelope reports: the subscriber
// fell behind the bounded queue and events were dropped. The bus does not
// send this error value itself; a Subscription's channel carries an
// Envelope with Lagged set. Subscribers receiving one MUST resynchronize
// from a durable source (the outbox, the sync-proposal table) rather than
// assume continuity.
var ErrLagged = errors.New("bus: subscriber lagged, events were dropped")

// Envelope wraps a delivered Event, or signals that the subscriber lagged.
type Envelope struct {
	Event  core.Event
	Lagged bool
}

// Subscription is a typed handle yielding events. Closing drops the
// subscription and releases its queue.
type Subscription interface {
	// C returns the channel to receive envelopes on.
	C() <-chan Envelope
	// Close unregisters the subscription. Idempotent.
	Close()
}

// Matcher inspects an event and reports whether it completes a
// dispatch_request chain, returning the extracted result.
type Matcher func(core.Event) (any, bool)

// Bus is the event substrate: publish, subscribe, and a correlation-aware
// request/response helper.
type Bus interface {
	// Emit publishes an event to every subscriber of its Kind. Returns
	// immediately; this call cannot fail (an in-memory queue append).
	Emit(event core.Event)

	// Subscribe returns a Subscription yielding events of the given kind.
	// Capacity bounds the per-subscriber queue; when the queue is full, Emit
	// drops the oldest queued envelope and enqueues a Lagged envelope in
	// place of the new event, which is not delivered. This happens on every
	// overflow.
	Subscribe(kind string, capacity int) Subscription

	// DispatchRequest emits event with a fresh correlation id, then blocks
	// until match returns (result, true) for some subsequently observed
	// event, ctx is cancelled, or timeout elapses.
	DispatchRequest(ctx context.Context, event core.Event, match Matcher) (any, error)
}

type topicSub struct {
	kind string
	ch   chan Envelope
	once sync.Once
	bus  *bus
}

func (s *topicSub) C() <-chan Envelope { return s.ch }

func (s *topicSub) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.ch)
	})
}

type bus struct {
	mu   sync.RWMutex
	subs map[string][]*topicSub
}

// New constructs an empty, ready-to-use in-process Bus.
func New() Bus {
	return &bus{subs: make(map[string][]*topicSub)}
}

func (b *bus) Emit(event core.Event) {
	b.mu.RLock()
	targets := append([]*topicSub(nil), b.subs[event.Kind]...)
	targets = append(targets, b.subs["*"]...)
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- Envelope{Event: event}:
		default:
			// Queue full: drop the oldest entry to make room, then signal
			// lagged. This keeps delivery non-blocking for the emitter.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- Envelope{Lagged: true}:
			default:
			}
		}
	}
}

func (b *bus) Subscribe(kind string, capacity int) Subscription {
	if capacity <= 0 {
		capacity = 64
	}
	s := &topicSub{kind: kind, ch: make(chan Envelope, capacity), bus: b}
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], s)
	b.mu.Unlock()
	return s
}

func (b *bus) unsubscribe(target *topicSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[target.kind]
	for i, s := range list {
		if s == target {
			b.subs[target.kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (b *bus) DispatchRequest(ctx context.Context, event core.Event, match Matcher) (any, error) {
	corr := core.CorrelationId(uuid.NewString())
	event = event.WithCorrelation(corr)

	sub := b.Subscribe("*", 256)
	defer sub.Close()

	b.Emit(event)

	for {
		select {
		case <-ctx.Done():
			return nil, core.Wrap(core.CategoryTransient, "dispatch_request: cancelled", ctx.Err())
		case env, ok := <-sub.C():
			if !ok {
				return nil, core.NewError(core.CategoryTransient, "dispatch_request: subscription closed")
			}
			if env.Lagged {
				return nil, core.NewError(core.CategoryTransient, "dispatch_request: lagged while awaiting match")
			}
			if result, matched := match(env.Event); matched {
				return result, nil
			}
		}
	}
}
