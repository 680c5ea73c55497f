// Package core defines the tagged-variant carriers shared by every seesaw
// component: events, commands, and correlation ids. These are plain values;
// identity for an Event is (Kind, Payload), never a pointer.
//
// Every cross-boundary carrier follows the same tagging rule the original
// Rust engine documents: a stable string Kind (versioned, e.g.
// "notification.created.v1") so old rows keep deserializing under their
// original tag after new versions are introduced.
package core

import "time"

// CorrelationId is an opaque token threading an event -> command -> event
// chain so the chain can be awaited as a unit. An event emitted by an effect
// handling a command derived from an earlier event always inherits that
// command's CorrelationId.
type CorrelationId string

// Empty reports whether the id carries no value.
func (c CorrelationId) Empty() bool { return c == "" }

// ExecutionMode selects whether a Command runs inline (synchronously, within
// the dispatcher call) or is handed off to the background job queue.
type ExecutionMode int

const (
	// ExecutionInline runs the effect synchronously within Dispatcher.Dispatch.
	ExecutionInline ExecutionMode = iota
	// ExecutionBackground serializes the command to a job record instead of
	// running it inline; a worker executes it per the job-queue contract.
	ExecutionBackground
)

// JobSpec carries the background-execution metadata for a Command whose
// ExecutionMode is ExecutionBackground.
type JobSpec struct {
	JobType        string
	IdempotencyKey string
	MaxRetries     int
	Priority       int
	Version        int
}

// Event is a tagged immutable fact published on the bus. Two Events with the
// same (Kind, Payload) are the same event for deduplication purposes; the
// bus does not itself deduplicate, but outbox/job-queue idempotency keys
// typically derive from this pair.
type Event struct {
	Kind          string
	Version       int
	Payload       any
	CorrelationId CorrelationId
	OccurredAt    time.Time
}

// NewEvent constructs an Event stamped with the current time.
func NewEvent(kind string, version int, payload any, corr CorrelationId) Event {
	return Event{
		Kind:          kind,
		Version:       version,
		Payload:       payload,
		CorrelationId: corr,
		OccurredAt:    time.Now().UTC(),
	}
}

// WithCorrelation returns a copy of e with a new CorrelationId. Used by
// effects that re-emit a derived event but must preserve the inherited
// correlation chain rather than e's own (e.g. fan-out).
func (e Event) WithCorrelation(id CorrelationId) Event {
	e.CorrelationId = id
	return e
}

// Command is an intent to perform IO, decided by a Machine and handed to the
// Dispatcher. A Command type has at most one registered Effect.
type Command struct {
	Kind          string
	Payload       any
	CorrelationId CorrelationId
	Mode          ExecutionMode
	Job           *JobSpec
}

// NewCommand constructs an inline Command.
func NewCommand(kind string, payload any, corr CorrelationId) Command {
	return Command{Kind: kind, Payload: payload, CorrelationId: corr, Mode: ExecutionInline}
}

// NewBackgroundCommand constructs a Command that the dispatcher will
// serialize to the job queue instead of executing inline.
func NewBackgroundCommand(kind string, payload any, corr CorrelationId, job JobSpec) Command {
	return Command{Kind: kind, Payload: payload, CorrelationId: corr, Mode: ExecutionBackground, Job: &job}
}
