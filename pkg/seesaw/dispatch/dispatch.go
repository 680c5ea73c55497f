// Package dispatch implements the command dispatcher of §4.B: routes a
// Command to its single registered Effect, reports batch outcomes, and
// translates effect errors into CommandFailed events rather than letting
// raw errors cross the bus.
package dispatch

import (
	"context"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// Effect executes the IO implied by a Command and returns the Events it
// produced. An Effect must not return a raw, unclassified error for
// domain-observable failures; it should classify failures into a
// *core.SeesawError so the dispatcher can emit a structured CommandFailed
// event. An Effect returning a plain error is treated as CategoryFatal.
type Effect interface {
	Execute(ctx context.Context, cmd core.Command) ([]core.Event, error)
}

// EffectFunc adapts a plain function to the Effect interface.
type EffectFunc func(ctx context.Context, cmd core.Command) ([]core.Event, error)

func (f EffectFunc) Execute(ctx context.Context, cmd core.Command) ([]core.Event, error) {
	return f(ctx, cmd)
}

// JobEnqueuer hands a background Command off to the job queue. See
// pkg/jobqueue for the concrete implementation.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, cmd core.Command) error
}

// Emitter is the minimal bus surface the dispatcher needs: emitting the
// events an effect produced, and the CommandFailed event on error.
type Emitter interface {
	Emit(core.Event)
}

// Outcome reports what happened while executing a batch of commands.
type Outcome struct {
	// Complete is true iff every command in the batch succeeded.
	Complete bool
	// Succeeded is how many commands executed successfully before a
	// failure (or all of them, if Complete).
	Succeeded int
	// FailedAt is the index of the first failing command, or -1 if Complete.
	FailedAt int
	// Err is the error from the command at FailedAt, or nil if Complete.
	Err error
}

// Dispatcher routes commands to their registered effects.
type Dispatcher struct {
	effects map[string]Effect
	bus     Emitter
	jobs    JobEnqueuer
}

// New constructs a Dispatcher. bus receives events produced by effects and
// CommandFailed events; jobs receives background commands.
func New(bus Emitter, jobs JobEnqueuer) *Dispatcher {
	return &Dispatcher{effects: make(map[string]Effect), bus: bus, jobs: jobs}
}

// Register installs effect as the sole handler for commands of the given
// kind. Registering a second effect for the same kind fails with
// ErrEffectAlreadyRegistered (§4.B "at most one effect per command type").
func (d *Dispatcher) Register(kind string, effect Effect) error {
	if _, exists := d.effects[kind]; exists {
		return &core.ErrEffectAlreadyRegistered{Kind: kind}
	}
	d.effects[kind] = effect
	return nil
}

// Dispatch executes commands in order, stopping at the first failure.
// Background commands (ExecutionBackground) are never executed inline; they
// are handed to the JobEnqueuer and considered "succeeded" for batch-outcome
// purposes once enqueued (the job's own eventual success/failure is a
// separate fact reported later via job-status events, not this call).
func (d *Dispatcher) Dispatch(ctx context.Context, cmds []core.Command) Outcome {
	for i, cmd := range cmds {
		if cmd.Mode == core.ExecutionBackground {
			if err := d.jobs.Enqueue(ctx, cmd); err != nil {
				d.emitFailure(cmd, err)
				return Outcome{Complete: false, Succeeded: i, FailedAt: i, Err: err}
			}
			continue
		}

		effect, ok := d.effects[cmd.Kind]
		if !ok {
			err := &core.ErrNoEffectRegistered{Kind: cmd.Kind}
			d.emitFailure(cmd, err)
			return Outcome{Complete: false, Succeeded: i, FailedAt: i, Err: err}
		}

		events, err := effect.Execute(ctx, cmd)
		if err != nil {
			d.emitFailure(cmd, err)
			return Outcome{Complete: false, Succeeded: i, FailedAt: i, Err: err}
		}
		for _, e := range events {
			if e.CorrelationId.Empty() {
				e = e.WithCorrelation(cmd.CorrelationId)
			}
			d.bus.Emit(e)
		}
	}
	return Outcome{Complete: true, Succeeded: len(cmds), FailedAt: -1}
}

// emitFailure classifies err and emits the single CommandFailed event that
// represents it on the bus (§4.B "This event is the only cross-bus
// representation of errors").
func (d *Dispatcher) emitFailure(cmd core.Command, err error) {
	category := core.CategoryFatal
	if se, ok := err.(*core.SeesawError); ok {
		category = se.Category
	}
	payload := core.CommandFailedPayload{
		CommandKind:   cmd.Kind,
		CorrelationId: cmd.CorrelationId,
		Category:      category,
		Message:       err.Error(),
	}
	d.bus.Emit(core.NewEvent(core.CommandFailedEventKind, 1, payload, cmd.CorrelationId))
}
