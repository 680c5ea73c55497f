package dispatch

import (
	"context"
	"fmt"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// SingleCommand adapts a *Dispatcher's batch Dispatch to the single-command
// Dispatch(ctx, cmd) error shape machine.Runner's Emitter interface needs,
// so a PersistentMachine's one decided command per event can go through the
// same Dispatcher every other command in the system does, without
// machine.Runner having to depend on this package's batch Outcome type.
type SingleCommand struct {
	Dispatcher *Dispatcher
}

func (s SingleCommand) Dispatch(ctx context.Context, cmd core.Command) error {
	out := s.Dispatcher.Dispatch(ctx, []core.Command{cmd})
	if !out.Complete {
		return fmt.Errorf("dispatch: command %q failed: %w", cmd.Kind, out.Err)
	}
	return nil
}
