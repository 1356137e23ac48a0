package transaction

import (
	"context"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/rs/zerolog"
)

// Dispatcher routes a transaction to the privileged executor when any action
// targets the system scope, and to the direct executor otherwise
type Dispatcher struct {
	direct     Executor
	privileged Executor
	logger     *zerolog.Logger
}

// NewDispatcher creates a dispatcher. privileged may be nil, in which case
// system-scoped transactions fail with ErrHelperUnavailable.
func NewDispatcher(direct, privileged Executor, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{direct: direct, privileged: privileged, logger: logger}
}

// Submit submits actions to the appropriate executor
func (d *Dispatcher) Submit(ctx context.Context, actions []core.PackageAction) (*Handle, error) {
	if len(actions) == 0 {
		return nil, ErrNoActions
	}

	if core.RequiresPrivilege(actions) {
		d.logger.Debug().Int("actions", len(actions)).Msg("dispatching to privileged helper")
		if d.privileged == nil {
			return nil, ErrHelperUnavailable
		}
		return d.privileged.Submit(ctx, actions)
	}

	d.logger.Debug().Int("actions", len(actions)).Msg("dispatching in-process")
	return d.direct.Submit(ctx, actions)
}
