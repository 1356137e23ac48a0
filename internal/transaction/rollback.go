package transaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// UndoFunc reverses one completed step of a package operation
type UndoFunc func() error

type undoStep struct {
	name string
	fn   UndoFunc
}

// UndoStack records how to reverse the steps of a package operation so a
// failed or cancelled install leaves the filesystem and records untouched
type UndoStack struct {
	mu     sync.Mutex
	steps  []undoStep
	logger *zerolog.Logger
}

// NewUndoStack creates an empty undo stack
func NewUndoStack(logger *zerolog.Logger) *UndoStack {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &UndoStack{logger: logger}
}

// Push records the reversal of a step that just succeeded
func (u *UndoStack) Push(name string, fn UndoFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// Len reports the number of recorded steps
func (u *UndoStack) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.steps)
}

// Unwind reverses every recorded step, newest first. All steps run even
// when some fail; the failures are joined.
func (u *UndoStack) Unwind() error {
	u.mu.Lock()
	steps := u.steps
	u.steps = nil
	u.mu.Unlock()

	if len(steps) == 0 {
		return nil
	}

	u.logger.Info().Int("steps", len(steps)).Msg("rolling back package operation")

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		u.logger.Debug().Str("step", step.name).Msg("undoing")
		if err := step.fn(); err != nil {
			u.logger.Error().Err(err).Str("step", step.name).Msg("undo failed")
			errs = append(errs, fmt.Errorf("undo %s: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}

// Discard forgets the recorded steps once the operation is committed
func (u *UndoStack) Discard() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.steps = nil
}
