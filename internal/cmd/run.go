package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/quantmind-br/pahkat/internal/transaction"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
)

// ExitError carries the process exit code for a failed command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return core.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errors.Is(err, transaction.ErrHelperUnavailable):
		return core.ExitHelperUnavailable
	case errors.Is(err, hub.ErrCancelled), errors.Is(err, context.Canceled):
		return core.ExitInterrupted
	case errors.Is(err, os.ErrPermission):
		return core.ExitPermission
	}
	var txErr *hub.TransactionError
	if errors.As(err, &txErr) {
		return core.ExitTransactionFailed
	}
	return core.ExitGeneral
}

// runTransaction submits actions and renders their events until the
// transaction ends. The first interrupt cancels the transaction; its
// outcome is still rendered.
func runTransaction(ctx context.Context, out io.Writer, executor transaction.Executor, actions []core.PackageAction, bars bool, log *zerolog.Logger) error {
	handle, err := executor.Submit(ctx, actions)
	if err != nil {
		return err
	}
	defer handle.Close()

	log.Debug().Uint32("transaction_id", uint32(handle.ID())).Msg("following transaction")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	interrupt := sigCtx.Done()

	view := ui.NewTransactionView(out, bars)
	for {
		select {
		case ev, ok := <-handle.Events():
			if !ok {
				return transactionOutcome(handle.Err())
			}
			view.Handle(ev)

		case <-interrupt:
			interrupt = nil
			ui.FprintWarning(out, "cancelling transaction %d", handle.ID())
			if err := handle.Cancel(context.Background()); err != nil {
				log.Warn().Err(err).Msg("cancel failed")
			}
		}
	}
}

func transactionOutcome(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hub.ErrCancelled):
		return &ExitError{Code: core.ExitInterrupted, Err: err}
	case errors.Is(err, hub.ErrIdleTimeout):
		return &ExitError{Code: core.ExitTransactionFailed, Err: err}
	}
	var txErr *hub.TransactionError
	if errors.As(err, &txErr) {
		return &ExitError{Code: core.ExitTransactionFailed, Err: err}
	}
	return fmt.Errorf("follow transaction: %w", err)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
