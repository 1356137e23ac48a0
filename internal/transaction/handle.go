// Package transaction submits package transactions and tracks them through
// the shared hub. Direct runs transactions in-process; Proxy delegates them
// to the privileged helper; Dispatcher picks between the two.
package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/hub"
)

var (
	// ErrNoActions is returned when a transaction is submitted without actions
	ErrNoActions = errors.New("transaction has no actions")

	// ErrUnknownTransaction is returned for IDs that are not pending or running
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrHelperUnavailable is returned when the privileged helper cannot be
	// reached, is outdated, or could not be installed
	ErrHelperUnavailable = errors.New("privileged helper unavailable")
)

// Executor accepts transaction requests
type Executor interface {
	Submit(ctx context.Context, actions []core.PackageAction) (*Handle, error)
}

// Handle is the caller's side of a submitted transaction. Direct and
// proxied transactions are indistinguishable through a Handle.
type Handle struct {
	id     core.TransactionID
	sub    *hub.Subscription
	cancel func(context.Context, core.TransactionID) error
}

func newHandle(id core.TransactionID, sub *hub.Subscription, cancel func(context.Context, core.TransactionID) error) *Handle {
	return &Handle{id: id, sub: sub, cancel: cancel}
}

// ID returns the transaction ID on the local hub
func (h *Handle) ID() core.TransactionID {
	return h.id
}

// Events streams the transaction's events up to its terminal event
func (h *Handle) Events() <-chan events.Event {
	return h.sub.Events()
}

// Done is closed when the event stream ends
func (h *Handle) Done() <-chan struct{} {
	return h.sub.Done()
}

// Err reports how the event stream ended. See hub.Subscription.Err.
func (h *Handle) Err() error {
	return h.sub.Err()
}

// Wait drains the remaining events and returns the outcome
func (h *Handle) Wait(ctx context.Context) error {
	return h.sub.Wait(ctx)
}

// Cancel asks the executor to cancel the transaction. Cancellation is
// asynchronous; its outcome arrives through Events.
func (h *Handle) Cancel(ctx context.Context) error {
	if err := h.cancel(ctx, h.id); err != nil {
		return fmt.Errorf("cancel transaction %d: %w", h.id, err)
	}
	return nil
}

// Close stops listening for events without cancelling the transaction
func (h *Handle) Close() {
	h.sub.Close()
}

func validateActions(actions []core.PackageAction) error {
	if len(actions) == 0 {
		return ErrNoActions
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid transaction: %w", err)
		}
	}
	return nil
}
