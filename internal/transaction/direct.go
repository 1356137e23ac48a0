package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/rs/zerolog"
)

// Resolution is the engine's authoritative view of an accepted transaction
type Resolution struct {
	Actions        []core.ResolvedAction
	RequiresReboot bool
}

// Reporter receives progress events from the engine while a transaction runs
type Reporter func(events.Event)

// Engine performs the package operations behind the direct executor
type Engine interface {
	// Resolve validates actions and resolves names, versions and ordering
	Resolve(ctx context.Context, actions []core.PackageAction) (*Resolution, error)

	// Run performs a resolved transaction, reporting progress as it goes.
	// It returns ctx.Err() when cancelled.
	Run(ctx context.Context, res *Resolution, report Reporter) error
}

// PackageFailure is implemented by engine errors attributable to one package
type PackageFailure interface {
	error
	PackageKey() core.PackageKey
}

// Direct runs transactions in-process and publishes their events on the hub
type Direct struct {
	hub    *hub.Hub
	engine Engine
	logger *zerolog.Logger

	mu      sync.Mutex
	pending map[core.TransactionID]*Resolution
	running map[core.TransactionID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewDirect creates a direct executor
func NewDirect(h *hub.Hub, engine Engine, logger *zerolog.Logger) *Direct {
	return &Direct{
		hub:     h,
		engine:  engine,
		logger:  logger,
		pending: make(map[core.TransactionID]*Resolution),
		running: make(map[core.TransactionID]context.CancelFunc),
	}
}

// Submit creates and starts a transaction. It returns as soon as the
// transaction has an ID; progress is observed through the handle.
func (d *Direct) Submit(ctx context.Context, actions []core.PackageAction) (*Handle, error) {
	id, err := d.Create(ctx, actions)
	if err != nil {
		return nil, err
	}

	sub := d.hub.Subscribe(ctx, id)
	if err := d.Process(id); err != nil {
		sub.Close()
		return nil, err
	}

	return newHandle(id, sub, d.Cancel), nil
}

// Create validates and resolves actions and reserves a transaction ID. The
// transaction does not start until Process is called.
func (d *Direct) Create(ctx context.Context, actions []core.PackageAction) (core.TransactionID, error) {
	if err := validateActions(actions); err != nil {
		return 0, err
	}

	res, err := d.engine.Resolve(ctx, actions)
	if err != nil {
		return 0, fmt.Errorf("resolve transaction: %w", err)
	}

	id, err := d.hub.Allocate()
	if err != nil {
		return 0, fmt.Errorf("allocate transaction id: %w", err)
	}

	d.mu.Lock()
	d.pending[id] = res
	d.mu.Unlock()

	d.logger.Debug().
		Uint32("transaction_id", uint32(id)).
		Int("actions", len(res.Actions)).
		Msg("transaction created")

	return id, nil
}

// Process starts a created transaction on a background goroutine
func (d *Direct) Process(id core.TransactionID) error {
	d.mu.Lock()
	res, ok := d.pending[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("process transaction %d: %w", id, ErrUnknownTransaction)
	}
	delete(d.pending, id)

	ctx, cancel := context.WithCancel(context.Background())
	d.running[id] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(ctx, id, res)
	return nil
}

// Cancel cancels a pending or running transaction
func (d *Direct) Cancel(_ context.Context, id core.TransactionID) error {
	d.mu.Lock()
	if _, ok := d.pending[id]; ok {
		delete(d.pending, id)
		d.mu.Unlock()
		d.hub.Publish(id, events.Cancelled{})
		d.hub.Publish(id, events.Dispose{})
		return nil
	}
	cancel, ok := d.running[id]
	d.mu.Unlock()

	if !ok {
		return ErrUnknownTransaction
	}

	d.logger.Info().Uint32("transaction_id", uint32(id)).Msg("cancelling transaction")
	cancel()
	return nil
}

// Wait blocks until every running transaction has finished
func (d *Direct) Wait() {
	d.wg.Wait()
}

func (d *Direct) run(ctx context.Context, id core.TransactionID, res *Resolution) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		if cancel, ok := d.running[id]; ok {
			cancel()
			delete(d.running, id)
		}
		d.mu.Unlock()
	}()

	log := d.logger.With().Uint32("transaction_id", uint32(id)).Logger()
	log.Info().Int("actions", len(res.Actions)).Msg("transaction started")

	d.hub.Publish(id, events.Started{Actions: res.Actions, RequiresReboot: res.RequiresReboot})

	err := d.engine.Run(ctx, res, func(ev events.Event) {
		switch ev.(type) {
		case events.Started, events.Completed, events.Error, events.Cancelled, events.Dispose:
			log.Warn().Str("event", ev.Kind()).Msg("ignoring lifecycle event reported by engine")
			return
		}
		d.hub.Publish(id, ev)
	})

	switch {
	case err == nil:
		log.Info().Msg("transaction completed")
		d.hub.Publish(id, events.Completed{})
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		log.Info().Msg("transaction cancelled")
		d.hub.Publish(id, events.Cancelled{})
	default:
		var key core.PackageKey
		var failure PackageFailure
		if errors.As(err, &failure) {
			key = failure.PackageKey()
		}
		log.Error().Err(err).Str("package", key.ID).Msg("transaction failed")
		d.hub.Publish(id, events.NewError(key, err.Error()))
	}

	d.hub.Publish(id, events.Dispose{})
}
