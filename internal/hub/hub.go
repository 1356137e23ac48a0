// Package hub implements the process-wide transaction channel: a
// multi-producer, multi-consumer broadcast of transaction events keyed by
// transaction ID. Both the in-process and the privileged executors publish
// here, and every consumer subscribes here.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/rs/zerolog"
)

var (
	// ErrIdleTimeout closes a subscription that saw no event within the
	// hub's idle timeout
	ErrIdleTimeout = errors.New("transaction idle timeout: no events received")

	// ErrCancelled closes a subscription whose transaction was cancelled
	ErrCancelled = errors.New("transaction cancelled")

	// ErrClosed closes a subscription released by its owner
	ErrClosed = errors.New("subscription closed")

	// ErrExhausted is returned by Allocate when every ID is live
	ErrExhausted = errors.New("no free transaction id")
)

// TransactionError closes a subscription whose transaction failed
type TransactionError struct {
	ID      core.TransactionID
	Key     *core.PackageKey
	Message string
}

func (e *TransactionError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("transaction %d failed on %s: %s", e.ID, e.Key.ID, e.Message)
	}
	return fmt.Sprintf("transaction %d failed: %s", e.ID, e.Message)
}

// Envelope pairs an event with the transaction it belongs to
type Envelope struct {
	ID    core.TransactionID
	Event events.Event
}

// Option configures a Hub
type Option func(*Hub)

// WithIdleTimeout closes subscriptions that receive nothing for d.
// Zero disables the watchdog.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.idleTimeout = d
	}
}

// Hub is the shared transaction channel. Construct one per process and pass
// it to every executor and consumer.
type Hub struct {
	mu          sync.Mutex
	next        core.TransactionID
	live        map[core.TransactionID]struct{}
	subs        map[core.TransactionID]map[*Subscription]struct{}
	feeds       map[*Feed]struct{}
	idleTimeout time.Duration
	logger      *zerolog.Logger
}

// New creates a Hub
func New(logger *zerolog.Logger, opts ...Option) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{
		live:   make(map[core.TransactionID]struct{}),
		subs:   make(map[core.TransactionID]map[*Subscription]struct{}),
		feeds:  make(map[*Feed]struct{}),
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Allocate returns a fresh transaction ID and marks it live. IDs come from a
// monotonic counter that skips zero and IDs that are still live.
func (h *Hub) Allocate() (core.TransactionID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for range uint64(1) << 32 {
		h.next++
		if h.next == 0 {
			continue
		}
		if _, busy := h.live[h.next]; busy {
			continue
		}
		h.live[h.next] = struct{}{}
		return h.next, nil
	}
	return 0, ErrExhausted
}

// Live returns the IDs of transactions that have not terminated, in order
func (h *Hub) Live() []core.TransactionID {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]core.TransactionID, 0, len(h.live))
	for id := range h.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsLive reports whether id belongs to a transaction that has not terminated
func (h *Hub) IsLive(id core.TransactionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[id]
	return ok
}

// Publish broadcasts ev for transaction id to every current subscriber. It
// never blocks. Subscribers that arrive later do not see the event.
func (h *Hub) Publish(id core.TransactionID, ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Debug().
		Uint32("transaction_id", uint32(id)).
		Str("event", ev.Kind()).
		Msg("publish")

	for sub := range h.subs[id] {
		if sub.deliver(ev) {
			h.removeLocked(sub)
		}
	}

	env := Envelope{ID: id, Event: ev}
	for feed := range h.feeds {
		feed.box.push(env)
	}

	if events.IsTerminal(ev) {
		delete(h.live, id)
	}
}

// Subscribe returns a subscription to the events of transaction id. The
// subscription ends after the transaction's terminal event, when ctx is
// done, when the idle timeout elapses, or when Close is called.
func (h *Hub) Subscribe(ctx context.Context, id core.TransactionID) *Subscription {
	sub := &Subscription{
		id:  id,
		hub: h,
		box: newMailbox[events.Event](),
	}

	h.mu.Lock()
	set, ok := h.subs[id]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[id] = set
	}
	set[sub] = struct{}{}
	idle := h.idleTimeout
	h.mu.Unlock()

	go sub.box.run(idle, func() {
		h.logger.Warn().
			Uint32("transaction_id", uint32(id)).
			Dur("idle_timeout", idle).
			Msg("transaction subscription timed out")
		sub.closeWith(ErrIdleTimeout)
	})
	go func() {
		select {
		case <-ctx.Done():
			sub.closeWith(ctx.Err())
		case <-sub.box.done:
		}
	}()

	return sub
}

// Watch returns a feed of every event published on the hub, for all
// transactions, until ctx is done or the feed is closed
func (h *Hub) Watch(ctx context.Context) *Feed {
	feed := &Feed{
		hub: h,
		box: newMailbox[Envelope](),
	}

	h.mu.Lock()
	h.feeds[feed] = struct{}{}
	h.mu.Unlock()

	go feed.box.run(0, nil)
	go func() {
		select {
		case <-ctx.Done():
			feed.closeWith(ctx.Err())
		case <-feed.box.done:
		}
	}()

	return feed
}

func (h *Hub) removeLocked(sub *Subscription) {
	set := h.subs[sub.id]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.id)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeFeed(feed *Feed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.feeds, feed)
}
