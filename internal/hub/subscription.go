package hub

import (
	"context"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
)

// Subscription is one consumer's view of a single transaction. Events are
// delivered in publication order up to and including the terminal event.
type Subscription struct {
	id  core.TransactionID
	hub *Hub
	box *mailbox[events.Event]
}

// ID returns the subscribed transaction ID
func (s *Subscription) ID() core.TransactionID {
	return s.id
}

// Events returns the event stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan events.Event {
	return s.box.out
}

// Done is closed once every event has been delivered and Err is final
func (s *Subscription) Done() <-chan struct{} {
	return s.box.done
}

// Err reports why the subscription ended: nil after Completed or Dispose,
// *TransactionError after Error, ErrCancelled, ErrIdleTimeout, ErrClosed or
// a context error. It returns nil while the subscription is still open.
func (s *Subscription) Err() error {
	select {
	case <-s.box.done:
		return s.box.result()
	default:
		return nil
	}
}

// Wait drains the subscription and returns its final error
func (s *Subscription) Wait(ctx context.Context) error {
	for {
		select {
		case _, ok := <-s.box.out:
			if !ok {
				<-s.box.done
				return s.box.result()
			}
		case <-ctx.Done():
			s.closeWith(ctx.Err())
			return ctx.Err()
		}
	}
}

// Close releases the subscription. Pending events are dropped.
func (s *Subscription) Close() {
	s.closeWith(ErrClosed)
}

func (s *Subscription) closeWith(err error) {
	s.hub.remove(s)
	s.box.abort(err)
}

// deliver enqueues ev and reports whether the subscription has ended.
// Called with the hub lock held.
func (s *Subscription) deliver(ev events.Event) bool {
	switch e := ev.(type) {
	case events.Dispose:
		s.box.finish(nil)
		return true
	case events.Completed:
		s.box.push(ev)
		s.box.finish(nil)
		return true
	case events.Cancelled:
		s.box.push(ev)
		s.box.finish(ErrCancelled)
		return true
	case events.Error:
		s.box.push(ev)
		s.box.finish(&TransactionError{ID: s.id, Key: e.Key, Message: e.ErrorText()})
		return true
	default:
		return !s.box.push(ev)
	}
}

// Feed is a firehose of every event published on a hub
type Feed struct {
	hub *Hub
	box *mailbox[Envelope]
}

// Events returns the envelope stream. It is closed when the feed ends.
func (f *Feed) Events() <-chan Envelope {
	return f.box.out
}

// Done is closed once every envelope has been delivered and Err is final
func (f *Feed) Done() <-chan struct{} {
	return f.box.done
}

// Err reports why the feed ended
func (f *Feed) Err() error {
	select {
	case <-f.box.done:
		return f.box.result()
	default:
		return nil
	}
}

// Close releases the feed
func (f *Feed) Close() {
	f.closeWith(ErrClosed)
}

func (f *Feed) closeWith(err error) {
	f.hub.removeFeed(f)
	f.box.abort(err)
}
