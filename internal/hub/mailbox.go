package hub

import (
	"sync"
	"time"
)

// mailbox is an unbounded FIFO drained by its own goroutine into out. push
// never blocks, so a subscriber that stops reading only grows its own queue.
type mailbox[T any] struct {
	mu        sync.Mutex
	queue     []T
	closing   bool
	err       error
	notify    chan struct{}
	aborted   chan struct{}
	abortOnce sync.Once
	out       chan T
	done      chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{
		notify:  make(chan struct{}, 1),
		aborted: make(chan struct{}),
		out:     make(chan T),
		done:    make(chan struct{}),
	}
}

// push enqueues v. It reports false once the mailbox is closing.
func (m *mailbox[T]) push(v T) bool {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	m.signal()
	return true
}

// finish marks the mailbox closing with err. Items queued before the call
// are still delivered. The first close wins.
func (m *mailbox[T]) finish(err error) bool {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return false
	}
	m.closing = true
	m.err = err
	m.mu.Unlock()
	m.signal()
	return true
}

// abort closes the mailbox with err and drops anything still queued
func (m *mailbox[T]) abort(err error) bool {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return false
	}
	m.closing = true
	m.err = err
	m.queue = nil
	m.mu.Unlock()
	m.abortOnce.Do(func() { close(m.aborted) })
	return true
}

func (m *mailbox[T]) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// result returns the terminal error. Valid once done is closed.
func (m *mailbox[T]) result() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// run delivers queued items to out until the mailbox is closing and empty,
// or aborted. With idle > 0, onIdle is called when nothing has been
// delivered for that long. done is closed before out, so a reader that sees
// out closed always finds the final result.
func (m *mailbox[T]) run(idle time.Duration, onIdle func()) {
	defer func() {
		close(m.done)
		close(m.out)
	}()

	var idleC <-chan time.Time
	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		idleC = timer.C
	}

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closing := m.closing
			m.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-m.notify:
			case <-m.aborted:
				return
			case <-idleC:
				onIdle()
			}
			continue
		}
		next := m.queue[0]
		var zero T
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- next:
		case <-m.aborted:
			return
		}

		if timer != nil {
			timer.Reset(idle)
		}
	}
}
