// Package reactor provides the single-threaded task and timer dispatcher
// that the raft actor is built on. Every mutation the actor makes happens
// inside a closure posted to a Reactor, which runs it, and everything else
// it touches, on exactly one goroutine.
package reactor

import "time"

// Timer is a cancellable, restartable one-shot callback scheduled on a
// Reactor. Stop and Reset are idempotent: stopping an already-stopped timer
// or resetting an already-running one is not an error.
type Timer interface {
	Stop()
	Reset(d time.Duration)
}

// Reactor serialises work onto a single goroutine. Post schedules fn to run
// on that goroutine, FIFO with respect to every other posted fn and every
// fired timer. AfterFunc arms a timer whose callback is itself posted to the
// reactor when it fires, so timer callbacks never race with posted tasks.
type Reactor interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
	// Close stops the dispatch goroutine. Posts still queued may be
	// discarded, and a timer that fires afterwards posts nothing that runs.
	Close()
}

// Deferred is a single-assignment result cell fulfilled from inside the
// reactor's serialised region and read from any goroutine. It models the
// "post body to reactor, fulfil a deferred" pattern: an RPC handler called
// from a transport goroutine posts its real body onto the reactor and
// returns a Deferred that the transport blocks on (or selects against a
// context deadline).
type Deferred[T any] struct {
	ch chan T
}

// NewDeferred creates an unfulfilled deferred with room for exactly one
// value.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{ch: make(chan T, 1)}
}

// Fulfil writes the result. Calling it again before the first value has
// been received panics; every caller in this module fulfils exactly once.
func (d *Deferred[T]) Fulfil(v T) {
	select {
	case d.ch <- v:
	default:
		panic("reactor: deferred fulfilled twice")
	}
}

// Wait blocks until Fulfil is called.
func (d *Deferred[T]) Wait() T {
	return <-d.ch
}

// Result exposes the channel directly for callers that want to select
// against it alongside a context or timeout.
func (d *Deferred[T]) Result() <-chan T {
	return d.ch
}
