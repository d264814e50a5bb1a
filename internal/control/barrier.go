// Package control synchronizes N strategy goroutines with the engine's
// virtual clock. A re-armable barrier keeps every strategy observing each
// tick exactly once; the controller coordinates tracker runs and cursor
// advances between barrier cycles.
package control

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokenBarrier is delivered to every waiter when the barrier is aborted.
var ErrBrokenBarrier = errors.New("barrier broken")

// Barrier is a cyclic N-party barrier with a coordinator side. Strategies
// call Wait at the end of each per-tick cycle; the coordinator calls
// AwaitFull, does its tick work, then Release re-arms the barrier and frees
// the waiters for the next cycle.
type Barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	broken  bool

	full    chan struct{} // signaled when all parties are waiting
	release chan struct{} // closed per cycle to free the waiters
	abortCh chan struct{} // closed once on Abort
}

// NewBarrier creates a barrier. The party count is fixed later via
// SetParties, after all strategies have registered.
func NewBarrier() *Barrier {
	return &Barrier{
		full:    make(chan struct{}, 1),
		release: make(chan struct{}),
		abortCh: make(chan struct{}),
	}
}

// SetParties fixes the number of strategy parties. Must be called before the
// first Wait completes a cycle; calling it when enough waiters have already
// arrived signals the coordinator immediately.
func (b *Barrier) SetParties(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties = n
	if b.parties > 0 && b.waiting >= b.parties {
		b.signalFullLocked()
	}
}

// Parties returns the current party count.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// Deregister removes one party, for a strategy whose task has finished.
// If the remaining waiters now fill the barrier, the coordinator is signaled.
func (b *Barrier) Deregister() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parties > 0 {
		b.parties--
	}
	if b.waiting >= b.parties {
		b.signalFullLocked()
	}
}

func (b *Barrier) signalFullLocked() {
	select {
	case b.full <- struct{}{}:
	default:
	}
}

// Wait checkpoints one strategy. It blocks until the coordinator releases
// the cycle, the barrier is aborted (ErrBrokenBarrier) or ctx is done.
// A context cancellation inside Wait breaks the barrier for everyone, since
// the cycle can never complete without this party.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return ErrBrokenBarrier
	}
	b.waiting++
	rel := b.release
	if b.parties > 0 && b.waiting >= b.parties {
		b.signalFullLocked()
	}
	b.mu.Unlock()

	select {
	case <-rel:
		return nil
	case <-b.abortCh:
		return ErrBrokenBarrier
	case <-ctx.Done():
		b.Abort()
		return ctx.Err()
	}
}

// AwaitFull blocks the coordinator until all parties are waiting.
func (b *Barrier) AwaitFull(ctx context.Context) error {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return ErrBrokenBarrier
	}
	if b.parties > 0 && b.waiting >= b.parties {
		// Drain a possibly stale signal and return at once.
		select {
		case <-b.full:
		default:
		}
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-b.full:
		return nil
	case <-b.abortCh:
		return ErrBrokenBarrier
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release re-arms the barrier and frees the current cycle's waiters.
func (b *Barrier) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		return
	}
	b.waiting = 0
	old := b.release
	b.release = make(chan struct{})
	close(old)
}

// Abort breaks the barrier permanently. Current and future waiters receive
// ErrBrokenBarrier. Safe to call more than once.
func (b *Barrier) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		return
	}
	b.broken = true
	close(b.abortCh)
}

// Broken reports whether the barrier has been aborted.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}
