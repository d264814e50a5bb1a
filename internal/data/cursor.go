package data

import (
	"errors"
	"sort"
	"sync"
)

// ErrTimeOutOfRange is returned by GoTo for a target before the current
// position or past the end of the iterated range.
var ErrTimeOutOfRange = errors.New("time out of range")

// Cursor is the engine's current position in virtual time: an integer index
// over the iterated range plus the timestamp at that index. It only ever
// moves forward within a session (Reset starts a new one).
type Cursor struct {
	mu   sync.Mutex
	rng  []int64 // per-second timestamps, ascending
	step int64   // seconds advanced per engine tick
	idx  int
}

// NewCursor creates a cursor over rng advancing step seconds per tick.
func NewCursor(rng []int64, step int64) *Cursor {
	if step <= 0 {
		step = 1
	}
	return &Cursor{rng: rng, step: step}
}

// Index returns the current range index.
func (c *Cursor) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx
}

// Time returns the virtual timestamp at the current index.
func (c *Cursor) Time() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng[c.idx]
}

// Step returns the configured seconds-per-tick.
func (c *Cursor) Step() int64 {
	return c.step
}

// AtEnd reports whether the cursor sits on the terminal index.
func (c *Cursor) AtEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx >= len(c.rng)-1
}

// Next advances the cursor one tick (step seconds), clamping at the terminal
// index. It returns false when the cursor was already at the end.
func (c *Cursor) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx >= len(c.rng)-1 {
		return false
	}
	c.idx += int(c.step)
	if c.idx > len(c.rng)-1 {
		c.idx = len(c.rng) - 1
	}
	return true
}

// FastForward advances n ticks. FastForward(0) is a no-op.
func (c *Cursor) FastForward(n int) {
	for i := 0; i < n; i++ {
		if !c.Next() {
			return
		}
	}
}

// GoTo jumps the cursor forward to the first index at or after t. Jumping to
// the current time is a no-op; jumping backward or past the end fails.
func (c *Cursor) GoTo(t int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t == c.rng[c.idx] {
		return nil
	}
	if t < c.rng[c.idx] || t > c.rng[len(c.rng)-1] {
		return ErrTimeOutOfRange
	}
	c.idx = sort.Search(len(c.rng), func(i int) bool { return c.rng[i] >= t })
	return nil
}

// SetIndex restores the cursor to a saved position (snapshot resume).
func (c *Cursor) SetIndex(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx < 0 || idx > len(c.rng)-1 {
		return ErrTimeOutOfRange
	}
	c.idx = idx
	return nil
}

// Reset returns the cursor to index 0.
func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = 0
}
