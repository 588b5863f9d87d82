// Package watch provides a single-slot, versioned value with broadcast
// change notification. It is the shared primitive behind the measurement
// store and the connectivity state: one goroutine writes, any number of
// goroutines read or block until the value moves past a version they have
// already seen.
//
// A write replaces the value, bumps the version and closes the current
// notify channel, installing a fresh one. Waiters grab the channel under
// the same lock as the version check, so no update can slip between the
// check and the wait.
package watch

import (
	"context"
	"sync"
)

// Cell holds the latest value of type T and its version. The zero version
// means nothing has been written yet. The zero Cell is not usable; create
// one with [New].
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	notify  chan struct{}
}

// New creates an empty cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{notify: make(chan struct{})}
}

// Set replaces the value and wakes every waiter. It returns the new
// version, which is always one greater than the previous one.
func (c *Cell[T]) Set(v T) uint64 {
	c.mu.Lock()
	c.value = v
	c.version++
	ver := c.version
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
	return ver
}

// Update applies fn to the current value and stores the result as a single
// step. fn runs with the lock held and must not block.
func (c *Cell[T]) Update(fn func(current T, version uint64) T) (T, uint64) {
	c.mu.Lock()
	next := fn(c.value, c.version)
	c.value = next
	c.version++
	ver := c.version
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
	return next, ver
}

// Get returns the current value and version without blocking. A version
// of zero means the cell has never been written.
func (c *Cell[T]) Get() (T, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.version
}

// Changed returns a channel that is closed on the next write after the
// version the caller observes in the same call.
func (c *Cell[T]) Changed() (<-chan struct{}, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify, c.version
}

// Wait blocks until the cell holds a version greater than after, then
// returns that value and version. It returns ctx.Err() if the context ends
// first.
func (c *Cell[T]) Wait(ctx context.Context, after uint64) (T, uint64, error) {
	for {
		c.mu.Lock()
		if c.version > after {
			v, ver := c.value, c.version
			c.mu.Unlock()
			return v, ver, nil
		}
		ch := c.notify
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, 0, ctx.Err()
		case <-ch:
		}
	}
}
