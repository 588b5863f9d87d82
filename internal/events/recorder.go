package events

import (
	"context"
	"sync"
)

// Recorder keeps the most recent events from a Bus in a fixed-size ring
// so the status endpoint can show what the node has been doing.
type Recorder struct {
	mu   sync.Mutex
	ring []Event
	next int
	full bool
}

// NewRecorder creates a recorder holding up to size events.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 100
	}
	return &Recorder{ring: make([]Event, size)}
}

// Record appends e, overwriting the oldest event when full.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the recorded events, oldest first.
func (r *Recorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.ring[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	out = append(out, r.ring[:r.next]...)
	return out
}

// Run subscribes to bus and records every event until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, bus *Bus) error {
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.Record(e)
		}
	}
}
