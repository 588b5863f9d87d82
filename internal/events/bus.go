// Package events carries operational events (sensor re-inits, link and
// broker transitions, task restarts) from the node's tasks to whoever is
// listening, normally the [Recorder] behind the status endpoint.
// Components hold a possibly nil *Bus and publish unconditionally.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event sources.
const (
	SourceSensor     = "sensor"
	SourceNetwork    = "network"
	SourceBroker     = "broker"
	SourceSupervisor = "supervisor"
)

// Event kinds, with the Data keys each carries.
const (
	KindSensorInit  = "sensor_init"  // op, ok
	KindSensorFault = "sensor_fault" // error; re-initialization did not help

	KindLinkState = "link_state" // from, to, addr

	KindBrokerState  = "broker_state"  // from, to, session_id
	KindSessionStart = "session_start" // session_id, broker
	KindSessionEnd   = "session_end"   // session_id, reason, published

	// KindTaskExit is a supervised task returning while the node is still
	// running. Data: task, error, uptime_ms.
	KindTaskExit = "task_exit"
)

// Event is one operational occurrence, as shown by /events.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event; the bus
// counts the miss.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	dropped atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers e to every subscriber that has buffer room, stamping
// a zero Timestamp with the current time. A nil *Bus discards e.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event built from its parts.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with a buffer of bufSize events.
// Pair every Subscribe with an Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it. Unknown or already removed
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.IndexFunc(b.subs, func(c chan Event) bool { return (<-chan Event)(c) == ch })
	if i < 0 {
		return
	}
	close(b.subs[i])
	b.subs = slices.Delete(b.subs, i, i+1)
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
