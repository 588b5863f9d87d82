package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nugget/airnode/internal/network"
	"github.com/nugget/airnode/internal/watch"
)

// published is one message seen by the fake broker.
type published struct {
	session int
	topic   string
	payload string
	retain  bool
}

// fakeTransport records every publish across sessions in order.
type fakeTransport struct {
	mu       sync.Mutex
	connects int
	sessions []*fakeSession
	log      []published

	// connectErr, if set, is consulted on every Connect (1-based).
	connectErr func(n int) error
	// publishErr, if set, is consulted on every publish.
	publishErr func(session int, topic string) error
}

func (f *fakeTransport) Connect(ctx context.Context, ep Endpoint, clientID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		if err := f.connectErr(f.connects); err != nil {
			return nil, err
		}
	}
	s := &fakeSession{t: f, idx: len(f.sessions), done: make(chan struct{}), will: ep.Will}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeTransport) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.log...)
}

func (f *fakeTransport) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeSession struct {
	t    *fakeTransport
	idx  int
	will *Will

	once   sync.Once
	done   chan struct{}
	closed bool
}

func (s *fakeSession) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.t.publishErr != nil {
		if err := s.t.publishErr(s.idx, topic); err != nil {
			return err
		}
	}
	s.t.log = append(s.t.log, published{session: s.idx, topic: topic, payload: string(payload), retain: retain})
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

// drop simulates the broker going away.
func (s *fakeSession) drop() {
	s.once.Do(func() { close(s.done) })
}

func (s *fakeSession) Close() error {
	s.t.mu.Lock()
	s.closed = true
	s.t.mu.Unlock()
	s.drop()
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.closed
}

// fakeLink is a scripted Connectivity.
type fakeLink struct {
	cell *watch.Cell[network.State]
}

func newFakeLink(connected bool) *fakeLink {
	l := &fakeLink{cell: watch.New[network.State]()}
	l.set(connected)
	return l
}

func (l *fakeLink) set(connected bool) {
	if connected {
		l.cell.Set(network.State{Kind: network.Connected})
	} else {
		l.cell.Set(network.State{Kind: network.Disconnected})
	}
}

func (l *fakeLink) State() (network.State, uint64)      { return l.cell.Get() }
func (l *fakeLink) Changed() (<-chan struct{}, uint64) { return l.cell.Changed() }

func (l *fakeLink) WaitConnected(ctx context.Context) (network.State, uint64, error) {
	st, ver := l.cell.Get()
	for !st.IsConnected() {
		var err error
		if st, ver, err = l.cell.Wait(ctx, ver); err != nil {
			return network.State{}, 0, err
		}
	}
	return st, ver, nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
