package measurement

import (
	"context"

	"github.com/nugget/airnode/internal/watch"
)

// Store holds the most recent Measurement. It has overwrite semantics:
// the last write wins and nothing is buffered. The acquisition task is the
// only writer; the broker manager, presenter and archive read from it.
type Store struct {
	cell *watch.Cell[Measurement]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{cell: watch.New[Measurement]()}
}

// Write replaces the current value and wakes every waiting reader. The
// stored copy is stamped with the next sequence number, which is also
// returned to the caller.
func (s *Store) Write(m Measurement) Measurement {
	stored, _ := s.cell.Update(func(_ Measurement, version uint64) Measurement {
		m.Seq = version + 1
		return m
	})
	return stored
}

// Read returns the latest Measurement and its sequence number. ok is false
// when nothing has been written yet.
func (s *Store) Read() (m Measurement, seq uint64, ok bool) {
	m, seq = s.cell.Get()
	return m, seq, seq > 0
}

// Wait blocks until a Measurement newer than afterSeq is available and
// returns it. Passing the last sequence a reader has seen gives
// change-notification without polling.
func (s *Store) Wait(ctx context.Context, afterSeq uint64) (Measurement, uint64, error) {
	return s.cell.Wait(ctx, afterSeq)
}

// Changed returns a channel closed by the next write, together with the
// sequence visible at the time of the call. Readers that multiplex the
// store with other signals (tickers, session teardown) select on it.
func (s *Store) Changed() (<-chan struct{}, uint64) {
	return s.cell.Changed()
}
