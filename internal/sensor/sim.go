package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// Sim is a simulated sensor producing a bounded random walk around
// typical indoor values. It is deterministic for a given seed.
type Sim struct {
	mu     sync.Mutex
	rng    *rand.Rand
	seed   int64
	state  RawReading
	inited bool
}

// NewSim creates a simulator seeded with seed.
func NewSim(seed int64) *Sim {
	return &Sim{seed: seed, rng: rand.New(rand.NewSource(seed))}
}

// Initialize resets the walk to its starting point.
func (s *Sim) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "init", Kind: KindTransport, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = RawReading{
		PM1_0: 3, PM2_5: 5, PM4_0: 6, PM10: 7,
		VOCIndex: 100, NOxIndex: 1,
		Temperature: 21.5, Humidity: 42,
	}
	s.inited = true
	return nil
}

// Read advances the walk one step.
func (s *Sim) Read(ctx context.Context) (RawReading, error) {
	if err := ctx.Err(); err != nil {
		return RawReading{}, &Error{Op: "read", Kind: KindTransport, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inited {
		return RawReading{}, &Error{Op: "read", Kind: KindNotReady, Err: ErrNotReady}
	}

	st := &s.state
	st.PM1_0 = s.step(st.PM1_0, 0.4, 0, 80)
	st.PM2_5 = math.Max(st.PM1_0, s.step(st.PM2_5, 0.5, 0, 120))
	st.PM4_0 = math.Max(st.PM2_5, s.step(st.PM4_0, 0.5, 0, 140))
	st.PM10 = math.Max(st.PM4_0, s.step(st.PM10, 0.6, 0, 160))
	st.VOCIndex = s.step(st.VOCIndex, 4, 1, 500)
	st.NOxIndex = s.step(st.NOxIndex, 0.2, 1, 500)
	st.Temperature = s.step(st.Temperature, 0.05, 10, 35)
	st.Humidity = s.step(st.Humidity, 0.2, 15, 85)
	return *st, nil
}

// SerialNumber returns a stable serial derived from the seed.
func (s *Sim) SerialNumber(context.Context) (string, error) {
	return fmt.Sprintf("SIM%012X", uint64(s.seed)), nil
}

func (s *Sim) step(v, scale, lo, hi float64) float64 {
	v += (s.rng.Float64()*2 - 1) * scale
	return math.Min(hi, math.Max(lo, v))
}
