// Package network keeps the node joined to its wireless network. The
// Supervisor owns the radio, drives the join and address-acquisition
// sequence with bounded timeouts, retries forever with exponential
// backoff, and publishes the resulting connectivity state for the broker
// session manager and presenter to observe.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/nugget/airnode/internal/events"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/retry"
	"github.com/nugget/airnode/internal/watch"
)

// Credentials are the network join parameters.
type Credentials struct {
	SSID     string
	Password string
}

// LogValue keeps the password out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("ssid", c.SSID))
}

// Radio is the network interface collaborator.
type Radio interface {
	// Join associates with the network. It must return when ctx ends.
	Join(ctx context.Context, creds Credentials) error

	// AcquireAddress waits for an IPv4 address on the joined network.
	AcquireAddress(ctx context.Context) (netip.Addr, error)

	// LinkStatus delivers asynchronous link up (true) and down (false)
	// signals. A nil channel means the radio never reports link loss.
	LinkStatus() <-chan bool
}

// Config controls join timing.
type Config struct {
	Credentials    Credentials
	JoinTimeout    time.Duration // default 30s
	AddressTimeout time.Duration // default 30s
	Backoff        retry.BackoffConfig
}

// DefaultConfig returns production timing: 30s join and address
// timeouts, backoff 2s doubling to 60s.
func DefaultConfig() Config {
	return Config{
		JoinTimeout:    30 * time.Second,
		AddressTimeout: 30 * time.Second,
		Backoff:        retry.DefaultBackoffConfig(),
	}
}

// Supervisor owns the radio and the connectivity state. It is the only
// writer of that state.
type Supervisor struct {
	radio   Radio
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  *events.Bus
	state   *watch.Cell[State]
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(radio Radio, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.AddressTimeout <= 0 {
		cfg.AddressTimeout = def.AddressTimeout
	}
	cfg.Backoff = cfg.Backoff.WithDefaults(def.Backoff)

	return &Supervisor{
		radio:  radio,
		cfg:    cfg,
		logger: logger.With("component", "network"),
		state:  watch.New[State](),
	}
}

// SetMetrics attaches the metrics instruments.
func (s *Supervisor) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetEventBus attaches the operational event bus.
func (s *Supervisor) SetEventBus(b *events.Bus) { s.events = b }

// State returns the current connectivity state and its version.
func (s *Supervisor) State() (State, uint64) {
	return s.state.Get()
}

// Wait blocks until the state version moves past after.
func (s *Supervisor) Wait(ctx context.Context, after uint64) (State, uint64, error) {
	return s.state.Wait(ctx, after)
}

// Changed returns a channel closed by the next transition, with the
// version current at the time of the call.
func (s *Supervisor) Changed() (<-chan struct{}, uint64) {
	return s.state.Changed()
}

// WaitConnected blocks until the state is Connected and returns it.
func (s *Supervisor) WaitConnected(ctx context.Context) (State, uint64, error) {
	st, ver := s.state.Get()
	for !st.IsConnected() {
		var err error
		st, ver, err = s.state.Wait(ctx, ver)
		if err != nil {
			return State{}, 0, err
		}
	}
	return st, ver, nil
}

// Run joins the network and keeps it joined until ctx is cancelled.
// Network absence is never an error; Run only returns when ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	b := retry.New(s.cfg.Backoff)
	defer s.transition(State{Kind: Disconnected})

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.drainLink()
		s.transition(State{Kind: Joining})

		addr, err := s.join(ctx)
		if err != nil {
			s.transition(State{Kind: Disconnected})
			if ctx.Err() != nil {
				return nil
			}
			delay := b.Next()
			s.logger.Warn("network join failed, backing off",
				"ssid", s.cfg.Credentials.SSID,
				"retry_in", delay,
				"error", err,
			)
			if !retry.Sleep(ctx, delay) {
				return nil
			}
			continue
		}

		b.Reset()
		s.transition(State{Kind: Connected, Addr: addr})

		if !s.awaitLinkDown(ctx) {
			return nil
		}
		s.logger.Warn("network link lost, rejoining")
		s.transition(State{Kind: Disconnected})
	}
}

// join runs Join and AcquireAddress, each under its own timeout.
func (s *Supervisor) join(ctx context.Context) (netip.Addr, error) {
	joinCtx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	err := s.radio.Join(joinCtx, s.cfg.Credentials)
	cancel()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("join %q: %w", s.cfg.Credentials.SSID, err)
	}
	s.logger.Info("network joined, acquiring address", "ssid", s.cfg.Credentials.SSID)

	addrCtx, cancel := context.WithTimeout(ctx, s.cfg.AddressTimeout)
	defer cancel()
	addr, err := s.radio.AcquireAddress(addrCtx)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("acquire address: %w", err)
	}
	if !addr.IsValid() {
		return netip.Addr{}, fmt.Errorf("acquire address: radio returned no address")
	}
	return addr, nil
}

// awaitLinkDown blocks until the radio reports the link down. Returns
// false if ctx ended first.
func (s *Supervisor) awaitLinkDown(ctx context.Context) bool {
	link := s.radio.LinkStatus()
	for {
		select {
		case <-ctx.Done():
			return false
		case up, ok := <-link:
			if !ok {
				s.logger.Warn("radio closed its link status channel; link loss will go unnoticed")
				link = nil
				continue
			}
			if !up {
				return true
			}
		}
	}
}

// drainLink discards link signals that predate the next join attempt.
func (s *Supervisor) drainLink() {
	link := s.radio.LinkStatus()
	if link == nil {
		return
	}
	for {
		select {
		case _, ok := <-link:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// transition validates and publishes a state change. Repeating the
// current kind is a no-op.
func (s *Supervisor) transition(next State) {
	cur, _ := s.state.Get()
	if cur.Kind == next.Kind {
		return
	}
	if !validTransition(cur.Kind, next.Kind) {
		panic(fmt.Sprintf("network: invalid transition %s -> %s", cur.Kind, next.Kind))
	}
	if next.Kind != Connected {
		next.Addr = netip.Addr{}
	}
	s.state.Set(next)

	s.logger.Info("network state changed", "from", cur.Kind, "to", next.Kind, "addr", next.Addr)
	s.metrics.SetLinkState(int(next.Kind))
	data := map[string]any{"from": cur.Kind.String(), "to": next.Kind.String()}
	if next.Addr.IsValid() {
		data["addr"] = next.Addr.String()
	}
	s.events.Emit(events.SourceNetwork, events.KindLinkState, data)
}
