package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/airnode/internal/config"
	"github.com/nugget/airnode/internal/events"
	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/network"
	"github.com/nugget/airnode/internal/retry"
	"github.com/nugget/airnode/internal/watch"
)

// State is the broker session manager's state.
type State int

const (
	AwaitingLink State = iota
	Connecting
	PublishingDiscovery
	Publishing
)

func (s State) String() string {
	switch s {
	case AwaitingLink:
		return "awaiting_link"
	case Connecting:
		return "connecting"
	case PublishingDiscovery:
		return "publishing_discovery"
	case Publishing:
		return "publishing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connectivity is the view of the network supervisor the manager needs.
// *network.Supervisor satisfies it.
type Connectivity interface {
	State() (network.State, uint64)
	Changed() (<-chan struct{}, uint64)
	WaitConnected(ctx context.Context) (network.State, uint64, error)
}

// Session teardown causes.
var (
	errLinkLost        = errors.New("network link lost")
	errTransportClosed = errors.New("broker connection dropped")
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	Endpoint Endpoint
	ClientID string

	// MinPublishInterval is the minimum spacing between state publishes
	// (default: 2s). Changes arriving faster are coalesced.
	MinPublishInterval time.Duration

	// Backoff controls reconnect delays (default: 1s doubling to 60s).
	Backoff retry.BackoffConfig
}

// DefaultBackoff is the reconnect schedule: 1s, 2s, 4s, ... capped at 60s.
func DefaultBackoff() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
	}
}

// Manager runs the broker session state machine.
type Manager struct {
	transport Transport
	desc      *Descriptor
	store     *measurement.Store
	link      Connectivity
	cfg       ManagerConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	events    *events.Bus
	onSession func(id string, at time.Time)

	state *watch.Cell[State]
}

// NewManager creates a manager. It does not connect until Run.
func NewManager(t Transport, desc *Descriptor, store *measurement.Store, link Connectivity, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinPublishInterval <= 0 {
		cfg.MinPublishInterval = 2 * time.Second
	}
	cfg.Backoff = cfg.Backoff.WithDefaults(DefaultBackoff())
	cfg.Endpoint.Will = desc.Will()

	return &Manager{
		transport: t,
		desc:      desc,
		store:     store,
		link:      link,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinPublishInterval), 1),
		logger:    logger.With("component", "broker"),
		state:     watch.New[State](),
	}
}

// SetMetrics attaches the metrics instruments.
func (m *Manager) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// SetEventBus attaches the operational event bus.
func (m *Manager) SetEventBus(b *events.Bus) { m.events = b }

// OnSessionStart registers fn to be called after each successful connect.
func (m *Manager) OnSessionStart(fn func(id string, at time.Time)) { m.onSession = fn }

// State returns the current manager state.
func (m *Manager) State() State {
	s, _ := m.state.Get()
	return s
}

// Wait blocks until the state version moves past after.
func (m *Manager) Wait(ctx context.Context, after uint64) (State, uint64, error) {
	return m.state.Wait(ctx, after)
}

func (m *Manager) setState(next State, sessionID string) {
	cur, ver := m.state.Get()
	if cur == next && ver > 0 {
		return
	}
	m.state.Set(next)
	m.metrics.SetBrokerState(int(next))
	m.logger.Debug("broker state changed", "from", cur, "to", next, "session_id", sessionID)
	m.events.Emit(events.SourceBroker, events.KindBrokerState, map[string]any{
		"from":       cur.String(),
		"to":         next.String(),
		"session_id": sessionID,
	})
}

// Run drives the session state machine until ctx is cancelled. Broker
// and network failures are never returned; they lead back to
// AwaitingLink after a backoff delay. The delay resets once a session
// has published state.
func (m *Manager) Run(ctx context.Context) error {
	b := retry.New(m.cfg.Backoff)

	for {
		m.setState(AwaitingLink, "")
		if _, _, err := m.link.WaitConnected(ctx); err != nil {
			return nil
		}

		m.setState(Connecting, "")
		bs, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := b.Next()
			m.logger.Warn("broker connect failed, backing off",
				"broker", m.cfg.Endpoint.Address(),
				"retry_in", delay,
				"error", err,
			)
			if !retry.Sleep(ctx, delay) {
				return nil
			}
			continue
		}

		err = m.serve(ctx, bs)
		m.closeSession(ctx, bs, err)
		m.setState(AwaitingLink, "")
		if ctx.Err() != nil {
			return nil
		}

		// Only a session that got a state document through counts as a
		// success. One that connects and then fails keeps backing off.
		if bs.published > 0 {
			b.Reset()
		}
		delay := b.Next()
		m.logger.Debug("broker reconnect scheduled", "retry_in", delay)
		if !retry.Sleep(ctx, delay) {
			return nil
		}
	}
}

// connect opens a transport session and wraps it in a fresh brokerSession.
func (m *Manager) connect(ctx context.Context) (*brokerSession, error) {
	connCtx, cancel := context.WithTimeout(ctx, m.cfg.Endpoint.connectTimeout())
	defer cancel()

	conn, err := m.transport.Connect(connCtx, m.cfg.Endpoint, m.cfg.ClientID)
	m.metrics.BrokerConnect(err)
	if err != nil {
		return nil, err
	}

	bs := newBrokerSession(conn)
	m.logger.Info("broker session started",
		"session_id", bs.id,
		"broker", m.cfg.Endpoint.Address(),
		"client_id", m.cfg.ClientID,
	)
	m.events.Emit(events.SourceBroker, events.KindSessionStart, map[string]any{
		"session_id": bs.id,
		"broker":     m.cfg.Endpoint.Address(),
	})
	if m.onSession != nil {
		m.onSession(bs.id, bs.started)
	}
	return bs, nil
}

// serve runs discovery then the publish loop on bs. It returns the reason
// the session ended. The session context is cancelled when the link is
// lost or the transport drops, which aborts any in-flight publish.
func (m *Manager) serve(ctx context.Context, bs *brokerSession) error {
	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go m.watchSession(sctx, cancel, bs)

	m.setState(PublishingDiscovery, bs.id)
	if err := m.publishDiscovery(sctx, bs); err != nil {
		return sessionErr(sctx, err)
	}

	m.setState(Publishing, bs.id)
	return sessionErr(sctx, m.publishLoop(sctx, bs))
}

// sessionErr prefers the recorded teardown cause over the publish error
// it provoked.
func sessionErr(sctx context.Context, err error) error {
	if cause := context.Cause(sctx); cause != nil {
		return cause
	}
	return err
}

// watchSession cancels the session context when the link leaves
// Connected or the transport reports a drop.
func (m *Manager) watchSession(sctx context.Context, cancel context.CancelCauseFunc, bs *brokerSession) {
	for {
		changed, _ := m.link.Changed()
		if st, _ := m.link.State(); !st.IsConnected() {
			cancel(errLinkLost)
			return
		}
		select {
		case <-sctx.Done():
			return
		case <-bs.conn.Done():
			cancel(errTransportClosed)
			return
		case <-changed:
		}
	}
}

// publishDiscovery sends every entity's discovery config, then the
// availability birth message, and only then marks the session ready for
// state publishes.
func (m *Manager) publishDiscovery(ctx context.Context, bs *brokerSession) error {
	for _, msg := range m.desc.Discovery() {
		start := time.Now()
		err := bs.conn.Publish(ctx, msg.Topic, msg.Payload, true)
		m.metrics.Publish(metrics.KindDiscovery, err, time.Since(start))
		if err != nil {
			return fmt.Errorf("publish discovery for %s: %w", msg.Entity, err)
		}
		m.logger.Debug("mqtt discovery published", "entity", msg.Entity, "topic", msg.Topic)
	}

	start := time.Now()
	err := bs.conn.Publish(ctx, m.desc.AvailabilityTopic(), []byte(PayloadOnline), true)
	m.metrics.Publish(metrics.KindAvailability, err, time.Since(start))
	if err != nil {
		return fmt.Errorf("publish availability: %w", err)
	}

	bs.discoveryPublished = true
	m.logger.Info("mqtt discovery published",
		"session_id", bs.id,
		"entities", len(m.desc.Discovery()),
	)
	return nil
}

// publishLoop publishes the latest measurement whenever the store moves
// past what this session has sent. The limiter spaces publishes; the
// store is re-read after it admits so only the newest value goes out.
func (m *Manager) publishLoop(ctx context.Context, bs *brokerSession) error {
	for {
		changed, seq := m.store.Changed()
		if seq > bs.lastSeq {
			if err := m.limiter.Wait(ctx); err != nil {
				return err
			}
			meas, seq, ok := m.store.Read()
			if !ok || seq == bs.lastSeq {
				continue
			}
			if err := m.publishState(ctx, bs, meas); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// publishState sends one combined state document.
func (m *Manager) publishState(ctx context.Context, bs *brokerSession, meas measurement.Measurement) error {
	if !bs.discoveryPublished {
		return errDiscoveryPending
	}
	payload, err := StatePayload(meas)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	start := time.Now()
	err = bs.conn.Publish(ctx, m.desc.StateTopic(), payload, true)
	m.metrics.Publish(metrics.KindState, err, time.Since(start))
	if err != nil {
		return fmt.Errorf("publish state seq %d: %w", meas.Seq, err)
	}

	bs.lastSeq = meas.Seq
	bs.published++
	m.logger.Debug("mqtt state published", "session_id", bs.id, "seq", meas.Seq)
	m.logger.Log(ctx, config.LevelTrace, "mqtt state payload", "topic", m.desc.StateTopic(), "payload", string(payload))
	return nil
}

// closeSession tears bs down. On shutdown a clean "offline" is sent
// first, since a clean disconnect suppresses the will.
func (m *Manager) closeSession(ctx context.Context, bs *brokerSession, reason error) {
	shutdown := ctx.Err() != nil
	if shutdown && bs.discoveryPublished {
		offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := bs.conn.Publish(offCtx, m.desc.AvailabilityTopic(), []byte(PayloadOffline), true); err != nil {
			m.logger.Warn("mqtt offline publish failed", "error", err)
		}
		cancel()
	}
	if err := bs.conn.Close(); err != nil {
		m.logger.Debug("mqtt session close", "session_id", bs.id, "error", err)
	}

	level := slog.LevelWarn
	if shutdown {
		level = slog.LevelInfo
		reason = context.Canceled
	}
	m.logger.Log(context.Background(), level, "broker session ended",
		"session_id", bs.id,
		"reason", reason,
		"published", bs.published,
		"duration", time.Since(bs.started).Round(time.Millisecond),
	)
	m.events.Emit(events.SourceBroker, events.KindSessionEnd, map[string]any{
		"session_id": bs.id,
		"reason":     fmt.Sprint(reason),
		"published":  bs.published,
	})
}
