package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/airnode/internal/events"
	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/retry"
)

// Acquirer polls a Sensor and writes validated readings to a Store. It is
// the Store's only writer.
type Acquirer struct {
	sensor   Sensor
	store    *measurement.Store
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   *events.Bus
	clock    measurement.Clock
	onSerial func(string)
	smoother *Smoother

	// Owned by the Run goroutine.
	ready      bool
	failures   int
	graceUntil time.Duration
	settled    bool // a good read happened since the last initialize
}

// NewAcquirer creates an acquirer. Zero timing fields in cfg take their
// defaults.
func NewAcquirer(s Sensor, store *measurement.Store, cfg Config, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	a := &Acquirer{
		sensor: s,
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "sensor"),
		clock:  measurement.SinceStart,
	}
	if cfg.Smoothing.Enabled() {
		a.smoother = NewSmoother(cfg.Smoothing)
	}
	return a
}

// SetMetrics attaches the metrics instruments.
func (a *Acquirer) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// SetEventBus attaches the operational event bus.
func (a *Acquirer) SetEventBus(b *events.Bus) { a.events = b }

// SetClock replaces the monotonic clock used for CapturedAt and the
// warm-up grace window.
func (a *Acquirer) SetClock(c measurement.Clock) { a.clock = c }

// OnSerial registers fn to receive the sensor serial number after each
// successful initialization. Only used when the sensor implements
// [SerialNumberer].
func (a *Acquirer) OnSerial(fn func(serial string)) { a.onSerial = fn }

// Run waits for the sensor to power up, then polls it every period until
// ctx is cancelled. It never returns an error for sensor failures; those
// are absorbed by the failure counter and re-initialization.
func (a *Acquirer) Run(ctx context.Context) error {
	a.logger.Info("sensor warming up", "warmup", a.cfg.Warmup, "period", a.cfg.Period)
	if !retry.Sleep(ctx, a.cfg.Warmup) {
		return nil
	}

	if err := a.initialize(ctx, "init"); err != nil {
		a.fail(ctx, err)
	}

	ticker := time.NewTicker(a.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// cycle performs one poll. Failures are routed to fail and never written.
func (a *Acquirer) cycle(ctx context.Context) {
	if !a.ready {
		if err := a.initialize(ctx, "init"); err != nil {
			a.fail(ctx, err)
			return
		}
	}

	raw, err := a.sensor.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.fail(ctx, classify("read", err))
		return
	}
	if err := validate(raw); err != nil {
		a.fail(ctx, err)
		return
	}

	if a.smoother != nil {
		raw = a.smoother.Add(raw)
	}
	stored := a.store.Write(raw.measurement(a.clock()))

	if a.failures > 0 {
		a.logger.Info("sensor reads recovered", "after_failures", a.failures)
	}
	a.failures = 0
	a.settled = true
	a.metrics.SensorRead(metrics.ResultOK)
	a.metrics.SetSequence(stored.Seq)
	a.logger.Debug("measurement stored", "seq", stored.Seq, "pm2_5", stored.PM2_5)
}

// fail counts a failure unless it falls in the warm-up grace window, and
// re-initializes the sensor once the threshold is exceeded.
func (a *Acquirer) fail(ctx context.Context, err error) {
	if a.inGrace() {
		a.metrics.SensorRead(metrics.ResultWarmup)
		a.logger.Debug("sensor not settled after init", "error", err)
		return
	}

	a.failures++
	a.metrics.SensorRead(metrics.ResultError)

	var se *Error
	if errors.As(err, &se) && se.Kind == KindNotReady {
		a.logger.Debug("sensor data not ready", "failures", a.failures)
	} else {
		a.logger.Warn("sensor read failed", "failures", a.failures, "error", err)
	}

	if a.failures > a.cfg.ReinitThreshold {
		a.failures = 0
		a.reinitialize(ctx)
	}
}

func (a *Acquirer) inGrace() bool {
	return a.ready && !a.settled && a.clock() < a.graceUntil
}

// reinitialize runs Initialize bounded by one warm-up plus one period.
func (a *Acquirer) reinitialize(ctx context.Context) {
	a.metrics.SensorReinit()
	a.logger.Warn("re-initializing sensor after repeated failures",
		"threshold", a.cfg.ReinitThreshold)

	rctx, cancel := context.WithTimeout(ctx, a.cfg.Warmup+a.cfg.Period)
	defer cancel()

	if err := a.initialize(rctx, "reinit"); err != nil {
		if ctx.Err() != nil {
			return
		}
		fault := fmt.Errorf("%w: %w", ErrPersistentFault, err)
		a.metrics.SensorFault()
		a.logger.Error("sensor did not recover", "error", fault)
		a.events.Emit(events.SourceSensor, events.KindSensorFault, map[string]any{
			"error": err.Error(),
		})
	}
}

// initialize calls the driver and resets the grace window on success.
func (a *Acquirer) initialize(ctx context.Context, op string) error {
	err := a.sensor.Initialize(ctx)
	a.events.Emit(events.SourceSensor, events.KindSensorInit, map[string]any{
		"op": op,
		"ok": err == nil,
	})
	if err != nil {
		a.ready = false
		if se, ok := err.(*Error); ok {
			return se
		}
		return &Error{Op: op, Kind: KindInternal, Err: err}
	}

	a.ready = true
	a.settled = false
	a.graceUntil = a.clock() + a.cfg.Warmup
	a.logger.Info("sensor initialized", "op", op)

	if sn, ok := a.sensor.(SerialNumberer); ok {
		serial, err := sn.SerialNumber(ctx)
		if err != nil {
			a.logger.Warn("sensor serial number unavailable", "error", err)
		} else {
			a.logger.Info("sensor serial number", "serial", serial)
			if a.onSerial != nil {
				a.onSerial(serial)
			}
		}
	}
	return nil
}
