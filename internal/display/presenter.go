package display

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/metrics"
)

// Config controls the presenter.
type Config struct {
	// Period is the staleness tick, normally the sensor period.
	Period time.Duration

	// StalePeriods is how many periods may pass without a new reading
	// before it is shown as stale (default: 5).
	StalePeriods int
}

// Presenter redraws the display whenever the store changes and when the
// current reading crosses into staleness. Render failures are logged and
// counted; they never stop the presenter.
type Presenter struct {
	display Display
	store   *measurement.Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   measurement.Clock
	stage   func() Stage
}

// NewPresenter creates a presenter for d.
func NewPresenter(d Display, store *measurement.Store, cfg Config, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.StalePeriods <= 0 {
		cfg.StalePeriods = 5
	}
	return &Presenter{
		display: d,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "display"),
		clock:   measurement.SinceStart,
	}
}

// SetMetrics attaches the metrics instruments.
func (p *Presenter) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// SetClock replaces the monotonic clock compared against CapturedAt. It
// must be the clock the acquisition task stamps readings with.
func (p *Presenter) SetClock(c measurement.Clock) { p.clock = c }

// SetStageSource enables boot progress screens. fn is polled every tick
// until the first reading arrives; it is ignored when the display does
// not implement [StageDisplay].
func (p *Presenter) SetStageSource(fn func() Stage) { p.stage = fn }

func (p *Presenter) stale(m measurement.Measurement) bool {
	return p.clock()-m.CapturedAt > time.Duration(p.cfg.StalePeriods)*p.cfg.Period
}

// Run draws until ctx is cancelled. It always returns nil.
func (p *Presenter) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Period)
	defer ticker.Stop()

	stageDisplay, _ := p.display.(StageDisplay)
	lastStage := Stage(-1)

	var (
		shownSeq   uint64
		shownStale bool
	)
	for {
		changed, _ := p.store.Changed()
		m, seq, ok := p.store.Read()

		switch {
		case ok:
			stale := p.stale(m)
			if seq != shownSeq || stale != shownStale {
				if shownSeq == 0 && stageDisplay != nil && p.stage != nil {
					p.renderStage(ctx, stageDisplay, StageReady)
				}
				p.render(ctx, m, stale)
				shownSeq, shownStale = seq, stale
			}
		case stageDisplay != nil && p.stage != nil:
			if s := p.stage(); s != lastStage {
				p.renderStage(ctx, stageDisplay, s)
				lastStage = s
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case <-ticker.C:
		}
	}
}

func (p *Presenter) render(ctx context.Context, m measurement.Measurement, stale bool) {
	if err := p.display.Render(ctx, m, stale); err != nil {
		p.metrics.DisplayError()
		p.logger.Warn("display render failed", "seq", m.Seq, "error", err)
		return
	}
	if stale {
		p.logger.Debug("display showing stale reading", "seq", m.Seq)
	}
}

func (p *Presenter) renderStage(ctx context.Context, d StageDisplay, s Stage) {
	if err := d.RenderStage(ctx, s); err != nil {
		p.metrics.DisplayError()
		p.logger.Warn("display stage render failed", "stage", s, "error", err)
	}
}
