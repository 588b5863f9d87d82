// Package supervisor runs the node's long-lived tasks and keeps them
// running. A task that returns or panics while the node is up is logged,
// counted and started again after a delay. Only an error wrapping
// [ErrFatal] stops the node.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/airnode/internal/events"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/retry"
)

// ErrFatal marks a task error that restarting cannot fix. The first task
// to return one cancels every other task and its error is returned from
// [Supervisor.Run].
var ErrFatal = errors.New("unrecoverable")

// Fatal wraps err with [ErrFatal].
func Fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// Task is one supervised unit of work. Run should block until ctx is
// cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config controls restart pacing.
type Config struct {
	// RestartDelay is the first delay before restarting an exited task
	// (default: 1s). Consecutive quick exits double it up to
	// MaxRestartDelay (default: 30s).
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableAfter is how long a task must run before its restart delay
	// resets (default: 1m).
	StableAfter time.Duration
}

// DefaultConfig returns the production restart pacing.
func DefaultConfig() Config {
	return Config{
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
		StableAfter:     time.Minute,
	}
}

// Supervisor starts tasks and restarts them when they exit.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  *events.Bus
}

// New creates a supervisor. Zero fields in cfg take their defaults.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = def.MaxRestartDelay
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}
	return &Supervisor{cfg: cfg, logger: logger.With("component", "supervisor")}
}

// SetMetrics attaches the metrics instruments.
func (s *Supervisor) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetEventBus attaches the operational event bus.
func (s *Supervisor) SetEventBus(b *events.Bus) { s.events = b }

// Run starts every task and blocks until ctx is cancelled and all tasks
// have returned. It returns nil on a normal shutdown, or the first fatal
// task error.
func (s *Supervisor) Run(ctx context.Context, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			return s.keep(gctx, t)
		})
	}
	return g.Wait()
}

// keep runs t until ctx is cancelled, restarting it after every exit
// that is not fatal.
func (s *Supervisor) keep(ctx context.Context, t Task) error {
	b := retry.New(retry.BackoffConfig{
		InitialDelay: s.cfg.RestartDelay,
		MaxDelay:     s.cfg.MaxRestartDelay,
		Multiplier:   2,
	})
	log := s.logger.With("task", t.Name)

	for {
		log.Debug("task starting")
		started := time.Now()
		err := runTask(ctx, t)
		if ctx.Err() != nil {
			log.Debug("task stopped", "error", err)
			return nil
		}

		uptime := time.Since(started)
		if errors.Is(err, ErrFatal) {
			s.events.Emit(events.SourceSupervisor, events.KindTaskExit, map[string]any{
				"task":      t.Name,
				"error":     err.Error(),
				"uptime_ms": uptime.Milliseconds(),
			})
			log.Error("task failed permanently, stopping node", "error", err)
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
		if uptime >= s.cfg.StableAfter {
			b.Reset()
		}
		delay := b.Next()

		s.metrics.TaskRestart(t.Name)
		s.events.Emit(events.SourceSupervisor, events.KindTaskExit, map[string]any{
			"task":      t.Name,
			"error":     fmt.Sprint(err),
			"uptime_ms": uptime.Milliseconds(),
		})
		log.Error("task exited unexpectedly, restarting",
			"error", err,
			"uptime", uptime.Round(time.Millisecond),
			"restart_in", delay,
		)

		if !retry.Sleep(ctx, delay) {
			return nil
		}
	}
}

// runTask calls t.Run, converting a panic into an error.
func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v\n%s", t.Name, r, debug.Stack())
		}
	}()
	return t.Run(ctx)
}
