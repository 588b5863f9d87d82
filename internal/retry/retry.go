// Package retry holds the bounded exponential backoff shared by every
// recovery loop on the node: network rejoin, broker reconnect and task
// restarts. Delays grow by a fixed multiplier from an initial value up to a
// ceiling and never stop; giving up is not an option for a headless device.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth.
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry.
	Multiplier float64

	// Jitter randomizes each delay by ±Jitter (0..1). Zero keeps the
	// schedule deterministic.
	Jitter float64
}

// DefaultBackoffConfig returns 2s, 4s, 8s, ... capped at 60s.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// WithDefaults fills zero-valued fields from def.
func (c BackoffConfig) WithDefaults(def BackoffConfig) BackoffConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = def.Jitter
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

// Backoff produces the delay sequence for one recovery loop. It is not
// safe for concurrent use; each loop owns its own.
type Backoff struct {
	b   *backoff.ExponentialBackOff
	max time.Duration
}

// New builds a Backoff from cfg. Zero fields fall back to
// [DefaultBackoffConfig].
func New(cfg BackoffConfig) *Backoff {
	cfg = cfg.WithDefaults(DefaultBackoffConfig())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = cfg.Jitter
	b.MaxElapsedTime = 0 // never stop
	b.Reset()

	return &Backoff{b: b, max: cfg.MaxDelay}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.b.NextBackOff()
	// Jitter can push a capped interval slightly past the ceiling.
	if d > b.max || d == backoff.Stop {
		d = b.max
	}
	return d
}

// Reset restarts the sequence from the initial delay. Call it after a
// successful attempt.
func (b *Backoff) Reset() {
	b.b.Reset()
}

// Sleep waits for d or until ctx is cancelled. Returns false if cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
