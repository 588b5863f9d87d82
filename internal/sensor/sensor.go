// Package sensor runs the acquisition task: it owns the air-quality sensor,
// polls it on a fixed period, validates and optionally smooths each
// reading, and writes the result to the measurement store. Read failures
// never escape the task; repeated failures trigger a re-initialization.
package sensor

import (
	"context"
	"time"

	"github.com/nugget/airnode/internal/measurement"
)

// Sensor is the hardware collaborator. Implementations must honour ctx
// and must not retain the context after returning.
type Sensor interface {
	// Initialize brings the device to a state where Read can succeed.
	// It may be called again at any time to recover a wedged device.
	Initialize(ctx context.Context) error

	// Read returns one complete reading. Errors should be *Error values
	// so the acquirer can classify them; plain errors are treated as
	// transport failures.
	Read(ctx context.Context) (RawReading, error)
}

// SerialNumberer is implemented by sensors that can report a serial
// number. The acquirer logs it after every successful initialization.
type SerialNumberer interface {
	SerialNumber(ctx context.Context) (string, error)
}

// RawReading is what a driver returns before validation.
type RawReading struct {
	PM1_0, PM2_5, PM4_0, PM10 float64
	VOCIndex, NOxIndex        float64
	Temperature, Humidity     float64
}

func (r RawReading) measurement(at time.Duration) measurement.Measurement {
	return measurement.Measurement{
		PM1_0:       r.PM1_0,
		PM2_5:       r.PM2_5,
		PM4_0:       r.PM4_0,
		PM10:        r.PM10,
		VOCIndex:    r.VOCIndex,
		NOxIndex:    r.NOxIndex,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		CapturedAt:  at,
	}
}

// Config controls acquisition timing and smoothing.
type Config struct {
	// Warmup is the delay before the first Initialize and the grace
	// window after every (re)initialize during which failures are not
	// counted (default: 5s).
	Warmup time.Duration

	// Period is the polling interval (default: 1s).
	Period time.Duration

	// ReinitThreshold is the number of consecutive failures tolerated
	// before the sensor is re-initialized (default: 10).
	ReinitThreshold int

	// Smoothing configures rolling averages. Zero windows disable it.
	Smoothing SmoothingConfig
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		Warmup:          5 * time.Second,
		Period:          time.Second,
		ReinitThreshold: 10,
	}
}

// WithDefaults fills zero-valued timing fields from [DefaultConfig].
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Warmup <= 0 {
		c.Warmup = def.Warmup
	}
	if c.Period <= 0 {
		c.Period = def.Period
	}
	if c.ReinitThreshold <= 0 {
		c.ReinitThreshold = def.ReinitThreshold
	}
	return c
}
