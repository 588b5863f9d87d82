// Package measurement defines the sensor reading value shared by every
// consumer on the node and the single-slot store that hands the latest
// reading from the acquisition task to the broker, display and archive.
package measurement

import "time"

// Measurement is one complete set of sensor field values. It is a plain
// value: consumers receive copies and never mutate the stored reading.
type Measurement struct {
	// Particulate mass concentrations in µg/m³.
	PM1_0 float64 `json:"pm1"`
	PM2_5 float64 `json:"pm2_5"`
	PM4_0 float64 `json:"pm4"`
	PM10  float64 `json:"pm10"`

	// Sensor index scores (1..500, 100 is the learned baseline).
	VOCIndex float64 `json:"voc"`
	NOxIndex float64 `json:"nox"`

	Temperature float64 `json:"temperature"` // °C
	Humidity    float64 `json:"humidity"`    // %RH

	// Seq is assigned by the Store and strictly increases across writes
	// within one process lifetime.
	Seq uint64 `json:"seq"`

	// CapturedAt is the monotonic offset since process start at which
	// the reading was taken. It is not a wall-clock time.
	CapturedAt time.Duration `json:"-"`
}

// Health is a coarse air-quality rating used to pick the display theme.
type Health int

const (
	HealthOK Health = iota
	HealthWarning
	HealthDangerous
)

func (h Health) String() string {
	switch h {
	case HealthWarning:
		return "warning"
	case HealthDangerous:
		return "dangerous"
	default:
		return "ok"
	}
}

// Thresholds for [Measurement.Health]. Particulate values are µg/m³.
const (
	pmDanger  = 100.0
	vocDanger = 400.0
	noxDanger = 5.0

	pmWarn  = 25.0
	vocWarn = 225.0
	noxWarn = 2.5
)

// Health rates the reading. Any single field over its danger threshold
// makes the whole reading dangerous; temperature and humidity do not
// contribute.
func (m Measurement) Health() Health {
	if m.maxPM() > pmDanger || m.VOCIndex > vocDanger || m.NOxIndex > noxDanger {
		return HealthDangerous
	}
	if m.maxPM() > pmWarn || m.VOCIndex > vocWarn || m.NOxIndex > noxWarn {
		return HealthWarning
	}
	return HealthOK
}

func (m Measurement) maxPM() float64 {
	return max(m.PM1_0, m.PM2_5, m.PM4_0, m.PM10)
}

// Clock returns the monotonic offset since an arbitrary fixed origin. The
// acquisition task stamps CapturedAt with it; tests substitute their own.
type Clock func() time.Duration

var processStart = time.Now()

// SinceStart is the default [Clock]: time elapsed since process start,
// measured on the monotonic clock.
func SinceStart() time.Duration {
	return time.Since(processStart)
}
