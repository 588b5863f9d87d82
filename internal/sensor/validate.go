package sensor

import (
	"fmt"
	"math"
)

// Plausibility limits. Anything outside them is a bad frame, not air.
const (
	maxPM       = 1000.0
	maxIndex    = 500.0
	minTempC    = -40.0
	maxTempC    = 125.0
	maxHumidity = 100.0
)

// validate rejects readings a real device cannot produce.
func validate(r RawReading) error {
	fields := []struct {
		name     string
		v        float64
		min, max float64
	}{
		{"pm1", r.PM1_0, 0, maxPM},
		{"pm2_5", r.PM2_5, 0, maxPM},
		{"pm4", r.PM4_0, 0, maxPM},
		{"pm10", r.PM10, 0, maxPM},
		{"voc", r.VOCIndex, 0, maxIndex},
		{"nox", r.NOxIndex, 0, maxIndex},
		{"temperature", r.Temperature, minTempC, maxTempC},
		{"humidity", r.Humidity, 0, maxHumidity},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &Error{Op: "validate", Kind: KindOutOfRange, Err: fmt.Errorf("%s is not finite", f.name)}
		}
		if f.v < f.min || f.v > f.max {
			return &Error{Op: "validate", Kind: KindOutOfRange,
				Err: fmt.Errorf("%s = %g outside [%g, %g]", f.name, f.v, f.min, f.max)}
		}
	}
	return nil
}
