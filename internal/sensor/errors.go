package sensor

import (
	"errors"
	"fmt"
)

// Kind classifies a sensor failure.
type Kind int

const (
	// KindTransport is a bus or I/O failure talking to the device.
	KindTransport Kind = iota
	// KindChecksum is a corrupted frame.
	KindChecksum
	// KindNotReady means the device has no new data yet.
	KindNotReady
	// KindOutOfRange is a reading that failed validation.
	KindOutOfRange
	// KindInternal is a failure the device cannot recover from by
	// itself, such as a failed re-initialization.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindChecksum:
		return "checksum"
	case KindNotReady:
		return "not_ready"
	case KindOutOfRange:
		return "out_of_range"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrNotReady is returned by drivers when no new sample is available.
	ErrNotReady = errors.New("sensor data not ready")

	// ErrPersistentFault marks a re-initialization that did not recover
	// the sensor.
	ErrPersistentFault = errors.New("sensor persistent fault")
)

// Error is a classified sensor failure.
type Error struct {
	Op   string // "init", "read", "validate", "reinit"
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sensor %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("sensor %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the same operation may succeed.
func (e *Error) Transient() bool {
	return e.Kind != KindInternal
}

// classify wraps err as an *Error for op, keeping an existing
// classification when the driver supplied one.
func classify(op string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	kind := KindTransport
	if errors.Is(err, ErrNotReady) {
		kind = KindNotReady
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
