// Package display renders the latest measurement on the node's local
// screen. The [Presenter] task decides what to draw and when; drivers
// implement [Display] and only know how to draw it.
package display

import (
	"context"
	"fmt"

	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/mqtt"
	"github.com/nugget/airnode/internal/network"
)

// Display draws a measurement. stale is set when the reading is older
// than the presenter's staleness window.
type Display interface {
	Render(ctx context.Context, m measurement.Measurement, stale bool) error
}

// StageDisplay is implemented by displays that can show connection
// progress before the first reading arrives.
type StageDisplay interface {
	RenderStage(ctx context.Context, s Stage) error
}

// Stage is a boot progress step.
type Stage int

const (
	StageNetwork Stage = iota
	StageBroker
	StageSensor
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageNetwork:
		return "connecting to network"
	case StageBroker:
		return "connecting to broker"
	case StageSensor:
		return "waiting for sensor"
	case StageReady:
		return "ready"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageOf derives the boot stage from the link and broker states.
func StageOf(link network.State, broker mqtt.State) Stage {
	switch {
	case !link.IsConnected():
		return StageNetwork
	case broker != mqtt.Publishing:
		return StageBroker
	default:
		return StageSensor
	}
}

// None discards everything. It is used on headless nodes.
type None struct{}

func (None) Render(context.Context, measurement.Measurement, bool) error { return nil }
