package display

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nugget/airnode/internal/measurement"
)

// Text draws a fixed two-column panel to a writer, one frame per render.
// It suits a serial console or a terminal attached to the node.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText returns a text display writing to w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

// Render writes one frame.
func (t *Text) Render(_ context.Context, m measurement.Measurement, stale bool) error {
	var b strings.Builder

	status := m.Health().String()
	if stale {
		status += "  STALE"
	}
	fmt.Fprintf(&b, "-- air quality #%d  [%s]\n", m.Seq, status)

	rows := [][2]cell{
		{{"PM1.0", m.PM1_0, "µg/m³"}, {"VOC", m.VOCIndex, ""}},
		{{"PM2.5", m.PM2_5, "µg/m³"}, {"NOx", m.NOxIndex, ""}},
		{{"PM4.0", m.PM4_0, "µg/m³"}, {"Temp", m.Temperature, "°C"}},
		{{"PM10", m.PM10, "µg/m³"}, {"Hum", m.Humidity, "%"}},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%-6s %6s %-6s %-5s %6s %s\n",
			r[0].label, FormatValue(r[0].value), r[0].unit,
			r[1].label, FormatValue(r[1].value), r[1].unit)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// RenderStage writes a single progress line.
func (t *Text) RenderStage(_ context.Context, s Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.w, "-- airnode: %s\n", s); err != nil {
		return fmt.Errorf("write stage: %w", err)
	}
	return nil
}

type cell struct {
	label string
	value float64
	unit  string
}

// FormatValue picks the number of decimals so every reading fits in four
// digits: none above 100, one above 10, two otherwise.
func FormatValue(v float64) string {
	switch {
	case v > 100:
		return strconv.FormatFloat(v, 'f', 0, 64)
	case v > 10:
		return strconv.FormatFloat(v, 'f', 1, 64)
	default:
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}
