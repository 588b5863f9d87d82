package display

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/mqtt"
	"github.com/nugget/airnode/internal/network"
)

type frame struct {
	seq   uint64
	stale bool
	stage Stage
	isRun bool // false for stage frames
}

type fakeDisplay struct {
	mu     sync.Mutex
	frames []frame
	fail   atomic.Int32 // number of renders left to fail
}

func (f *fakeDisplay) Render(_ context.Context, m measurement.Measurement, stale bool) error {
	if f.fail.Load() > 0 {
		f.fail.Add(-1)
		return errors.New("spi write failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame{seq: m.Seq, stale: stale, isRun: true})
	return nil
}

func (f *fakeDisplay) RenderStage(_ context.Context, s Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame{stage: s})
	return nil
}

func (f *fakeDisplay) snapshot() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.frames...)
}

type manualClock struct{ now atomic.Int64 }

func (c *manualClock) Now() time.Duration { return time.Duration(c.now.Load()) }
func (c *manualClock) Set(d time.Duration) { c.now.Store(int64(d)) }

func startPresenter(t *testing.T, p *Presenter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPresenterRendersEachReading(t *testing.T) {
	t.Parallel()
	store := measurement.NewStore()
	fd := &fakeDisplay{}
	clk := &manualClock{}
	p := NewPresenter(fd, store, Config{Period: time.Hour}, nil)
	p.SetClock(clk.Now)
	startPresenter(t, p)

	store.Write(measurement.Measurement{PM2_5: 3})
	waitFor(t, "first frame", func() bool { return len(fd.snapshot()) == 1 })
	store.Write(measurement.Measurement{PM2_5: 4})
	waitFor(t, "second frame", func() bool { return len(fd.snapshot()) == 2 })

	for i, f := range fd.snapshot() {
		if !f.isRun || f.seq != uint64(i+1) || f.stale {
			t.Errorf("frame %d = %+v, want fresh seq %d", i, f, i+1)
		}
	}
}

func TestPresenterMarksStale(t *testing.T) {
	t.Parallel()
	store := measurement.NewStore()
	fd := &fakeDisplay{}
	clk := &manualClock{}
	p := NewPresenter(fd, store, Config{Period: 2 * time.Millisecond, StalePeriods: 5}, nil)
	p.SetClock(clk.Now)
	startPresenter(t, p)

	store.Write(measurement.Measurement{CapturedAt: 0})
	waitFor(t, "fresh frame", func() bool { return len(fd.snapshot()) == 1 })

	clk.Set(time.Second)
	waitFor(t, "stale frame", func() bool { return len(fd.snapshot()) == 2 })

	frames := fd.snapshot()
	if frames[0].stale || !frames[1].stale {
		t.Errorf("frames = %+v, want fresh then stale", frames)
	}

	// Stale is rendered once, not on every tick.
	time.Sleep(20 * time.Millisecond)
	if n := len(fd.snapshot()); n != 2 {
		t.Errorf("frames after idle = %d, want 2", n)
	}

	store.Write(measurement.Measurement{CapturedAt: time.Second})
	waitFor(t, "recovered frame", func() bool { return len(fd.snapshot()) == 3 })
	if f := fd.snapshot()[2]; f.stale {
		t.Errorf("new reading rendered stale: %+v", f)
	}
}

func TestPresenterSurvivesRenderErrors(t *testing.T) {
	t.Parallel()
	store := measurement.NewStore()
	fd := &fakeDisplay{}
	fd.fail.Store(1)
	mt := metrics.New()
	p := NewPresenter(fd, store, Config{Period: time.Hour}, nil)
	p.SetMetrics(mt)
	startPresenter(t, p)

	store.Write(measurement.Measurement{})
	waitFor(t, "failed render", func() bool { return fd.fail.Load() == 0 })
	store.Write(measurement.Measurement{})
	waitFor(t, "frame after failure", func() bool { return len(fd.snapshot()) == 1 })

	if got := fd.snapshot()[0].seq; got != 2 {
		t.Errorf("rendered seq = %d, want 2", got)
	}

	families, err := mt.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	var errorsSeen float64
	for _, mf := range families {
		if mf.GetName() == "airnode_display_errors_total" {
			errorsSeen = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if errorsSeen != 1 {
		t.Errorf("airnode_display_errors_total = %v, want 1", errorsSeen)
	}
}

func TestPresenterBootStages(t *testing.T) {
	t.Parallel()
	store := measurement.NewStore()
	fd := &fakeDisplay{}
	var stage atomic.Int32
	p := NewPresenter(fd, store, Config{Period: time.Millisecond}, nil)
	p.SetStageSource(func() Stage { return Stage(stage.Load()) })
	startPresenter(t, p)

	waitFor(t, "network stage", func() bool { return len(fd.snapshot()) == 1 })
	stage.Store(int32(StageBroker))
	waitFor(t, "broker stage", func() bool { return len(fd.snapshot()) == 2 })
	store.Write(measurement.Measurement{})
	waitFor(t, "first reading", func() bool { return len(fd.snapshot()) == 4 })

	frames := fd.snapshot()
	want := []Stage{StageNetwork, StageBroker, StageReady}
	for i, s := range want {
		if frames[i].isRun || frames[i].stage != s {
			t.Errorf("frame %d = %+v, want stage %v", i, frames[i], s)
		}
	}
	if !frames[3].isRun {
		t.Errorf("frame 3 = %+v, want the reading", frames[3])
	}
}

func TestStageOf(t *testing.T) {
	t.Parallel()
	up := network.State{Kind: network.Connected, Addr: netip.MustParseAddr("10.0.0.9")}
	tests := []struct {
		link   network.State
		broker mqtt.State
		want   Stage
	}{
		{network.State{Kind: network.Disconnected}, mqtt.AwaitingLink, StageNetwork},
		{network.State{Kind: network.Joining}, mqtt.AwaitingLink, StageNetwork},
		{up, mqtt.Connecting, StageBroker},
		{up, mqtt.PublishingDiscovery, StageBroker},
		{up, mqtt.Publishing, StageSensor},
	}
	for _, tt := range tests {
		if got := StageOf(tt.link, tt.broker); got != tt.want {
			t.Errorf("StageOf(%v, %v) = %v, want %v", tt.link, tt.broker, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{3.14159, "3.14"},
		{10, "10.00"},
		{10.04, "10.0"},
		{45.56, "45.6"},
		{100, "100.0"},
		{100.4, "100"},
		{487.6, "488"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextRender(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	d := NewText(&buf)

	m := measurement.Measurement{PM2_5: 150, VOCIndex: 101, Temperature: 21.5, Humidity: 5.123, Seq: 9}
	if err := d.Render(context.Background(), m, true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"#9", "dangerous", "STALE", "150", "101", "21.5", "5.12"} {
		if !strings.Contains(out, want) {
			t.Errorf("frame missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := d.RenderStage(context.Background(), StageBroker); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "connecting to broker") {
		t.Errorf("stage line = %q", buf.String())
	}
}

func TestNoneDisplay(t *testing.T) {
	t.Parallel()
	if err := (None{}).Render(context.Background(), measurement.Measurement{}, false); err != nil {
		t.Errorf("None.Render() = %v", err)
	}
}
