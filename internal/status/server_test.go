package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/nugget/airnode/internal/events"
	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/mqtt"
	"github.com/nugget/airnode/internal/network"
)

type staticLink network.State

func (l staticLink) State() (network.State, uint64) { return network.State(l), 1 }

type staticBroker mqtt.State

func (b staticBroker) State() mqtt.State { return mqtt.State(b) }

var upLink = staticLink{Kind: network.Connected, Addr: netip.MustParseAddr("192.168.1.40")}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestHealthPublishing(t *testing.T) {
	t.Parallel()
	store := measurement.NewStore()
	store.Write(measurement.Measurement{CapturedAt: 10 * time.Second})

	s := NewServer(Config{StaleAfter: 5 * time.Second}, Deps{
		Link:      upLink,
		Broker:    staticBroker(mqtt.Publishing),
		Store:     store,
		BootCount: 7,
	}, nil)
	s.clock = func() time.Duration { return 12 * time.Second }

	code, body := get(t, s.Handler(), "/healthz")
	if code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200: %s", code, body)
	}

	var h Health
	if err := json.Unmarshal([]byte(body), &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Broker != "publishing" || h.BootCount != 7 {
		t.Errorf("health = %+v", h)
	}
	if h.Link.State != "connected" || h.Link.Addr != "192.168.1.40" {
		t.Errorf("link = %+v", h.Link)
	}
	if h.Reading == nil || h.Reading.Seq != 1 || h.Reading.AgeSeconds != 2 || h.Reading.Stale {
		t.Errorf("reading = %+v, want seq 1, 2s old, fresh", h.Reading)
	}
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{}, Deps{
		Link:   staticLink{Kind: network.Joining},
		Broker: staticBroker(mqtt.AwaitingLink),
		Store:  measurement.NewStore(),
	}, nil)

	code, body := get(t, s.Handler(), "/healthz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("GET /healthz = %d, want 503", code)
	}
	var h Health
	if err := json.Unmarshal([]byte(body), &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "degraded" || h.Link.State != "joining" || h.Link.Addr != "" || h.Reading != nil {
		t.Errorf("health = %+v", h)
	}
}

func TestHealthStale(t *testing.T) {
	t.Parallel()
	store := measurement.NewStore()
	store.Write(measurement.Measurement{})
	s := NewServer(Config{StaleAfter: 5 * time.Second}, Deps{
		Link:   upLink,
		Broker: staticBroker(mqtt.Publishing),
		Store:  store,
	}, nil)
	s.clock = func() time.Duration { return time.Minute }

	if h := s.Snapshot(); h.Reading == nil || !h.Reading.Stale {
		t.Errorf("reading = %+v, want stale", h.Reading)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	mt := metrics.New()
	mt.SetSequence(42)
	s := NewServer(Config{}, Deps{
		Link:    upLink,
		Broker:  staticBroker(mqtt.Publishing),
		Store:   measurement.NewStore(),
		Metrics: mt,
	}, nil)

	code, body := get(t, s.Handler(), "/metrics")
	if code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", code)
	}
	if !strings.Contains(body, "airnode_measurement_sequence 42") {
		t.Errorf("metrics body missing sequence gauge:\n%s", body)
	}
}

func TestMetricsEndpointAbsentWithoutMetrics(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{}, Deps{Link: upLink, Broker: staticBroker(mqtt.Publishing), Store: measurement.NewStore()}, nil)
	if code, _ := get(t, s.Handler(), "/metrics"); code != http.StatusNotFound {
		t.Errorf("GET /metrics = %d, want 404", code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()
	rec := events.NewRecorder(4)
	rec.Record(events.Event{Source: events.SourceBroker, Kind: events.KindSessionStart})
	rec.Record(events.Event{Source: events.SourceNetwork, Kind: events.KindLinkState})

	s := NewServer(Config{}, Deps{
		Link:     upLink,
		Broker:   staticBroker(mqtt.Publishing),
		Store:    measurement.NewStore(),
		Recorder: rec,
	}, nil)

	code, body := get(t, s.Handler(), "/events")
	if code != http.StatusOK {
		t.Fatalf("GET /events = %d", code)
	}
	var got []events.Event
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Kind != events.KindSessionStart || got[1].Kind != events.KindLinkState {
		t.Errorf("events = %+v", got)
	}
}

func TestEventsEndpointWithoutRecorder(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{}, Deps{Link: upLink, Broker: staticBroker(mqtt.Publishing), Store: measurement.NewStore()}, nil)
	if _, body := get(t, s.Handler(), "/events"); strings.TrimSpace(body) != "[]" {
		t.Errorf("GET /events = %q, want []", body)
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{}, Deps{Link: upLink, Broker: staticBroker(mqtt.Publishing), Store: measurement.NewStore()}, nil)
	code, body := get(t, s.Handler(), "/version")
	if code != http.StatusOK || !strings.Contains(body, `"go_version"`) {
		t.Errorf("GET /version = %d %s", code, body)
	}
}

func TestRunRejectsMalformedListen(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{Listen: "no-port-here"}, Deps{
		Link:   upLink,
		Broker: staticBroker(mqtt.Publishing),
		Store:  measurement.NewStore(),
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, ErrUnusableAddress) {
		t.Errorf("Run() = %v, want ErrUnusableAddress", err)
	}
}
