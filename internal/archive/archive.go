// Package archive copies measurements into InfluxDB for long-term
// history. It is a plain consumer of the measurement store: it never
// blocks the acquisition task and its failures never reach the broker
// path.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nugget/airnode/internal/measurement"
)

const pointName = "air_quality"

// Config locates the InfluxDB bucket.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Timeout bounds each write (default: 5s).
	Timeout time.Duration
}

// PointWriter is the part of the InfluxDB blocking write API the
// archiver uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Client is an InfluxDB connection with a blocking write API for one
// bucket. Caller should call Close when done.
type Client struct {
	client influxdb2.Client
	PointWriter
}

// Dial creates the InfluxDB client and checks the server is ready.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	readyCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()
	if _, err := client.Ready(readyCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb %s not ready: %w", cfg.URL, err)
	}
	return &Client{
		client:      client,
		PointWriter: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Close releases the client.
func (c *Client) Close() {
	c.client.Close()
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

// Archiver writes one point per stored measurement.
type Archiver struct {
	w       PointWriter
	store   *measurement.Store
	device  string
	serial  atomic.Pointer[string]
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an archiver tagging points with device.
func New(w PointWriter, store *measurement.Store, device string, cfg Config, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		w:       w,
		store:   store,
		device:  device,
		timeout: cfg.timeout(),
		logger:  logger.With("component", "archive"),
		now:     time.Now,
	}
}

// SetSerial sets the sensor serial tag for subsequent points. It is safe
// to call while Run is active.
func (a *Archiver) SetSerial(serial string) { a.serial.Store(&serial) }

func (a *Archiver) serialTag() string {
	if p := a.serial.Load(); p != nil {
		return *p
	}
	return ""
}

// Run writes every new measurement until ctx is cancelled. Readings that
// arrive while a write is in flight are skipped; only the latest is kept.
func (a *Archiver) Run(ctx context.Context) error {
	var seq uint64
	for {
		m, next, err := a.store.Wait(ctx, seq)
		if err != nil {
			return nil
		}
		seq = next

		wctx, cancel := context.WithTimeout(ctx, a.timeout)
		err = a.w.WritePoint(wctx, Point(m, a.device, a.serialTag(), a.now()))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("archive write failed", "seq", m.Seq, "error", err)
			continue
		}
		a.logger.Debug("archive point written", "seq", m.Seq)
	}
}

// Point converts m into an InfluxDB point. The serial tag is omitted
// while unknown.
func Point(m measurement.Measurement, device, serial string, at time.Time) *write.Point {
	p := influxdb2.NewPointWithMeasurement(pointName).
		AddTag("device", device)
	if serial != "" {
		p.AddTag("serial", serial)
	}
	return p.
		AddField("pm1", m.PM1_0).
		AddField("pm2_5", m.PM2_5).
		AddField("pm4", m.PM4_0).
		AddField("pm10", m.PM10).
		AddField("voc", m.VOCIndex).
		AddField("nox", m.NOxIndex).
		AddField("temperature", m.Temperature).
		AddField("humidity", m.Humidity).
		AddField("seq", int64(m.Seq)).
		SetTime(at)
}
