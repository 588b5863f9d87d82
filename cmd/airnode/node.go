package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/airnode/internal/archive"
	"github.com/nugget/airnode/internal/buildinfo"
	"github.com/nugget/airnode/internal/config"
	"github.com/nugget/airnode/internal/display"
	"github.com/nugget/airnode/internal/events"
	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/mqtt"
	"github.com/nugget/airnode/internal/network"
	"github.com/nugget/airnode/internal/opstate"
	"github.com/nugget/airnode/internal/retry"
	"github.com/nugget/airnode/internal/sensor"
	"github.com/nugget/airnode/internal/status"
	"github.com/nugget/airnode/internal/supervisor"
)

// runNode is the primary operating mode. It builds every component from
// the configuration and runs them under the supervisor until ctx is
// cancelled. Startup fails only on configuration problems; a missing
// broker, link or sensor is something the tasks recover from.
func runNode(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting airnode", buildinfo.Current().LogAttrs()...)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate has already accepted the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"device", cfg.Device.Identifier,
		"broker", cfg.MQTT.Host,
		"protocol", cfg.MQTT.Protocol,
	)

	desc, err := newDescriptor(cfg)
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}

	mt := metrics.New()
	bus := events.New()
	recorder := events.NewRecorder(200)
	store := measurement.NewStore()

	var tasks []supervisor.Task
	tasks = append(tasks, supervisor.Task{Name: "events", Run: func(ctx context.Context) error {
		return recorder.Run(ctx, bus)
	}})

	// Operational state is optional. Losing it costs the boot counter
	// and serial history, never telemetry.
	var state *opstate.Store
	var bootCount int64
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		state, err = opstate.NewStore(filepath.Join(cfg.DataDir, "airnode.db"))
		if err != nil {
			return fmt.Errorf("open operational state: %w", err)
		}
		defer state.Close()

		bootCount, err = state.IncrementBootCount(ctx)
		if err != nil {
			logger.Warn("boot counter unavailable", "error", err)
		} else {
			logger.Info("boot recorded", "boot_count", bootCount)
		}
		if at, ok, err := state.LastSession(ctx); err == nil && ok {
			logger.Info("previous broker session", "at", at.Format(time.RFC3339))
		}
	}

	// Network
	var radio network.Radio
	switch cfg.Network.Mode {
	case "static":
		radio = network.StaticRadio{}
	default:
		host := network.NewHostRadio(cfg.Network.Interface, cfg.Network.PollInterval, logger)
		tasks = append(tasks, supervisor.Task{Name: "link-monitor", Run: host.Run})
		radio = host
	}
	link := network.NewSupervisor(radio, network.Config{
		Credentials:    network.Credentials{SSID: cfg.WiFi.SSID, Password: cfg.WiFi.Password},
		JoinTimeout:    cfg.Network.JoinTimeout,
		AddressTimeout: cfg.Network.AddressTimeout,
		Backoff:        backoffConfig(cfg.Network.Backoff),
	}, logger)
	link.SetMetrics(mt)
	link.SetEventBus(bus)
	tasks = append(tasks, supervisor.Task{Name: "network", Run: link.Run})

	// Sensor
	acq := sensor.NewAcquirer(sensor.NewSim(cfg.Sensor.Seed), store, sensor.Config{
		Warmup:          cfg.Sensor.Warmup,
		Period:          cfg.Sensor.Period,
		ReinitThreshold: cfg.Sensor.ReinitThreshold,
		Smoothing: sensor.SmoothingConfig{
			Particulate: cfg.Sensor.Smoothing.Particulate,
			Gas:         cfg.Sensor.Smoothing.Gas,
			Climate:     cfg.Sensor.Smoothing.Climate,
		},
	}, logger)
	acq.SetMetrics(mt)
	acq.SetEventBus(bus)
	tasks = append(tasks, supervisor.Task{Name: "sensor", Run: acq.Run})

	// Broker
	var transport mqtt.Transport = mqtt.V5Transport{Logger: logger}
	if cfg.MQTT.Protocol == "v311" {
		transport = mqtt.V311Transport{Logger: logger}
	}
	manager := mqtt.NewManager(transport, desc, store, link, mqtt.ManagerConfig{
		Endpoint:           mqttEndpoint(cfg),
		ClientID:           cfg.MQTT.ClientID,
		MinPublishInterval: cfg.MQTT.MinPublishInterval,
		Backoff:            backoffConfig(cfg.MQTT.Backoff),
	}, logger)
	manager.SetMetrics(mt)
	manager.SetEventBus(bus)
	tasks = append(tasks, supervisor.Task{Name: "broker", Run: manager.Run})

	// Archive
	var archiver *archive.Archiver
	if cfg.Influx.Enabled() {
		influx := archive.Config{
			URL:     cfg.Influx.URL,
			Token:   cfg.Influx.Token,
			Org:     cfg.Influx.Org,
			Bucket:  cfg.Influx.Bucket,
			Timeout: cfg.Influx.Timeout,
		}
		client, err := archive.Dial(ctx, influx)
		if err != nil {
			// The archive is a side channel; run without it.
			logger.Warn("influx archive disabled", "url", cfg.Influx.URL, "error", err)
		} else {
			defer client.Close()
			archiver = archive.New(client, store, cfg.Device.Identifier, influx, logger)
			tasks = append(tasks, supervisor.Task{Name: "archive", Run: archiver.Run})
			logger.Info("influx archive enabled", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
		}
	}

	acq.OnSerial(func(serial string) {
		if archiver != nil {
			archiver.SetSerial(serial)
		}
		if state == nil {
			return
		}
		changed, previous, err := state.RecordSensorSerial(ctx, serial)
		switch {
		case err != nil:
			logger.Warn("failed to record sensor serial", "error", err)
		case changed && previous != "":
			logger.Warn("sensor replaced", "previous", previous, "serial", serial)
		}
	})
	if state != nil {
		manager.OnSessionStart(func(id string, at time.Time) {
			if err := state.RecordSession(ctx, at); err != nil {
				logger.Warn("failed to record broker session", "session", id, "error", err)
			}
		})
	}

	// Display
	var panel display.Display = display.None{}
	if cfg.Display.Driver == "text" {
		panel = display.NewText(stderr)
	}
	presenter := display.NewPresenter(panel, store, display.Config{
		Period:       cfg.Sensor.Period,
		StalePeriods: cfg.Display.StalePeriods,
	}, logger)
	presenter.SetMetrics(mt)
	presenter.SetStageSource(func() display.Stage {
		ls, _ := link.State()
		return display.StageOf(ls, manager.State())
	})
	tasks = append(tasks, supervisor.Task{Name: "display", Run: presenter.Run})

	// Status server
	if cfg.Status.Listen != "" {
		srv := status.NewServer(status.Config{
			Listen:     cfg.Status.Listen,
			StaleAfter: time.Duration(cfg.Display.StalePeriods) * cfg.Sensor.Period,
		}, status.Deps{
			Link:      link,
			Broker:    manager,
			Store:     store,
			Metrics:   mt,
			Recorder:  recorder,
			BootCount: bootCount,
		}, logger)
		tasks = append(tasks, supervisor.Task{Name: "status", Run: func(ctx context.Context) error {
			err := srv.Run(ctx)
			if errors.Is(err, status.ErrUnusableAddress) {
				return supervisor.Fatal(err)
			}
			return err
		}})
	}

	sup := supervisor.New(supervisor.DefaultConfig(), logger)
	sup.SetMetrics(mt)
	sup.SetEventBus(bus)

	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Name)
	}
	logger.Info("airnode running", "tasks", names)

	err = sup.Run(ctx, tasks...)
	logger.Info("airnode stopped", "uptime", buildinfo.Uptime())
	return err
}

// backoffConfig maps a config backoff section onto the retry package.
// Zero fields take the component's defaults.
func backoffConfig(c config.BackoffConfig) retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialDelay: c.Initial,
		MaxDelay:     c.Max,
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
}
