// Airnode is an air-quality telemetry node.
//
// It polls a particulate/VOC/NOx/climate sensor, keeps the latest
// validated reading, publishes it to an MQTT broker with Home Assistant
// discovery, and shows it on a local display. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	airnode [run]             Start the node
//	airnode init [dir]        Write an example airnode.yaml (default: .)
//	airnode check-config      Validate the config and print MQTT topics
//	airnode version           Print version and build information
//	airnode -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/airnode/internal/buildinfo"
	"github.com/nugget/airnode/internal/config"
	"github.com/nugget/airnode/internal/mqtt"
)

// main builds the OS-level environment and delegates to [run], keeping
// os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// run is the real entry point. Cancelling ctx shuts the node down.
// Structured logs go to stdout. args is os.Args[1:], parsed by hand so
// tests can call run concurrently without touching flag.CommandLine.
//
// Only configuration problems are returned as errors; once the node is
// running every runtime fault is handled by the owning task.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}
	if (len(cmdArgs) > 0 && command != "init") || len(cmdArgs) > 1 {
		return fmt.Errorf("unexpected argument: %s", cmdArgs[len(cmdArgs)-1])
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "", "run":
		return runNode(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "check-config":
		return runCheckConfig(stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	b := buildinfo.Current()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	fmt.Fprintln(w, buildinfo.String())
	fmt.Fprintf(w, "  %-12s %s\n", "go:", b.GoVersion)
	fmt.Fprintf(w, "  %-12s %s\n", "platform:", b.Platform)
	return nil
}

// topicReport is the check-config output.
type topicReport struct {
	Config       string   `json:"config"`
	Discovery    []string `json:"discovery"`
	State        string   `json:"state"`
	Availability string   `json:"availability"`
	Broker       string   `json:"broker"`
}

// runCheckConfig loads and validates the configuration, then prints the
// topics the node would publish to.
func runCheckConfig(w io.Writer, configPath, outputFmt string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	desc, err := newDescriptor(cfg)
	if err != nil {
		return err
	}

	report := topicReport{
		Config:       cfgPath,
		State:        desc.StateTopic(),
		Availability: desc.AvailabilityTopic(),
		Broker:       mqttEndpoint(cfg).URL(),
	}
	for _, msg := range desc.Discovery() {
		report.Discovery = append(report.Discovery, msg.Topic)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(w, "config %s is valid\n", report.Config)
	fmt.Fprintf(w, "  %-14s %s\n", "broker:", report.Broker)
	fmt.Fprintf(w, "  %-14s %s\n", "state:", report.State)
	fmt.Fprintf(w, "  %-14s %s\n", "availability:", report.Availability)
	for _, t := range report.Discovery {
		fmt.Fprintf(w, "  %-14s %s\n", "discovery:", t)
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "airnode - air-quality telemetry node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: airnode [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run           Start the node (default)")
	fmt.Fprintln(w, "  init [dir]    Write an example airnode.yaml (default: .)")
	fmt.Fprintln(w, "  check-config  Validate the config and print MQTT topics")
	fmt.Fprintln(w, "  version       Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./airnode.yaml, ~/.config/airnode/airnode.yaml, /etc/airnode/airnode.yaml")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Any format other than "json" yields text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates, parses and validates the configuration file.
// Returns the config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

func newDescriptor(cfg *config.Config) (*mqtt.Descriptor, error) {
	return mqtt.NewDescriptor(mqtt.DeviceConfig{
		Identifier:   cfg.Device.Identifier,
		Name:         cfg.Device.Name,
		Serial:       cfg.Device.Serial,
		Manufacturer: cfg.Device.Manufacturer,
		Model:        cfg.Device.Model,
		SWVersion:    buildinfo.Version,
		HWVersion:    cfg.Device.HWVersion,
	}, cfg.MQTT.DiscoveryPrefix, cfg.MQTT.StatePrefix)
}

func mqttEndpoint(cfg *config.Config) mqtt.Endpoint {
	return mqtt.Endpoint{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		TLS:            cfg.MQTT.TLS,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	}
}
