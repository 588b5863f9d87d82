// Package config handles airnode configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./airnode.yaml, ~/.config/airnode/airnode.yaml, /etc/airnode/airnode.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"airnode.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "airnode", "airnode.yaml"))
	}

	paths = append(paths, "/etc/airnode/airnode.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all airnode configuration.
type Config struct {
	WiFi    WiFiConfig    `yaml:"wifi"`
	Network NetworkConfig `yaml:"network"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Device  DeviceConfig  `yaml:"device"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Display DisplayConfig `yaml:"display"`
	Status  StatusConfig  `yaml:"status"`
	Influx  InfluxConfig  `yaml:"influx"`

	// DataDir holds the operational state database. Empty disables
	// persistence.
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text (default) or json
}

// WiFiConfig holds the network credentials.
type WiFiConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// BackoffConfig is an exponential retry schedule.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// NetworkConfig controls the network supervisor.
type NetworkConfig struct {
	// Mode is "host" (watch a host interface) or "static" (assume the
	// link is always up).
	Mode           string        `yaml:"mode"`
	Interface      string        `yaml:"interface"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	JoinTimeout    time.Duration `yaml:"join_timeout"`
	AddressTimeout time.Duration `yaml:"address_timeout"`
	Backoff        BackoffConfig `yaml:"backoff"`
}

// MQTTConfig defines the broker connection.
type MQTTConfig struct {
	// Protocol is "v5" (default) or "v311".
	Protocol        string `yaml:"protocol"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	TLS             bool   `yaml:"tls"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	StatePrefix     string `yaml:"state_prefix"`

	KeepAlive          time.Duration `yaml:"keep_alive"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	MinPublishInterval time.Duration `yaml:"min_publish_interval"`
	Backoff            BackoffConfig `yaml:"backoff"`
}

// DeviceConfig is the node's Home Assistant identity.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	Identifier   string `yaml:"identifier"`
	Serial       string `yaml:"serial"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	HWVersion    string `yaml:"hw_version"`
}

// SensorConfig controls acquisition.
type SensorConfig struct {
	// Driver selects the sensor implementation. Only "sim" is built in.
	Driver          string          `yaml:"driver"`
	Seed            int64           `yaml:"seed"`
	Warmup          time.Duration   `yaml:"warmup"`
	Period          time.Duration   `yaml:"period"`
	ReinitThreshold int             `yaml:"reinit_threshold"`
	Smoothing       SmoothingConfig `yaml:"smoothing"`
}

// SmoothingConfig sets rolling-average window sizes in samples. Zero or
// one disables smoothing for that group.
type SmoothingConfig struct {
	Particulate int `yaml:"particulate"`
	Gas         int `yaml:"gas"`
	Climate     int `yaml:"climate"`
}

// DisplayConfig selects the local display.
type DisplayConfig struct {
	Driver       string `yaml:"driver"` // none (default) or text
	StalePeriods int    `yaml:"stale_periods"`
}

// StatusConfig enables the local status server.
type StatusConfig struct {
	Listen string `yaml:"listen"` // empty disables the server
}

// InfluxConfig enables the InfluxDB archive.
type InfluxConfig struct {
	URL     string        `yaml:"url"` // empty disables archiving
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org"`
	Bucket  string        `yaml:"bucket"`
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether archiving is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// Default returns a configuration with every optional field set. The
// required fields are left empty.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			Mode:           "host",
			PollInterval:   2 * time.Second,
			JoinTimeout:    30 * time.Second,
			AddressTimeout: 30 * time.Second,
			Backoff:        BackoffConfig{Initial: 2 * time.Second, Max: 60 * time.Second, Multiplier: 2},
		},
		MQTT: MQTTConfig{
			Protocol:           "v5",
			StatePrefix:        "airnode",
			KeepAlive:          30 * time.Second,
			ConnectTimeout:     10 * time.Second,
			MinPublishInterval: 2 * time.Second,
			Backoff:            BackoffConfig{Initial: time.Second, Max: 60 * time.Second, Multiplier: 2},
		},
		Device: DeviceConfig{
			Manufacturer: "airnode",
			Model:        "airnode",
		},
		Sensor: SensorConfig{
			Driver:          "sim",
			Warmup:          5 * time.Second,
			Period:          time.Second,
			ReinitThreshold: 10,
		},
		Display: DisplayConfig{
			Driver:       "none",
			StalePeriods: 5,
		},
		Influx: InfluxConfig{
			Timeout: 5 * time.Second,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references, and applies defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	return cfg, nil
}

// expandHome replaces a leading ~ with the user's home directory. Other
// paths, and ~user forms, are returned unchanged.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("invalid configuration")

// Validate reports every missing required option and every invalid
// value in a single error.
func (c *Config) Validate() error {
	var problems []string
	required := []struct {
		name, value string
	}{
		{"wifi.ssid", c.WiFi.SSID},
		{"wifi.password", c.WiFi.Password},
		{"mqtt.client_id", c.MQTT.ClientID},
		{"mqtt.host", c.MQTT.Host},
		{"mqtt.discovery_prefix", c.MQTT.DiscoveryPrefix},
		{"device.name", c.Device.Name},
		{"device.identifier", c.Device.Identifier},
		{"device.serial", c.Device.Serial},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			problems = append(problems, r.name+" is required")
		}
	}

	switch c.MQTT.Protocol {
	case "v5", "v311":
	default:
		problems = append(problems, fmt.Sprintf("mqtt.protocol %q must be v5 or v311", c.MQTT.Protocol))
	}
	switch c.Network.Mode {
	case "host", "static":
	default:
		problems = append(problems, fmt.Sprintf("network.mode %q must be host or static", c.Network.Mode))
	}
	if c.Sensor.Driver != "sim" {
		problems = append(problems, fmt.Sprintf("sensor.driver %q is not supported (valid: sim)", c.Sensor.Driver))
	}
	switch c.Display.Driver {
	case "none", "text":
	default:
		problems = append(problems, fmt.Sprintf("display.driver %q must be none or text", c.Display.Driver))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q must be text or json", c.LogFormat))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
		problems = append(problems, fmt.Sprintf("mqtt.port %d out of range", c.MQTT.Port))
	}
	if c.Sensor.Period <= 0 {
		problems = append(problems, "sensor.period must be positive")
	}
	if c.Display.StalePeriods < 1 {
		problems = append(problems, fmt.Sprintf("display.stale_periods %d must be at least 1", c.Display.StalePeriods))
	}
	if c.Influx.Enabled() && c.Influx.Bucket == "" {
		problems = append(problems, "influx.bucket is required when influx.url is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
