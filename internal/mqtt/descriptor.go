package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/airnode/internal/measurement"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// DiscoveryMessage is one pre-marshalled discovery publish.
type DiscoveryMessage struct {
	Entity  string
	Topic   string
	Payload []byte
}

// Descriptor holds every topic and discovery payload the node publishes.
// It is built once at startup and never changes.
type Descriptor struct {
	device       DeviceInfo
	origin       Origin
	stateTopic   string
	availability string
	discovery    []DiscoveryMessage
}

// NewDescriptor builds the topics and discovery payloads for dev.
func NewDescriptor(dev DeviceConfig, discoveryPrefix, statePrefix string) (*Descriptor, error) {
	if err := checkTopicSegment("device identifier", dev.Identifier); err != nil {
		return nil, err
	}
	discoveryPrefix = strings.TrimSuffix(discoveryPrefix, "/")
	statePrefix = strings.TrimSuffix(statePrefix, "/")
	if discoveryPrefix == "" {
		return nil, fmt.Errorf("discovery prefix is empty")
	}
	if statePrefix == "" {
		statePrefix = "airnode"
	}

	base := statePrefix + "/" + dev.Identifier
	d := &Descriptor{
		device:       NewDeviceInfo(dev),
		origin:       NewOrigin(dev.SWVersion),
		stateTopic:   base + "/state",
		availability: base + "/availability",
	}

	for _, e := range entities {
		precision := e.precision
		cfg := SensorConfig{
			Name:                      e.name,
			HasEntityName:             true,
			UniqueID:                  dev.Identifier + "_" + e.key,
			StateTopic:                d.stateTopic,
			AvailabilityTopic:         d.availability,
			ValueTemplate:             "{{ value_json." + e.key + " }}",
			UnitOfMeasurement:         e.unit,
			DeviceClass:               e.deviceClass,
			StateClass:                "measurement",
			SuggestedDisplayPrecision: &precision,
			Icon:                      e.icon,
			Device:                    d.device,
			Origin:                    d.origin,
		}
		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal discovery payload for %s: %w", e.key, err)
		}
		d.discovery = append(d.discovery, DiscoveryMessage{
			Entity:  e.key,
			Topic:   discoveryPrefix + "/sensor/" + dev.Identifier + "/" + e.key + "/config",
			Payload: payload,
		})
	}
	return d, nil
}

// checkTopicSegment rejects values that would change the topic structure.
func checkTopicSegment(what, s string) error {
	if s == "" {
		return fmt.Errorf("%s is empty", what)
	}
	if strings.ContainsAny(s, "/+#") || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' }) {
		return fmt.Errorf("%s %q contains characters not allowed in an MQTT topic segment", what, s)
	}
	return nil
}

// Discovery returns the discovery messages in publish order. The slice
// is shared; callers must not modify it.
func (d *Descriptor) Discovery() []DiscoveryMessage { return d.discovery }

// StateTopic is where the combined state document is published.
func (d *Descriptor) StateTopic() string { return d.stateTopic }

// AvailabilityTopic carries "online"/"offline".
func (d *Descriptor) AvailabilityTopic() string { return d.availability }

// Device returns the HA device block.
func (d *Descriptor) Device() DeviceInfo { return d.device }

// Will returns the last-will registration for this node.
func (d *Descriptor) Will() *Will {
	return &Will{Topic: d.availability, Payload: []byte(PayloadOffline), Retain: true}
}

// StatePayload encodes m as the combined state document. Values are
// encoded at full float64 precision.
func StatePayload(m measurement.Measurement) ([]byte, error) {
	return json.Marshal(m)
}
