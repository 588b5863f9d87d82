package mqtt

// DeviceInfo holds the Home Assistant device registry fields shared
// across all MQTT discovery config payloads. Every sensor entity
// published by this node references the same device block so HA groups
// them under a single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	SerialNumber string   `json:"serial_number,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	HWVersion    string   `json:"hw_version,omitempty"`
}

// Origin names the software that published a discovery payload. HA
// shows it in the MQTT integration's device info.
type Origin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version,omitempty"`
	SupportURL string `json:"support_url,omitempty"`
}

// Origin defaults.
const (
	OriginName = "airnode"
	OriginURL  = "https://github.com/nugget/airnode"
)

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message. It is published (retained) to the discovery topic at the
// start of every broker session.
type SensorConfig struct {
	Name                      string     `json:"name"`
	HasEntityName             bool       `json:"has_entity_name,omitempty"`
	UniqueID                  string     `json:"unique_id"`
	ObjectID                  string     `json:"object_id,omitempty"`
	StateTopic                string     `json:"state_topic"`
	AvailabilityTopic         string     `json:"availability_topic"`
	ValueTemplate             string     `json:"value_template"`
	UnitOfMeasurement         string     `json:"unit_of_measurement,omitempty"`
	DeviceClass               string     `json:"device_class,omitempty"`
	StateClass                string     `json:"state_class,omitempty"`
	SuggestedDisplayPrecision *int       `json:"suggested_display_precision,omitempty"`
	Icon                      string     `json:"icon,omitempty"`
	Device                    DeviceInfo `json:"device"`
	Origin                    Origin     `json:"origin"`
}

// DeviceConfig is the static identity of the node.
type DeviceConfig struct {
	Identifier   string
	Name         string
	Serial       string
	Manufacturer string
	Model        string
	SWVersion    string
	HWVersion    string
}

// NewDeviceInfo creates the HA device block. The identifier is the
// primary HA device identifier and must stay stable across renames so
// entity history survives reconfiguration.
func NewDeviceInfo(dev DeviceConfig) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{dev.Identifier},
		Name:         dev.Name,
		SerialNumber: dev.Serial,
		Manufacturer: dev.Manufacturer,
		Model:        dev.Model,
		SWVersion:    dev.SWVersion,
		HWVersion:    dev.HWVersion,
	}
}

// NewOrigin creates the origin block for a node running software
// version sw.
func NewOrigin(sw string) Origin {
	return Origin{Name: OriginName, SWVersion: sw, SupportURL: OriginURL}
}

// entity describes one reading exposed to HA.
type entity struct {
	key         string // JSON key in the state document and topic segment
	name        string
	unit        string
	deviceClass string
	icon        string
	precision   int
}

const unitConcentration = "µg/m³"

// entities is the fixed set published by every node, in discovery order.
var entities = []entity{
	{key: "pm1", name: "PM1.0", unit: unitConcentration, deviceClass: "pm1", precision: 1},
	{key: "pm2_5", name: "PM2.5", unit: unitConcentration, deviceClass: "pm25", precision: 1},
	{key: "pm4", name: "PM4.0", unit: unitConcentration, icon: "mdi:blur", precision: 1},
	{key: "pm10", name: "PM10", unit: unitConcentration, deviceClass: "pm10", precision: 1},
	{key: "voc", name: "VOC index", icon: "mdi:molecule", precision: 0},
	{key: "nox", name: "NOx index", icon: "mdi:smog", precision: 0},
	{key: "temperature", name: "Temperature", unit: "°C", deviceClass: "temperature", precision: 1},
	{key: "humidity", name: "Humidity", unit: "%", deviceClass: "humidity", precision: 1},
}
