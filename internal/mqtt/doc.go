// Package mqtt keeps the node's broker session alive and publishes its
// readings. The node appears in Home Assistant as a native device through
// MQTT discovery, with availability tracking.
//
// The [Manager] owns the session lifecycle as an explicit state machine:
// it waits for network connectivity, connects with exponential backoff,
// publishes retained discovery config payloads for each sensor entity and
// an "online" birth message, then publishes the latest measurement as a
// single retained JSON document whenever the store changes, subject to a
// rate limit. Any publish failure, transport drop or link loss discards
// the session and starts over; every new session republishes discovery
// before any state. A will message flips availability to "offline" on
// unexpected disconnects.
//
// Transports are pluggable. [V5Transport] speaks MQTT 5 through Eclipse
// Paho's paho package, [V311Transport] speaks MQTT 3.1.1 through
// paho.mqtt.golang. Neither uses library-level reconnect; reconnect policy
// belongs to the Manager.
package mqtt
