package mqtt

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// Transport opens broker sessions.
type Transport interface {
	// Connect dials the broker and completes the MQTT handshake. The
	// returned Session is ready to publish.
	Connect(ctx context.Context, ep Endpoint, clientID string) (Session, error)
}

// Session is one live broker connection. It is discarded after any error.
type Session interface {
	// Publish sends a QoS 1 message and waits for the broker's
	// acknowledgement or ctx.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	// Done is closed when the transport drops.
	Done() <-chan struct{}

	// Close disconnects. Safe to call more than once.
	Close() error
}

// Endpoint describes how to reach the broker.
type Endpoint struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string

	// KeepAlive is the MQTT keep-alive interval (default: 30s).
	KeepAlive time.Duration

	// ConnectTimeout bounds dial plus handshake (default: 10s).
	ConnectTimeout time.Duration

	// Will is registered with the broker at connect time.
	Will *Will
}

// Will is the last-will message the broker publishes when the session
// ends without a clean disconnect.
type Will struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Address returns host:port, defaulting the port from the TLS flag.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = 1883
		if e.TLS {
			port = 8883
		}
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// URL returns the broker URL in the scheme form paho.mqtt.golang expects.
func (e Endpoint) URL() string {
	scheme := "tcp"
	if e.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + e.Address()
}

func (e Endpoint) keepAlive() time.Duration {
	if e.KeepAlive <= 0 {
		return 30 * time.Second
	}
	return e.KeepAlive
}

func (e Endpoint) connectTimeout() time.Duration {
	if e.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return e.ConnectTimeout
}

// qos is used for every publish so failures are acknowledged.
const qos = 1

// ErrSessionClosed is returned by Publish on a session that has dropped.
var ErrSessionClosed = errors.New("mqtt session closed")
