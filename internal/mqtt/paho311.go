package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	pahov3 "github.com/eclipse/paho.mqtt.golang"
)

// V311Transport connects with MQTT 3.1.1 using paho.mqtt.golang. The
// library's auto-reconnect and connect-retry are disabled.
type V311Transport struct {
	Logger *slog.Logger
}

// Connect dials ep and performs the MQTT 3.1.1 handshake.
func (t V311Transport) Connect(ctx context.Context, ep Endpoint, clientID string) (Session, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &v311Session{done: make(chan struct{})}

	opts := pahov3.NewClientOptions()
	opts.AddBroker(ep.URL())
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(ep.keepAlive())
	opts.SetConnectTimeout(ep.connectTimeout())
	if ep.Username != "" {
		opts.SetUsername(ep.Username)
	}
	if ep.Password != "" {
		opts.SetPassword(ep.Password)
	}
	if ep.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, ServerName: ep.Host})
	}
	if ep.Will != nil {
		opts.SetBinaryWill(ep.Will.Topic, ep.Will.Payload, qos, ep.Will.Retain)
	}
	opts.SetConnectionLostHandler(func(_ pahov3.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
		s.drop()
	})

	s.client = pahov3.NewClient(opts)
	if err := wait(ctx, s.client.Connect()); err != nil {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", ep.Address(), err)
	}
	return s, nil
}

// wait blocks until tok completes or ctx ends.
func wait(ctx context.Context, tok pahov3.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
		return tok.Error()
	}
}

type v311Session struct {
	client pahov3.Client

	once sync.Once
	done chan struct{}
}

func (s *v311Session) drop() {
	s.once.Do(func() { close(s.done) })
}

func (s *v311Session) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if err := wait(ctx, s.client.Publish(topic, qos, retain, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (s *v311Session) Done() <-chan struct{} { return s.done }

func (s *v311Session) Close() error {
	s.client.Disconnect(250)
	s.drop()
	return nil
}
