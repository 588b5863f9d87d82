package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// V5Transport connects with MQTT 5 using the Eclipse Paho paho client.
// It dials the connection itself so the manager, not the library, owns
// every reconnect.
type V5Transport struct {
	Logger *slog.Logger
}

// Connect dials ep and performs the MQTT 5 handshake.
func (t V5Transport) Connect(ctx context.Context, ep Endpoint, clientID string) (Session, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dial(ctx, ep)
	if err != nil {
		return nil, err
	}

	s := &v5Session{done: make(chan struct{}), logger: logger}
	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnClientError: func(err error) {
			s.logger.Debug("mqtt client error", "error", err)
			s.drop()
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.logger.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
			s.drop()
		},
	})

	cp := &paho.Connect{
		KeepAlive:  uint16(ep.keepAlive().Seconds()),
		ClientID:   clientID,
		CleanStart: true,
	}
	if ep.Username != "" {
		cp.Username = ep.Username
		cp.UsernameFlag = true
	}
	if ep.Password != "" {
		cp.Password = []byte(ep.Password)
		cp.PasswordFlag = true
	}
	if ep.Will != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   ep.Will.Topic,
			Payload: ep.Will.Payload,
			QoS:     qos,
			Retain:  ep.Will.Retain,
		}
	}

	ca, err := s.client.Connect(ctx, cp)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mqtt connect %s: %w", ep.Address(), err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("mqtt connect %s: refused with reason code %d", ep.Address(), ca.ReasonCode)
	}
	return s, nil
}

// dial opens the network connection, with TLS when requested.
func dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	if ep.TLS {
		d := &tls.Dialer{Config: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: ep.Host,
		}}
		conn, err := d.DialContext(ctx, "tcp", ep.Address())
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep.Address(), err)
		}
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Address(), err)
	}
	return conn, nil
}

type v5Session struct {
	client *paho.Client
	logger *slog.Logger

	once sync.Once
	done chan struct{}
}

func (s *v5Session) drop() {
	s.once.Do(func() { close(s.done) })
}

func (s *v5Session) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	resp, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("publish %s: broker rejected with reason code %d", topic, resp.ReasonCode)
	}
	return nil
}

func (s *v5Session) Done() <-chan struct{} { return s.done }

func (s *v5Session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	err := s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	s.drop()
	return err
}
