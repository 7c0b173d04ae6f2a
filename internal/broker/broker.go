// Package broker wraps the MQTT session to the remote broker. The
// connectivity supervisor owns the session lifecycle; everything here
// is attempted with short bounded timeouts so no execution unit ever
// blocks on the network.
package broker

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the narrow capability the telemetry pipeline needs.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// Session is the full broker session used by the supervisor.
type Session interface {
	Publisher
	Connect(timeout time.Duration) error
	Subscribe(topic string, handler func(payload []byte)) error
	Disconnect()
}

type Config struct {
	BrokerURL      string // e.g. ssl://broker.example.com:8883
	ClientID       string
	Username       string
	Password       string
	PublishTimeout time.Duration
	QoS            byte
}

// PahoSession implements Session on eclipse/paho. Auto-reconnect is
// disabled: reconnection policy belongs to the connectivity
// supervisor, not the transport.
type PahoSession struct {
	client mqtt.Client
	cfg    Config
}

func NewPahoSession(cfg Config) *PahoSession {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(cfg.PublishTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	return &PahoSession{client: mqtt.NewClient(opts), cfg: cfg}
}

func (s *PahoSession) Connect(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("broker connect: timeout after %s", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	return nil
}

func (s *PahoSession) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *PahoSession) Publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, s.cfg.QoS, false, payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		return fmt.Errorf("publish %s: timeout after %s", topic, s.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (s *PahoSession) Subscribe(topic string, handler func(payload []byte)) error {
	token := s.client.Subscribe(topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		return fmt.Errorf("subscribe %s: timeout after %s", topic, s.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (s *PahoSession) Disconnect() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
