package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

var (
	// errMQTTTimeout is returned when the broker does not acknowledge in time.
	errMQTTTimeout = errors.New("mqtt operation timed out")
	// errMQTTReconnecting is returned for QoS 0 publishes while the client
	// reconnects, since paho would drop them silently.
	errMQTTReconnecting = errors.New("mqtt connection lost, reconnecting")
)

// MQTT publishes alarm events to a broker topic.
type MQTT struct {
	name    string
	topic   string
	qos     byte
	timeout time.Duration
	opts    *mqtt.ClientOptions
	// newClient builds the single client used for the notifier's lifetime.
	newClient func(*mqtt.ClientOptions) mqtt.Client

	// mu guards client.
	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTT creates an MQTT notifier. The broker is contacted on first use.
func NewMQTT(cfg config.Notifier, timeout time.Duration) *MQTT {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID("alarm-relay-" + uuid.NewString()[:8]).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	return &MQTT{
		name:      cfg.Name,
		topic:     cfg.Topic,
		qos:       cfg.QoS,
		timeout:   timeout,
		opts:      opts,
		newClient: mqtt.NewClient,
	}
}

// Trigger publishes a trigger event.
func (m *MQTT) Trigger(ctx context.Context, a *alarm.Alarm) error {
	return m.publish(ctx, EventTrigger, a)
}

// Update publishes an update event.
func (m *MQTT) Update(ctx context.Context, a *alarm.Alarm) error {
	return m.publish(ctx, EventUpdate, a)
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}

	return nil
}

func (m *MQTT) publish(ctx context.Context, kind string, a *alarm.Alarm) error {
	payload, err := encodeEvent(kind, m.name, a)
	if err != nil {
		return err
	}

	client, err := m.connect(ctx)
	if err != nil {
		return err
	}

	if err = wait(ctx, client.Publish(m.topic, m.qos, false, payload), m.timeout); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", m.topic, err)
	}

	return nil
}

// connect returns the notifier's client, connecting it when it is down.
// The client is created once: paho reconnects it in the background, and a
// second client with the same ID would be kicked by the broker.
//
//nolint:ireturn // mqtt.Client is the library's interface.
func (m *MQTT) connect(ctx context.Context) (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		m.client = m.newClient(m.opts)
	}

	switch {
	case m.client.IsConnectionOpen():
		return m.client, nil
	case m.client.IsConnected():
		// Auto reconnect is running; QoS 1 and 2 publishes are queued until it succeeds.
		if m.qos == 0 {
			return nil, errMQTTReconnecting
		}

		return m.client, nil
	}

	if err := wait(ctx, m.client.Connect(), m.timeout); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return m.client, nil
}

// wait blocks until the token completes, the timeout passes or ctx is done.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errMQTTTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
