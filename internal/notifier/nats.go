package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// NATS publishes alarm events to a subject.
type NATS struct {
	name    string
	url     string
	subject string
	opts    []nats.Option

	// mu guards conn.
	mu   sync.Mutex
	conn *nats.Conn
}

// NewNATS creates a NATS notifier. The server is contacted on first use.
func NewNATS(cfg config.Notifier, timeout time.Duration) *NATS {
	opts := []nats.Option{
		nats.Name("alarm-relay/" + cfg.Name),
		nats.Timeout(timeout),
	}

	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	return &NATS{
		name:    cfg.Name,
		url:     cfg.URL,
		subject: cfg.Topic,
		opts:    opts,
	}
}

// Trigger publishes a trigger event.
func (n *NATS) Trigger(ctx context.Context, a *alarm.Alarm) error {
	return n.publish(ctx, EventTrigger, a)
}

// Update publishes an update event.
func (n *NATS) Update(ctx context.Context, a *alarm.Alarm) error {
	return n.publish(ctx, EventUpdate, a)
}

// Close drains the connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}

	return n.conn.Drain()
}

func (n *NATS) publish(ctx context.Context, kind string, a *alarm.Alarm) error {
	payload, err := encodeEvent(kind, n.name, a)
	if err != nil {
		return err
	}

	conn, err := n.connect()
	if err != nil {
		return err
	}

	if err = conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("nats publish to %s: %w", n.subject, err)
	}

	if err = conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	return nil
}

func (n *NATS) connect() (*nats.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil && !n.conn.IsClosed() {
		return n.conn, nil
	}

	conn, err := nats.Connect(n.url, n.opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	n.conn = conn

	return conn, nil
}
