package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Redis publishes alarm events to a pub/sub channel.
type Redis struct {
	name    string
	channel string
	client  *redis.Client
}

// NewRedis creates a Redis notifier. URL is either a redis:// URL or host:port.
func NewRedis(cfg config.Notifier) (*Redis, error) {
	var opts *redis.Options

	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL}
	}

	if cfg.Username != "" {
		opts.Username = cfg.Username
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	return &Redis{
		name:    cfg.Name,
		channel: cfg.Topic,
		client:  redis.NewClient(opts),
	}, nil
}

// Trigger publishes a trigger event.
func (r *Redis) Trigger(ctx context.Context, a *alarm.Alarm) error {
	return r.publish(ctx, EventTrigger, a)
}

// Update publishes an update event.
func (r *Redis) Update(ctx context.Context, a *alarm.Alarm) error {
	return r.publish(ctx, EventUpdate, a)
}

// Close closes the client pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) publish(ctx context.Context, kind string, a *alarm.Alarm) error {
	payload, err := encodeEvent(kind, r.name, a)
	if err != nil {
		return err
	}

	if err = r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", r.channel, err)
	}

	return nil
}
