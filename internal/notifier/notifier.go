package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Notifier delivers alarms to one downstream system.
type Notifier interface {
	// Trigger announces a new incident.
	Trigger(ctx context.Context, a *alarm.Alarm) error
	// Update amends the running incident.
	Update(ctx context.Context, a *alarm.Alarm) error
}

// Registry maps target names to notifiers. It is safe for concurrent reads.
type Registry struct {
	// mu protects notifiers.
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// ErrUnknownType is returned for a notifier type without an implementation.
var ErrUnknownType = errors.New("unknown notifier type")

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds or replaces the notifier for name.
func (r *Registry) Register(name string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifiers[name] = n
}

// Get returns the notifier registered for name.
func (r *Registry) Get(name string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifiers[name]

	return n, ok
}

// Names returns the registered target names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Close releases the connections held by notifiers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error

	for name, n := range r.notifiers {
		if closer, ok := n.(io.Closer); ok {
			if closeErr := closer.Close(); closeErr != nil {
				err = multierr.Append(err, fmt.Errorf("close %s: %w", name, closeErr))
			}
		}
	}

	return err
}

// buildOptions holds shared dependencies of notifier constructors.
type buildOptions struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures Build.
type Option func(*buildOptions)

// WithHTTPClient sets the client used by HTTP notifiers.
func WithHTTPClient(client *http.Client) Option {
	return func(o *buildOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithTimeout bounds broker connects and publishes.
func WithTimeout(timeout time.Duration) Option {
	return func(o *buildOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// Build creates a registry from the notifier configuration.
func Build(cfgs []config.Notifier, opts ...Option) (*Registry, error) {
	options := &buildOptions{
		timeout: config.DefaultNotifierTimeout,
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.httpClient == nil {
		options.httpClient = &http.Client{Timeout: options.timeout}
	}

	registry := NewRegistry()

	for _, cfg := range cfgs {
		n, err := newNotifier(cfg, options)
		if err != nil {
			_ = registry.Close()

			return nil, fmt.Errorf("notifier %q: %w", cfg.Name, err)
		}

		registry.Register(cfg.Name, n)
	}

	return registry, nil
}

//nolint:ireturn // Tagged construction returns the capability interface.
func newNotifier(cfg config.Notifier, options *buildOptions) (Notifier, error) {
	switch cfg.Type {
	case config.NotifierDivera:
		return NewDivera(cfg.Name, cfg.APIKey, cfg.URL, options.httpClient), nil
	case config.NotifierTelegram:
		return NewTelegram(cfg.Name, cfg.APIKey, cfg.URL, options.httpClient), nil
	case config.NotifierMQTT:
		return NewMQTT(cfg, options.timeout), nil
	case config.NotifierNATS:
		return NewNATS(cfg, options.timeout), nil
	case config.NotifierRedis:
		return NewRedis(cfg)
	case config.NotifierMock, config.NotifierAlamos:
		return NewMock(cfg.Name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}
