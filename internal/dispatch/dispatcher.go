package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/alarm-relay/internal/arbitration"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/notifier"
)

// Registry resolves target names to notifiers.
type Registry interface {
	Get(name string) (notifier.Notifier, bool)
}

// WebhookCaller fires best-effort webhook requests.
type WebhookCaller interface {
	Fire(ctx context.Context, url string)
}

var (
	// ErrTargetNotRegistered marks a receiver target without a notifier.
	ErrTargetNotRegistered = errors.New("target not registered")
	// errNotifierPanic wraps a recovered notifier panic.
	errNotifierPanic = errors.New("notifier panicked")
)

// Report summarizes one fan-out.
type Report struct {
	// Invoked lists the targets whose notifier was called, sorted.
	Invoked []string
	// Failed maps a target to its error, including unregistered targets.
	Failed map[string]error
	// Webhooks is the number of webhook calls fired.
	Webhooks int
}

// Dispatcher delivers alarms to notifiers and webhooks.
type Dispatcher struct {
	registry Registry
	webhooks WebhookCaller
	// timeout bounds a single notifier call; zero disables it.
	timeout time.Duration
}

// New creates a dispatcher.
func New(registry Registry, webhooks WebhookCaller, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		webhooks: webhooks,
		timeout:  timeout,
	}
}

// Dispatch delivers a to every resolved target and fires its webhooks.
// The alarm must not be modified while Dispatch runs.
func (d *Dispatcher) Dispatch(ctx context.Context, verdict arbitration.Verdict, a *alarm.Alarm) *Report {
	report := &Report{
		Failed: make(map[string]error),
	}

	if verdict != arbitration.First && verdict != arbitration.Update {
		logger.WarnKV(ctx, "Alarm not dispatched", "alarm_id", a.ID, "verdict", verdict.String())

		return report
	}

	targets := make([]string, 0, len(a.Receivers))
	for target := range a.Receivers {
		targets = append(targets, target)
	}

	sort.Strings(targets)

	var (
		mu    sync.Mutex
		group errgroup.Group
	)

	for _, target := range targets {
		n, ok := d.registry.Get(target)
		if !ok {
			logger.ErrorKV(ctx, "Notifier not found", "target", target, "alarm_id", a.ID)
			report.Failed[target] = fmt.Errorf("%w: %s", ErrTargetNotRegistered, target)

			continue
		}

		target := target

		report.Invoked = append(report.Invoked, target)

		group.Go(func() error {
			targetCtx := logger.WithKV(ctx, "target", target)

			if err := d.notify(targetCtx, verdict, n, a); err != nil {
				logger.ErrorKV(targetCtx, "Notifier failed", "alarm_id", a.ID, "verdict", verdict.String(), "error", err)

				mu.Lock()
				report.Failed[target] = err
				mu.Unlock()

				return nil
			}

			logger.InfoKV(targetCtx, "Notifier delivered", "alarm_id", a.ID, "verdict", verdict.String())

			return nil
		})
	}

	for _, url := range a.Webhooks {
		logger.InfoKV(ctx, "Calling webhook", "url", url, "alarm_id", a.ID)
		d.webhooks.Fire(ctx, url)
		report.Webhooks++
	}

	// Goroutines only ever return nil; errors are collected in the report.
	_ = group.Wait()

	return report
}

// notify runs one notifier call bounded by the per-call timeout.
func (d *Dispatcher) notify(ctx context.Context, verdict arbitration.Verdict, n notifier.Notifier, a *alarm.Alarm) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errNotifierPanic, r)
		}
	}()

	if verdict == arbitration.First {
		return n.Trigger(ctx, a)
	}

	return n.Update(ctx, a)
}
