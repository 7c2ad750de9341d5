package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oshokin/alarm-relay/internal/arbitration"
	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/dispatch"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/queue"
	"github.com/oshokin/alarm-relay/internal/template"
)

// Dispatcher fans an alarm out; *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, verdict arbitration.Verdict, a *alarm.Alarm) *dispatch.Report
}

// Store persists the last dispatched alarm; *state.FileRepository satisfies it.
type Store interface {
	Save(ctx context.Context, a *alarm.Alarm) error
}

// Processor owns arbitration state and runs each alarm end to end.
type Processor struct {
	resolver   *template.Resolver
	tracker    *arbitration.Tracker
	dispatcher Dispatcher
	// store is optional.
	store Store
	// timeout is the incident window.
	timeout time.Duration
	// priority orders origins, most important first.
	priority []string
}

// Option configures a Processor.
type Option func(*Processor)

// WithStore saves every dispatched alarm to store.
func WithStore(store Store) Option {
	return func(p *Processor) {
		p.store = store
	}
}

// New creates a processor using the incident window and source priority of general.
func New(
	resolver *template.Resolver,
	tracker *arbitration.Tracker,
	dispatcher Dispatcher,
	general config.General,
	opts ...Option,
) *Processor {
	p := &Processor{
		resolver:   resolver,
		tracker:    tracker,
		dispatcher: dispatcher,
		timeout:    general.Timeout,
		priority:   general.SourcePriority,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Handle resolves, classifies and dispatches one alarm. A dispatched alarm
// becomes the new reference for arbitration.
func (p *Processor) Handle(ctx context.Context, a *alarm.Alarm) (arbitration.Verdict, error) {
	ctx = logger.WithKV(ctx, "alarm_id", a.ID)

	if err := p.resolver.Resolve(ctx, a); err != nil {
		return 0, fmt.Errorf("resolve templates: %w", err)
	}

	verdict := p.tracker.Classify(a, p.timeout, p.priority)
	if verdict == arbitration.Drop {
		logger.InfoKV(ctx, "Alarm dropped in favour of a higher priority source", "origin", a.Origin)

		return verdict, nil
	}

	report := p.dispatcher.Dispatch(ctx, verdict, a)
	p.tracker.Record(a)

	if p.store != nil {
		if err := p.store.Save(ctx, a); err != nil {
			logger.WarnKV(ctx, "Last alarm not persisted", "error", err)
		}
	}

	failed := make([]string, 0, len(report.Failed))
	for target := range report.Failed {
		failed = append(failed, target)
	}

	sort.Strings(failed)

	logger.InfoKV(ctx, "Alarm dispatched",
		"verdict", verdict.String(),
		"origin", a.Origin,
		"title", a.Title,
		"invoked", report.Invoked,
		"failed", failed,
		"webhooks", report.Webhooks)

	return verdict, nil
}

// Run consumes q in arrival order until ctx is done. A missing default
// template stops processing and is returned; other failures drop the alarm.
func (p *Processor) Run(ctx context.Context, q *queue.Queue[*alarm.Alarm]) error {
	ctx = logger.WithName(ctx, "pipeline")

	for {
		a, err := q.Pop(ctx)
		if err != nil {
			return nil
		}

		if _, err = p.Handle(ctx, a); err == nil {
			continue
		}

		if errors.Is(err, template.ErrDefaultTemplateMissing) {
			logger.ErrorKV(ctx, "Alarm processing halted", "alarm_id", a.ID, "error", err)

			return err
		}

		logger.ErrorKV(ctx, "Alarm not processed", "alarm_id", a.ID, "error", err)
	}
}
