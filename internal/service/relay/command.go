package relay

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/alarm-relay/internal/api/grpc/health"
	"github.com/oshokin/alarm-relay/internal/api/http/status"
	"github.com/oshokin/alarm-relay/internal/arbitration"
	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/dispatch"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/notifier"
	"github.com/oshokin/alarm-relay/internal/pipeline"
	"github.com/oshokin/alarm-relay/internal/queue"
	repository "github.com/oshokin/alarm-relay/internal/repository/state"
	"github.com/oshokin/alarm-relay/internal/source/mail"
	"github.com/oshokin/alarm-relay/internal/source/serial"
	"github.com/oshokin/alarm-relay/internal/template"
	"github.com/oshokin/alarm-relay/internal/webhook"
)

// Options controls the alarm-relay process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// MailDialer overrides the IMAP dialer of every mail source.
	MailDialer mail.Dialer
	// SerialOpener overrides the device opener of every serial source.
	SerialOpener serial.Opener
}

// source is one long-running input task.
type source struct {
	// service is the health service name of the source.
	service string
	run     func(ctx context.Context) error
}

// Run loads the configuration and relays alarms until ctx is canceled.
// A failing source only ends itself; the process stops on a pipeline or
// server error.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// The logger is replaced before it is attached to ctx.
	configureLogging(ctx, cfg.General)

	ctx = logger.WithName(ctx, "alarm-relay")

	for _, warning := range cfg.Warnings() {
		logger.WarnKV(ctx, "Configuration warning", "warning", warning)
	}

	registry, err := notifier.Build(cfg.Notifiers, notifier.WithTimeout(cfg.General.NotifierTimeout))
	if err != nil {
		return fmt.Errorf("build notifiers: %w", err)
	}

	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Closing notifiers failed", "error", closeErr)
		}
	}()

	webhooks := webhook.NewCaller(nil, cfg.General.WebhookTimeout)
	defer webhooks.Wait()

	tracker := arbitration.NewTracker()

	var processorOptions []pipeline.Option

	if cfg.General.StateFile != "" {
		repo := repository.NewFileRepository(cfg.General.StateFile)
		restoreLast(ctx, repo, tracker)

		processorOptions = append(processorOptions, pipeline.WithStore(repo))
	}

	processor := pipeline.New(
		template.NewResolver(cfg.Templates),
		tracker,
		dispatch.New(registry, webhooks, cfg.General.NotifierTimeout),
		cfg.General,
		processorOptions...,
	)

	inbound := queue.New[*alarm.Alarm]()

	sources, err := buildSources(cfg, opts, inbound)
	if err != nil {
		return err
	}

	healthServer := health.NewServer()
	group, groupCtx := errgroup.WithContext(ctx)

	for _, src := range sources {
		src := src

		healthServer.SetServing(src.service, true)

		group.Go(func() error {
			err := src.run(groupCtx)
			healthServer.SetServing(src.service, false)

			if err != nil && groupCtx.Err() == nil {
				logger.ErrorKV(groupCtx, "Source stopped", "source", src.service, "error", err)
			}

			return nil
		})
	}

	group.Go(func() error {
		return processor.Run(groupCtx, inbound)
	})

	if address := cfg.General.GRPCAddress; address != "" {
		group.Go(func() error {
			return healthServer.ListenAndServe(groupCtx, address)
		})
	}

	if address := cfg.General.StatusAddress; address != "" {
		group.Go(func() error {
			return status.New(tracker, registry).ListenAndServe(groupCtx, address)
		})
	}

	logger.InfoKV(ctx, "Alarm relay started",
		"sources", len(sources),
		"notifiers", registry.Names(),
		"source_priority", cfg.General.SourcePriority)

	if err = group.Wait(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	logger.Info(ctx, "Alarm relay stopped")

	return nil
}

func configureLogging(ctx context.Context, general config.General) {
	level, ok := logger.ParseLogLevel(general.LogLevel)
	if !ok {
		logger.WarnKV(ctx, "Unknown log level, using info", "log_level", general.LogLevel)
	}

	if general.LogEncoding != "" {
		logger.SetLogger(logger.NewWithEncoding(general.LogEncoding, nil))
	}

	logger.SetLevel(level)
}

func restoreLast(ctx context.Context, repo repository.Repository, tracker *arbitration.Tracker) {
	last, err := repo.Load(ctx)

	switch {
	case err == nil:
		tracker.Restore(last)
		logger.InfoKV(ctx, "Last dispatched alarm restored", "alarm_id", last.ID, "origin", last.Origin)
	case errors.Is(err, repository.ErrNotFound):
		// First start.
	default:
		logger.WarnKV(ctx, "Last dispatched alarm not restored", "error", err)
	}
}

func buildSources(cfg *config.Config, opts *Options, inbound *queue.Queue[*alarm.Alarm]) ([]source, error) {
	var sources []source

	for i := range cfg.Sources.Mail {
		src := &cfg.Sources.Mail[i]
		if !src.IsActive() {
			continue
		}

		var mailOptions []mail.Option
		if opts.MailDialer != nil {
			mailOptions = append(mailOptions, mail.WithDialer(opts.MailDialer))
		}

		listener, err := mail.NewListener(src, inbound, mailOptions...)
		if err != nil {
			return nil, err
		}

		sources = append(sources, source{service: health.MailService(src.Name), run: listener.Run})
	}

	for i := range cfg.Sources.Serial {
		src := &cfg.Sources.Serial[i]
		if !src.IsActive() {
			continue
		}

		var serialOptions []serial.Option
		if opts.SerialOpener != nil {
			serialOptions = append(serialOptions, serial.WithOpener(opts.SerialOpener))
		}

		listener, err := serial.NewListener(src, inbound, serialOptions...)
		if err != nil {
			return nil, err
		}

		sources = append(sources, source{service: health.SerialService(src.Name), run: listener.Run})
	}

	return sources, nil
}
