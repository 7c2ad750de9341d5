package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Notifier types understood by the registry.
const (
	NotifierDivera   = "divera"
	NotifierTelegram = "telegram"
	NotifierMQTT     = "mqtt"
	NotifierNATS     = "nats"
	NotifierRedis    = "redis"
	NotifierMock     = "mock"
	NotifierAlamos   = "alamos"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrDefaultTemplateRequired is returned when templates lack "default".
	ErrDefaultTemplateRequired = errors.New(`template "default" must be defined`)
	// errNoSources is returned when no source is active.
	errNoSources = errors.New("at least one active mail or serial source is required")
)

// Validate checks the configuration, fills defaults and reports every problem found.
//
//nolint:cyclop // A flat list of checks reads better than a split.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	var err error

	applyGeneralDefaults(&cfg.General)

	if cfg.General.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("general.timeout must not be negative: %s", cfg.General.Timeout))
	}

	notifierNames := make(map[string]struct{}, len(cfg.Notifiers))

	for i := range cfg.Notifiers {
		n := &cfg.Notifiers[i]
		n.Type = strings.ToLower(strings.TrimSpace(n.Type))

		if n.Name == "" {
			err = multierr.Append(err, fmt.Errorf("notifiers[%d]: name is required", i))

			continue
		}

		if _, dup := notifierNames[n.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("notifier %q: duplicate name", n.Name))
		}

		notifierNames[n.Name] = struct{}{}

		err = multierr.Append(err, validateNotifier(n))
	}

	sourceNames := make(map[string]struct{})
	active := 0

	for i := range cfg.Sources.Mail {
		m := &cfg.Sources.Mail[i]
		applyMailDefaults(m)

		err = multierr.Append(err, checkSourceName(sourceNames, "sources.mail", i, m.Name))
		err = multierr.Append(err, validateMail(m))

		if m.IsActive() {
			active++
		}
	}

	for i := range cfg.Sources.Serial {
		s := &cfg.Sources.Serial[i]
		applySerialDefaults(s)

		err = multierr.Append(err, checkSourceName(sourceNames, "sources.serial", i, s.Name))
		err = multierr.Append(err, validateSerial(s))

		if s.IsActive() {
			active++
		}
	}

	if active == 0 {
		err = multierr.Append(err, errNoSources)
	}

	if _, ok := cfg.Templates[DefaultTemplateName]; !ok {
		err = multierr.Append(err, ErrDefaultTemplateRequired)
	}

	return err
}

// Warnings reports configuration smells that do not prevent startup:
// template targets without a notifier and priority entries naming no source.
func (c *Config) Warnings() []string {
	var warnings []string

	notifiers := make(map[string]struct{}, len(c.Notifiers))
	for _, n := range c.Notifiers {
		notifiers[n.Name] = struct{}{}
	}

	for name, tmpl := range c.Templates {
		for _, target := range tmpl.Targets() {
			if _, ok := notifiers[target]; !ok {
				warnings = append(warnings, fmt.Sprintf("template %q: target %q is not a configured notifier", name, target))
			}
		}
	}

	sources := make(map[string]struct{})
	for _, m := range c.Sources.Mail {
		sources[m.Name] = struct{}{}
	}

	for _, s := range c.Sources.Serial {
		sources[s.Name] = struct{}{}
	}

	for _, name := range c.General.SourcePriority {
		if _, ok := sources[name]; !ok {
			warnings = append(warnings, fmt.Sprintf("general.source_priority: %q is not a configured source", name))
		}
	}

	return warnings
}

func applyGeneralDefaults(g *General) {
	if g.WebhookTimeout <= 0 {
		g.WebhookTimeout = DefaultWebhookTimeout
	}

	if g.NotifierTimeout <= 0 {
		g.NotifierTimeout = DefaultNotifierTimeout
	}
}

func validateNotifier(n *Notifier) error {
	switch n.Type {
	case NotifierDivera, NotifierTelegram:
		if n.APIKey == "" {
			return fmt.Errorf("notifier %q: api_key is required for type %s", n.Name, n.Type)
		}
	case NotifierMQTT, NotifierNATS, NotifierRedis:
		var err error
		if n.URL == "" {
			err = multierr.Append(err, fmt.Errorf("notifier %q: url is required for type %s", n.Name, n.Type))
		}

		if n.Topic == "" {
			err = multierr.Append(err, fmt.Errorf("notifier %q: topic is required for type %s", n.Name, n.Type))
		}

		if n.QoS > 2 {
			err = multierr.Append(err, fmt.Errorf("notifier %q: qos must be 0, 1 or 2", n.Name))
		}

		return err
	case NotifierMock, NotifierAlamos:
	default:
		return fmt.Errorf("notifier %q: unknown type %q", n.Name, n.Type)
	}

	return nil
}

func checkSourceName(seen map[string]struct{}, section string, i int, name string) error {
	if name == "" {
		return fmt.Errorf("%s[%d]: name is required", section, i)
	}

	if _, dup := seen[name]; dup {
		return fmt.Errorf("source %q: duplicate name", name)
	}

	seen[name] = struct{}{}

	return nil
}

func applyMailDefaults(m *MailSource) {
	if m.Port == 0 {
		m.Port = DefaultIMAPPort
	}

	if m.Mailbox == "" {
		m.Mailbox = DefaultMailbox
	}

	if m.IdleTimeout <= 0 {
		m.IdleTimeout = DefaultIdleTimeout
	}

	if m.Keepalive <= 0 {
		m.Keepalive = DefaultKeepalive
	}

	if m.PollInterval <= 0 {
		m.PollInterval = DefaultPollInterval
	}

	if m.Schema == "" {
		m.Schema = DefaultSchema
	}

	if m.AlarmSender == "" {
		m.AlarmSender = Wildcard
	}

	if m.AlarmSubject == "" {
		m.AlarmSubject = Wildcard
	}
}

func validateMail(m *MailSource) error {
	var err error

	if m.Host == "" {
		err = multierr.Append(err, fmt.Errorf("mail source %q: host is required", m.Name))
	}

	if m.User == "" {
		err = multierr.Append(err, fmt.Errorf("mail source %q: user is required", m.Name))
	}

	if m.Port <= 0 || m.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("mail source %q: invalid port %d", m.Name, m.Port))
	}

	if !m.Idle && !m.Poll {
		err = multierr.Append(err, fmt.Errorf("mail source %q: enable idle, poll or both", m.Name))
	}

	if m.MaxAge < 0 {
		err = multierr.Append(err, fmt.Errorf("mail source %q: max_age must not be negative", m.Name))
	}

	return err
}

func applySerialDefaults(s *SerialSource) {
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}

	if s.Delimiter == "" {
		s.Delimiter = DefaultDelimiter
	}

	if s.Charset == "" {
		s.Charset = DefaultCharset
	}

	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
}

func validateSerial(s *SerialSource) error {
	var err error

	if s.Port == "" {
		err = multierr.Append(err, fmt.Errorf("serial source %q: port is required", s.Name))
	}

	if s.BaudRate < 0 {
		err = multierr.Append(err, fmt.Errorf("serial source %q: invalid baudrate %d", s.Name, s.BaudRate))
	}

	return err
}
