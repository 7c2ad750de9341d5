package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete relay configuration.
type Config struct {
	// General holds process-wide settings.
	General General `yaml:"general"`
	// Notifiers lists the outbound targets addressed by name from templates.
	Notifiers []Notifier `yaml:"notifiers"`
	// Sources lists the mail and serial inputs.
	Sources Sources `yaml:"sources"`
	// Templates maps a template name to its per-target entries.
	Templates map[string]Template `yaml:"templates"`
}

// General holds process-wide settings.
type General struct {
	// Timeout is the incident window: a newer alarm within it is an update.
	Timeout time.Duration `yaml:"timeout"`
	// SourcePriority orders source names, most important first.
	SourcePriority []string `yaml:"source_priority"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogEncoding is "console" or "json".
	LogEncoding string `yaml:"log_encoding"`
	// StatusAddress enables the HTTP status API when set (e.g. ":8080").
	StatusAddress string `yaml:"status_addr"`
	// GRPCAddress enables the gRPC health service when set (e.g. ":9090").
	GRPCAddress string `yaml:"grpc_addr"`
	// WebhookTimeout bounds a single webhook call.
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	// NotifierTimeout bounds a single notifier call.
	NotifierTimeout time.Duration `yaml:"notifier_timeout"`
	// StateFile keeps the last dispatched alarm across restarts when set.
	StateFile string `yaml:"state_file"`
}

// Notifier configures one outbound target.
type Notifier struct {
	// Name is the target name used in templates.
	Name string `yaml:"name"`
	// Type selects the implementation (divera, telegram, mqtt, nats, redis, mock, alamos).
	Type string `yaml:"type"`
	// APIKey is the access key or bot token of HTTP platforms.
	APIKey string `yaml:"api_key"`
	// URL overrides the platform base URL or names the broker.
	URL string `yaml:"url"`
	// Topic is the MQTT topic, NATS subject or Redis channel.
	Topic string `yaml:"topic"`
	// Username and Password authenticate against brokers.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// QoS is the MQTT quality of service level.
	QoS byte `yaml:"qos"`
}

// Sources groups the configured inputs.
type Sources struct {
	Mail   []MailSource   `yaml:"mail"`
	Serial []SerialSource `yaml:"serial"`
}

// MailSource configures one IMAP mailbox.
type MailSource struct {
	// Name is the alarm origin used for priority arbitration.
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
	Debug  bool   `yaml:"debug"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`

	// Idle enables the push loop.
	Idle bool `yaml:"idle"`
	// IdleTimeout bounds one IDLE wait before it is re-armed.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// Keepalive re-issues IDLE while waiting.
	Keepalive time.Duration `yaml:"keepalive"`
	// Poll enables the poll loop.
	Poll bool `yaml:"poll"`
	// PollInterval is the delay between two UNSEEN searches.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxAge rejects messages older than this; zero disables the check.
	MaxAge time.Duration `yaml:"max_age"`
	// AlarmSender is the expected sender address or "*".
	AlarmSender string `yaml:"alarm_sender"`
	// AlarmSubject is the expected subject or "*".
	AlarmSubject string `yaml:"alarm_subject"`
	// Schema selects the body parser.
	Schema string `yaml:"schema"`
	// TemplateKeywords maps a keyword found in the alarm to a template name.
	TemplateKeywords map[string]string `yaml:"template_keywords"`
	// IgnoreUnits are removed from the parsed unit list.
	IgnoreUnits []string `yaml:"ignore_units"`
}

// IsActive reports whether the source should be started. Sources are active unless disabled.
func (m *MailSource) IsActive() bool {
	return m.Active == nil || *m.Active
}

// Address returns the host:port of the IMAP server.
func (m *MailSource) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// SerialSource configures one serial pager receiver.
type SerialSource struct {
	// Name is the alarm origin used for priority arbitration.
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
	Debug  bool   `yaml:"debug"`

	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baudrate"`
	// Delimiter ends a frame, written in escape notation (\r, \n, \0).
	Delimiter string `yaml:"delimiter"`
	// Charset is the single-byte encoding of the receiver (IANA name).
	Charset string `yaml:"charset"`
	// ReadTimeout bounds one read call.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Keywords are matched against the content line; the first hit is the title.
	Keywords []string `yaml:"keywords"`
	// RICTemplates tags templates by radio identifier.
	RICTemplates map[string][]string `yaml:"ric_templates"`
	// IgnoreRICs lists radio identifiers whose frames are discarded.
	IgnoreRICs []string `yaml:"ignore_rics"`
	// TemplateKeywords maps a keyword found in the alarm to a template name.
	TemplateKeywords map[string]string `yaml:"template_keywords"`
}

// IsActive reports whether the source should be started. Sources are active unless disabled.
func (s *SerialSource) IsActive() bool {
	return s.Active == nil || *s.Active
}

const (
	// DefaultConfigFilename is the default configuration file name.
	DefaultConfigFilename = "alarm-relay.yaml"

	// DefaultTemplateName is the template applied to every alarm first.
	DefaultTemplateName = "default"

	// Wildcard accepts any subject or sender.
	Wildcard = "*"

	// DefaultIncidentTimeout is used when the general.timeout key is absent.
	DefaultIncidentTimeout = 30 * time.Minute
	// DefaultWebhookTimeout bounds one webhook GET.
	DefaultWebhookTimeout = 10 * time.Second
	// DefaultNotifierTimeout bounds one notifier call.
	DefaultNotifierTimeout = 30 * time.Second

	// DefaultIMAPPort is the implicit TLS IMAP port.
	DefaultIMAPPort = 993
	// DefaultMailbox is selected when no mailbox is configured.
	DefaultMailbox = "INBOX"
	// DefaultIdleTimeout bounds one IDLE wait.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultKeepalive re-issues IDLE below the 29 minute server limit.
	DefaultKeepalive = 25 * time.Minute
	// DefaultPollInterval is the UNSEEN search period.
	DefaultPollInterval = 30 * time.Second
	// DefaultSchema is the body parser used when none is configured.
	DefaultSchema = "plaintext"

	// DefaultBaudRate of pager receivers.
	DefaultBaudRate = 9600
	// DefaultDelimiter ends a frame.
	DefaultDelimiter = `\r\n`
	// DefaultCharset of pager receivers.
	DefaultCharset = "ISO-8859-1"
	// DefaultFilePermissions is used for the state file.
	DefaultFilePermissions = 0o600
	// DefaultReadTimeout keeps the serial loop responsive.
	DefaultReadTimeout = 10 * time.Millisecond
)

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(contents)
}

// Parse decodes and validates configuration contents.
func Parse(contents []byte) (*Config, error) {
	// An explicit "timeout: 0" is kept: every alarm then starts a new incident.
	cfg := Config{General: General{Timeout: DefaultIncidentTimeout}}
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
