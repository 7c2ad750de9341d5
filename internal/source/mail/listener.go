package mail

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/mailparser"
	"github.com/oshokin/alarm-relay/internal/queue"
	"github.com/oshokin/alarm-relay/internal/template"
)

// Publisher accepts accepted alarms; *queue.Queue[*alarm.Alarm] satisfies it.
type Publisher interface {
	Push(a *alarm.Alarm)
}

// ErrNoLoops is returned when neither IDLE nor polling is enabled.
var ErrNoLoops = errors.New("mail source has neither idle nor poll enabled")

// Listener watches one mailbox.
type Listener struct {
	src    *config.MailSource
	out    Publisher
	parser mailparser.Parser
	dial   Dialer
	now    func() time.Time

	// raw is fed by both producer loops and drained by the consumer.
	raw *queue.Queue[[]byte]
	// window is touched by the consumer only.
	window *Window
}

// Option configures a Listener.
type Option func(*Listener)

// WithDialer replaces the IMAP dialer.
func WithDialer(dial Dialer) Option {
	return func(l *Listener) {
		l.dial = dial
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		l.now = now
	}
}

// NewListener creates a listener for src that publishes into out.
func NewListener(src *config.MailSource, out Publisher, opts ...Option) (*Listener, error) {
	parser, err := mailparser.Lookup(src.Schema)
	if err != nil {
		return nil, fmt.Errorf("mail source %s: %w", src.Name, err)
	}

	l := &Listener{
		src:    src,
		out:    out,
		parser: parser,
		dial:   DialIMAP,
		now:    time.Now,
		raw:    queue.New[[]byte](),
		window: NewWindow(DefaultWindowSize),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Name returns the source name.
func (l *Listener) Name() string {
	return l.src.Name
}

// Run starts the enabled producer loops and consumes their messages until ctx
// is done or every loop has ended. A loop that fails does not stop the other
// one; the returned error describes the loops that failed.
func (l *Listener) Run(ctx context.Context) error {
	if !l.src.Idle && !l.src.Poll {
		return ErrNoLoops
	}

	ctx = logger.WithKV(logger.WithName(ctx, "mail"), "source", l.src.Name)
	ctx = logger.WithDebug(ctx, l.src.Debug)

	var (
		producers errgroup.Group
		failures  = make(chan error, 2)
	)

	if l.src.Idle {
		producers.Go(func() error {
			return l.report(ctx, "push", failures, l.pushLoop(ctx))
		})
	}

	if l.src.Poll {
		producers.Go(func() error {
			return l.report(ctx, "poll", failures, l.pollLoop(ctx))
		})
	}

	finished := make(chan struct{})

	go func() {
		_ = producers.Wait()

		close(finished)
		close(failures)
	}()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-finished:
			cancel()
		case <-consumeCtx.Done():
		}
	}()

	for {
		raw, err := l.raw.Pop(consumeCtx)
		if err != nil {
			break
		}

		l.handle(ctx, raw)
	}

	<-finished

	if ctx.Err() == nil {
		for raw, ok := l.raw.TryPop(); ok; raw, ok = l.raw.TryPop() {
			l.handle(ctx, raw)
		}
	}

	var err error
	for failure := range failures {
		err = multierr.Append(err, failure)
	}

	return err
}

func (l *Listener) report(ctx context.Context, loop string, failures chan<- error, err error) error {
	if err == nil || ctx.Err() != nil {
		logger.InfoKV(ctx, "Mail loop stopped", "loop", loop)

		return nil
	}

	logger.ErrorKV(ctx, "Mail loop failed", "loop", loop, "error", err)
	failures <- fmt.Errorf("%s loop: %w", loop, err)

	return nil
}

// pushLoop waits in IDLE and fetches the newest message on every announcement.
func (l *Listener) pushLoop(ctx context.Context) error {
	session, err := l.dial(ctx, l.src)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.DebugKV(ctx, "Closing push session failed", "error", closeErr)
		}
	}()

	timeout := l.src.IdleTimeout
	if timeout <= 0 {
		timeout = config.DefaultIdleTimeout
	}

	logger.InfoKV(ctx, "Waiting for new mail", "mailbox", l.src.Mailbox)

	for ctx.Err() == nil {
		announced, err := session.WaitNew(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if !announced {
			logger.Debug(ctx, "IDLE re-armed")

			continue
		}

		raw, err := session.FetchLatest(ctx)
		if err != nil {
			return err
		}

		if raw != nil {
			l.raw.Push(raw)
		}
	}

	return nil
}

// pollLoop searches for unseen messages every poll interval.
func (l *Listener) pollLoop(ctx context.Context) error {
	session, err := l.dial(ctx, l.src)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.DebugKV(ctx, "Closing poll session failed", "error", closeErr)
		}
	}()

	interval := l.src.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	processed := make(map[uint32]struct{})

	for {
		if processed, err = l.pollOnce(ctx, session, processed); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce fetches unseen messages not handled before. The returned set only
// keeps UIDs that are still unseen so it stays as small as the mailbox backlog.
func (l *Listener) pollOnce(
	ctx context.Context,
	session Session,
	processed map[uint32]struct{},
) (map[uint32]struct{}, error) {
	uids, err := session.Unseen(ctx)
	if err != nil {
		return processed, err
	}

	next := make(map[uint32]struct{}, len(uids))

	for _, uid := range uids {
		if _, ok := processed[uid]; ok {
			next[uid] = struct{}{}

			continue
		}

		raw, err := session.Fetch(ctx, uid)
		if err != nil {
			return next, err
		}

		next[uid] = struct{}{}

		if raw != nil {
			logger.DebugKV(ctx, "Fetched unseen mail", "uid", uid)
			l.raw.Push(raw)
		}
	}

	return next, nil
}

// handle turns one raw message into an alarm or drops it.
func (l *Listener) handle(ctx context.Context, raw []byte) {
	msg, err := ParseMessage(raw, l.now())
	if err != nil {
		logger.WarnKV(ctx, "Mail dropped", "error", err)

		return
	}

	if !l.window.Add(FingerprintOf(msg)) {
		logger.DebugKV(ctx, "Duplicate mail dropped", "subject", msg.Subject)

		return
	}

	if reason := l.reject(msg); reason != "" {
		logger.InfoKV(ctx, "Mail is not an alarm", "reason", reason, "subject", msg.Subject, "sender", msg.Sender)

		return
	}

	a := alarm.New(l.src.Name)
	a.Mail = alarm.MailData{
		ID:      msg.ID,
		Sender:  msg.Sender,
		Subject: msg.Subject,
		Content: msg.Text,
		Date:    msg.Date,
	}

	summary, err := l.parser.Parse(msg.Text, msg.HTML, a, l.src)
	if err != nil {
		logger.ErrorKV(ctx, "Mail body not parsed", "schema", l.src.Schema, "subject", msg.Subject, "error", err)

		return
	}

	if len(l.src.IgnoreUnits) > 0 {
		a.Units = slices.DeleteFunc(a.Units, func(unit string) bool {
			return slices.Contains(l.src.IgnoreUnits, unit)
		})
	}

	template.TagKeywords(a, l.src.TemplateKeywords)

	logger.InfoKV(ctx, "Alarm received", "alarm_id", a.ID, "title", a.Title, "summary", summary)
	l.out.Push(a)
}

// reject returns why msg is not an alarm, or an empty string.
func (l *Listener) reject(msg *Message) string {
	if !matches(l.src.AlarmSubject, msg.Subject, false) {
		return "unexpected subject"
	}

	if !matches(l.src.AlarmSender, msg.Sender, true) {
		return "unexpected sender"
	}

	if l.src.MaxAge > 0 {
		if age := l.now().Sub(msg.Date); age > l.src.MaxAge {
			return fmt.Sprintf("too old (%s)", age.Round(time.Second))
		}
	}

	return ""
}

// matches compares a header against the expected value; "*" and an empty
// expectation accept everything.
func matches(expected, actual string, foldCase bool) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" || expected == config.Wildcard {
		return true
	}

	actual = strings.TrimSpace(actual)
	if foldCase {
		return strings.EqualFold(expected, actual)
	}

	return expected == actual
}
