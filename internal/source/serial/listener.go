package serial

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/template"
)

// frameLines is the number of lines a frame must carry.
const frameLines = 3

const readBufferSize = 1024

var (
	errUnsupportedCharset = errors.New("unsupported charset")
	// ErrEmptyDelimiter is returned for a source without a frame delimiter.
	ErrEmptyDelimiter = errors.New("empty frame delimiter")
)

// Publisher accepts decoded alarms; *queue.Queue[*alarm.Alarm] satisfies it.
type Publisher interface {
	Push(a *alarm.Alarm)
}

// Listener reads frames from one serial device.
type Listener struct {
	src     *config.SerialSource
	out     Publisher
	open    Opener
	charset encoding.Encoding
	framer  *Framer
}

// Option configures a Listener.
type Option func(*Listener)

// WithOpener replaces the device opener.
func WithOpener(open Opener) Option {
	return func(l *Listener) {
		l.open = open
	}
}

// NewListener creates a listener for src that publishes into out.
func NewListener(src *config.SerialSource, out Publisher, opts ...Option) (*Listener, error) {
	delimiter := DecodeDelimiter(src.Delimiter)
	if len(delimiter) == 0 {
		return nil, fmt.Errorf("serial source %s: %w", src.Name, ErrEmptyDelimiter)
	}

	charset := src.Charset
	if charset == "" {
		charset = config.DefaultCharset
	}

	enc, err := LookupCharset(charset)
	if err != nil {
		return nil, fmt.Errorf("serial source %s: %w", src.Name, err)
	}

	l := &Listener{
		src:     src,
		out:     out,
		open:    OpenPort,
		charset: enc,
		framer:  NewFramer(delimiter),
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

// Run reads the device until ctx is done or a read fails.
func (l *Listener) Run(ctx context.Context) error {
	ctx = logger.WithKV(logger.WithName(ctx, "serial"), "source", l.src.Name)
	ctx = logger.WithDebug(ctx, l.src.Debug)

	port, err := l.open(l.src)
	if err != nil {
		return err
	}

	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}

		if closeErr := port.Close(); closeErr != nil {
			logger.DebugKV(ctx, "Closing serial port failed", "error", closeErr)
		}
	}()

	logger.InfoKV(ctx, "Serial port opened", "port", l.src.Port, "baudrate", l.src.BaudRate)

	buf := make([]byte, readBufferSize)

	for {
		n, err := port.Read(buf)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read %s: %w", l.src.Port, err)
		}

		if n == 0 {
			continue
		}

		logger.DebugKV(ctx, "Serial bytes read", "bytes", fmt.Sprintf("% X", buf[:n]))

		if frame, ok := l.framer.Feed(buf[:n]); ok {
			l.handleFrame(ctx, frame)
		}
	}
}

// handleFrame decodes one frame and publishes its alarm.
func (l *Listener) handleFrame(ctx context.Context, frame []byte) {
	decoded, err := l.charset.NewDecoder().Bytes(frame)
	if err != nil {
		logger.WarnKV(ctx, "Frame not decoded", "error", err)

		return
	}

	lines := splitLines(string(decoded))
	if len(lines) < frameLines {
		logger.WarnKV(ctx, "Frame is too short", "lines", len(lines))

		return
	}

	date, ric, content := lines[0], lines[1], lines[2]

	if slices.Contains(l.src.IgnoreRICs, ric) {
		logger.InfoKV(ctx, "Frame for ignored RIC dropped", "ric", ric)

		return
	}

	a := alarm.New(l.src.Name)
	a.Serial = alarm.SerialData{Date: date, RIC: ric, Content: content}
	a.AppendText(content)

	for _, keyword := range l.src.Keywords {
		if keyword != "" && strings.Contains(content, keyword) {
			a.Title = keyword

			break
		}
	}

	for _, name := range l.src.RICTemplates[ric] {
		a.AddTemplateName(name)
	}

	template.TagKeywords(a, l.src.TemplateKeywords)

	logger.InfoKV(ctx, "Alarm received", "alarm_id", a.ID, "ric", ric, "title", a.Title)
	l.out.Push(a)
}

func splitLines(text string) []string {
	lines := make([]string, 0, frameLines)

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line = strings.Trim(line, " \t\r\x00"); line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
