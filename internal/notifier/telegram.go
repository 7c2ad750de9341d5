package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/multierr"

	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
)

// DefaultTelegramURL is the Telegram Bot API base URL.
const DefaultTelegramURL = "https://api.telegram.org"

var (
	// ErrNoReceivers is returned when the alarm has no receivers for a target.
	ErrNoReceivers = errors.New("no receivers for target")
	// ErrUnexpectedStatus wraps non-success HTTP responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Telegram sends one chat message per resolved member.
type Telegram struct {
	name     string
	botToken string
	baseURL  string
	client   *http.Client
}

// NewTelegram creates a Telegram notifier. An empty baseURL uses DefaultTelegramURL.
func NewTelegram(name, botToken, baseURL string, client *http.Client) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}

	return &Telegram{
		name:     name,
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
	}
}

// Trigger messages every member of the target.
func (t *Telegram) Trigger(ctx context.Context, a *alarm.Alarm) error {
	return t.broadcast(ctx, a, FormatText(a))
}

// Update messages every member with the amended alarm.
func (t *Telegram) Update(ctx context.Context, a *alarm.Alarm) error {
	return t.broadcast(ctx, a, "UPDATE\n"+FormatText(a))
}

func (t *Telegram) broadcast(ctx context.Context, a *alarm.Alarm, text string) error {
	receiver, ok := a.Receivers[t.name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoReceivers, t.name)
	}

	var err error

	for _, chatID := range receiver.Members {
		logger.DebugKV(ctx, "Telegram message", "target", t.name, "chat_id", chatID)

		if sendErr := t.send(ctx, chatID, text); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("chat %s: %w", chatID, sendErr))
		}
	}

	return err
}

func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	query := url.Values{}
	query.Set("chat_id", chatID)
	query.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage?%s", t.baseURL, t.botToken, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token, keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("telegram request: %w", urlErr.Err)
		}

		return fmt.Errorf("telegram request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	return checkStatus("telegram", resp)
}
