package notifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Event kinds published to brokers.
const (
	EventTrigger = "trigger"
	EventUpdate  = "update"
)

// event is the JSON document published by broker notifiers.
type event struct {
	Kind   string       `json:"event"`
	Target string       `json:"target"`
	SentAt time.Time    `json:"sent_at"`
	Alarm  *alarm.Alarm `json:"alarm"`
}

func encodeEvent(kind, target string, a *alarm.Alarm) ([]byte, error) {
	data, err := json.Marshal(event{
		Kind:   kind,
		Target: target,
		SentAt: time.Now().UTC(),
		Alarm:  a,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", kind, err)
	}

	return data, nil
}

// FormatText renders the human-readable message of an alarm.
func FormatText(a *alarm.Alarm) string {
	var b strings.Builder

	if a.Title != "" {
		b.WriteString(a.Title)
		b.WriteString("\n")
	}

	if a.Text != "" {
		b.WriteString(a.Text)
		b.WriteString("\n")
	}

	if address := formatAddress(a.Address); address != "" {
		b.WriteString(address)
		b.WriteString("\n")
	}

	if link := a.Address.Coordinates.MapURL(); link != "" {
		b.WriteString(link)
		b.WriteString("\n")
	}

	if len(a.Units) > 0 {
		b.WriteString(strings.Join(a.Units, ", "))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatAddress(addr alarm.Address) string {
	parts := make([]string, 0, 3)

	for _, part := range []string{addr.Object, addr.Street, addr.City} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}

	return strings.Join(parts, ", ")
}
