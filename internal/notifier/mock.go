package notifier

import (
	"context"

	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
)

// Mock only logs the alarms it receives.
type Mock struct {
	name string
}

// NewMock creates a log-only notifier.
func NewMock(name string) *Mock {
	return &Mock{name: name}
}

// Trigger logs the alarm.
func (m *Mock) Trigger(ctx context.Context, a *alarm.Alarm) error {
	logger.InfoKV(ctx, "Mock trigger", "target", m.name, "alarm_id", a.ID, "title", a.Title)

	return nil
}

// Update logs the alarm.
func (m *Mock) Update(ctx context.Context, a *alarm.Alarm) error {
	logger.InfoKV(ctx, "Mock update", "target", m.name, "alarm_id", a.ID, "title", a.Title)

	return nil
}
