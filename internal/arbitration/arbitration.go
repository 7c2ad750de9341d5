package arbitration

import (
	"slices"
	"sync"
	"time"

	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Verdict is the classification of an incoming alarm.
type Verdict int

const (
	// First opens a new incident; notifiers are triggered.
	First Verdict = iota + 1
	// Update refers to the running incident; notifiers are updated.
	Update
	// Drop is suppressed: a higher-priority source owns the running incident.
	Drop
)

// String returns the verdict name for logs.
func (v Verdict) String() string {
	switch v {
	case First:
		return "first"
	case Update:
		return "update"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Classify compares incoming with the last dispatched alarm.
//
// Without a last alarm, or once timeout has passed since it, the alarm is
// First. Inside the window the origins are ranked by priority (lower index
// wins): a better rank updates, a worse rank is dropped, and equal or unknown
// ranks update.
func Classify(incoming, last *alarm.Alarm, timeout time.Duration, priority []string) Verdict {
	if last == nil {
		return First
	}

	if incoming.Time.Sub(last.Time) >= timeout {
		return First
	}

	newRank := slices.Index(priority, incoming.Origin)
	lastRank := slices.Index(priority, last.Origin)

	if newRank < 0 || lastRank < 0 {
		return Update
	}

	switch {
	case newRank < lastRank:
		return Update
	case newRank > lastRank:
		return Drop
	default:
		return Update
	}
}

// Tracker holds the most recently dispatched alarm.
//
// Only one slot is kept: arbitration never looks further back, so earlier
// alarms are released instead of accumulating.
type Tracker struct {
	// mu protects last.
	mu   sync.RWMutex
	last *alarm.Alarm
	// dispatched counts recorded alarms since start.
	dispatched uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return new(Tracker)
}

// Last returns a copy of the last dispatched alarm or nil.
func (t *Tracker) Last() *alarm.Alarm {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.last.Clone()
}

// Record stores a copy of a dispatched alarm as the new reference.
func (t *Tracker) Record(a *alarm.Alarm) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = a.Clone()
	t.dispatched++
}

// Restore seeds the tracker with an alarm dispatched before a restart.
// It does not count as a dispatch.
func (t *Tracker) Restore(a *alarm.Alarm) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = a.Clone()
}

// Dispatched returns how many alarms were recorded.
func (t *Tracker) Dispatched() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.dispatched
}

// Classify classifies incoming against the tracked alarm.
func (t *Tracker) Classify(incoming *alarm.Alarm, timeout time.Duration, priority []string) Verdict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Classify(incoming, t.last, timeout, priority)
}
