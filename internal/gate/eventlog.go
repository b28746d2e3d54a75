package gate

import "time"

// EventLog is a fixed-capacity ring of event timestamps. Once full, each
// push overwrites the oldest entry. Unused slots hold the zero time.
type EventLog struct {
	slots  []time.Time
	cursor int
}

// NewEventLog creates a log able to hold countThreshold+1 events, which is
// the most the gate ever needs to see inside one window.
func NewEventLog(countThreshold int) *EventLog {
	if countThreshold < 0 {
		countThreshold = 0
	}
	return &EventLog{slots: make([]time.Time, countThreshold+1)}
}

// Push records an event at t.
func (l *EventLog) Push(t time.Time) {
	l.slots[l.cursor] = t
	l.cursor = (l.cursor + 1) % len(l.slots)
}

// CountSince returns the number of recorded events at or after horizon.
func (l *EventLog) CountSince(horizon time.Time) int {
	n := 0
	for _, ts := range l.slots {
		if !ts.IsZero() && !ts.Before(horizon) {
			n++
		}
	}
	return n
}

// Cap returns the ring capacity.
func (l *EventLog) Cap() int {
	return len(l.slots)
}
