package events

import (
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// Exhaustion lifecycle event types.
const (
	TypeNotificationReceived = "notification_received"
	TypeNotificationIgnored  = "notification_ignored"
	TypeEscalationSuppressed = "escalation_suppressed"
	TypeEscalationStarted    = "escalation_started"
	TypeActionCompleted      = "action_completed"
	TypeProcessTerminated    = "process_terminated"
)

// NotificationReceivedEvent is published for every exhaustion notification
// before the gate decides on it.
type NotificationReceivedEvent struct {
	BaseEvent
	Flags  core.ExhaustionFlags `json:"flags"`
	Source string               `json:"source,omitempty"`
}

// NewNotificationReceivedEvent creates a notification received event.
func NewNotificationReceivedEvent(flags core.ExhaustionFlags, source string) NotificationReceivedEvent {
	return NotificationReceivedEvent{
		BaseEvent: NewBaseEvent(TypeNotificationReceived, ""),
		Flags:     flags,
		Source:    source,
	}
}

// NotificationIgnoredEvent is published for notifications arriving after
// the process was already terminated.
type NotificationIgnoredEvent struct {
	BaseEvent
	Flags core.ExhaustionFlags `json:"flags"`
}

// NewNotificationIgnoredEvent creates a notification ignored event.
func NewNotificationIgnoredEvent(flags core.ExhaustionFlags) NotificationIgnoredEvent {
	return NotificationIgnoredEvent{
		BaseEvent: NewBaseEvent(TypeNotificationIgnored, ""),
		Flags:     flags,
	}
}

// EscalationSuppressedEvent is published when the gate stays below its
// threshold.
type EscalationSuppressedEvent struct {
	BaseEvent
	Flags     core.ExhaustionFlags `json:"flags"`
	Count     int                  `json:"count"`
	Threshold int                  `json:"threshold"`
}

// NewEscalationSuppressedEvent creates an escalation suppressed event.
func NewEscalationSuppressedEvent(flags core.ExhaustionFlags, count, threshold int) EscalationSuppressedEvent {
	return EscalationSuppressedEvent{
		BaseEvent: NewBaseEvent(TypeEscalationSuppressed, ""),
		Flags:     flags,
		Count:     count,
		Threshold: threshold,
	}
}

// EscalationStartedEvent opens an incident.
type EscalationStartedEvent struct {
	BaseEvent
	Flags     core.ExhaustionFlags `json:"flags"`
	Count     int                  `json:"count"`
	Threshold int                  `json:"threshold"`
	Actions   []string             `json:"actions"`
}

// NewEscalationStartedEvent creates an escalation started event.
func NewEscalationStartedEvent(incidentID string, flags core.ExhaustionFlags, count, threshold int, actions []string) EscalationStartedEvent {
	return EscalationStartedEvent{
		BaseEvent: NewBaseEvent(TypeEscalationStarted, incidentID),
		Flags:     flags,
		Count:     count,
		Threshold: threshold,
		Actions:   actions,
	}
}

// ActionCompletedEvent reports the outcome of one diagnostic action.
type ActionCompletedEvent struct {
	BaseEvent
	Action   string        `json:"action"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// NewActionCompletedEvent creates an action completed event.
func NewActionCompletedEvent(incidentID, action, status string, err error, d time.Duration) ActionCompletedEvent {
	e := ActionCompletedEvent{
		BaseEvent: NewBaseEvent(TypeActionCompleted, incidentID),
		Action:    action,
		Status:    status,
		Duration:  d,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// ProcessTerminatedEvent closes an incident. Killed is false when the kill
// signal could not be delivered.
type ProcessTerminatedEvent struct {
	BaseEvent
	Flags  core.ExhaustionFlags `json:"flags"`
	PID    int                  `json:"pid"`
	Killed bool                 `json:"killed"`
	Failed int                  `json:"failed_actions"`
}

// NewProcessTerminatedEvent creates a process terminated event.
func NewProcessTerminatedEvent(incidentID string, flags core.ExhaustionFlags, pid int, killed bool, failed int) ProcessTerminatedEvent {
	return ProcessTerminatedEvent{
		BaseEvent: NewBaseEvent(TypeProcessTerminated, incidentID),
		Flags:     flags,
		PID:       pid,
		Killed:    killed,
		Failed:    failed,
	}
}
