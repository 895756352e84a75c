package notify

import (
	"context"
	"time"
)

// Actions a user can take on a delivered alarm notification.
const (
	ActionStop   = "stop"
	ActionSnooze = "snooze"
)

// Handle identifies one scheduled notification. Handles are opaque and
// single-use: once a notification fires or is cancelled its handle is dead.
type Handle string

// Payload is the content carried by a scheduled notification. It is small
// and JSON-serializable so sinks can forward it as-is.
type Payload struct {
	AlarmID string `json:"alarm_id"`
	SoundID string `json:"sound_id,omitempty"`

	// IsAlarm marks a firing-pipeline notification (primary, backup or
	// snooze) as opposed to an informational message.
	IsAlarm bool `json:"is_alarm,omitempty"`

	// Snooze marks the notification as a snooze follow-up.
	Snooze bool `json:"snooze,omitempty"`

	// Repeat is zero for the primary notification and 1..N for backups.
	Repeat int `json:"repeat,omitempty"`

	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// EventKind discriminates Service events.
type EventKind int

const (
	// KindFired: a scheduled notification reached its fire time and was
	// delivered to the sinks.
	KindFired EventKind = iota
	// KindAction: the user responded to a notification (stop, snooze, or a
	// plain press with an empty ActionID).
	KindAction
)

// Event is the inbound stream consumed by the firing pipeline.
type Event struct {
	Kind     EventKind
	Handle   Handle
	Payload  Payload
	ActionID string
	At       time.Time
}

// Sink delivers payloads to one outbound surface (Telegram, the log, ...).
// Sinks must tolerate concurrent Send calls.
type Sink interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}
