package store

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl history)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Ring outcomes.
const (
	OutcomeStopped  = "stopped"
	OutcomeSnoozed  = "snoozed"
	OutcomeAutoStop = "auto-stop"
)

// RingEntry records one completed firing session.
// Keep it compact and schema-stable.
type RingEntry struct {
	At       time.Time     `json:"at"`
	AlarmID  string        `json:"alarm_id"`
	SoundID  string        `json:"sound_id"`
	Outcome  string        `json:"outcome"`
	AudioOK  bool          `json:"audio_ok"`
	Duration time.Duration `json:"duration"`
}
