package alarm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Alarm is the persistent unit a user manages.
//
// Time carries the next unresolved occurrence; only its hour/minute are
// authoritative for scheduling (see TimeOfDay). The date part is rewritten
// on repeat rollover.
type Alarm struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Enabled bool      `json:"enabled"`
	SoundID string    `json:"sound_id"`

	// RepeatDays is empty for one-shot alarms.
	RepeatDays DaySet `json:"repeat_days,omitempty"`

	// NotificationIDs are the opaque handles of the currently scheduled
	// occurrence (primary + backups). Empty when not scheduled.
	NotificationIDs []string `json:"notification_ids,omitempty"`
}

// TimeOfDay returns the wall-clock component of the alarm's time.
func (a Alarm) TimeOfDay() TimeOfDay {
	return TimeOfDay{Hour: a.Time.Hour(), Minute: a.Time.Minute()}
}

// Sound is a resolved playable sound, supplied by the sound resolution
// collaborator. Custom sounds are user recordings on disk; built-ins ship
// with the daemon and are designed to loop.
type Sound struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Text     string `json:"text,omitempty"`
	Path     string `json:"path"`
	IsCustom bool   `json:"is_custom"`
}

// TimeOfDay is a wall-clock time decoupled from any calendar date.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On places the time-of-day onto the given date, zeroing seconds.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, date.Location())
}

// DaySet is a set of weekdays an alarm repeats on. Empty means one-shot.
// It serializes as a JSON array of weekday indices (0=Sunday .. 6=Saturday).
type DaySet []time.Weekday

func (d DaySet) Empty() bool { return len(d) == 0 }

func (d DaySet) Has(w time.Weekday) bool {
	for _, x := range d {
		if x == w {
			return true
		}
	}
	return false
}

// Normalize returns a sorted copy with duplicates and out-of-range values
// removed.
func (d DaySet) Normalize() DaySet {
	seen := [7]bool{}
	out := make(DaySet, 0, len(d))
	for _, w := range d {
		if w < time.Sunday || w > time.Saturday || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var weekdays = DaySet{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
var weekend = DaySet{time.Sunday, time.Saturday}

// Label renders the repeat pattern for notification bodies and logs.
func (d DaySet) Label() string {
	n := d.Normalize()
	switch {
	case len(n) == 0:
		return "Once"
	case len(n) == 7:
		return "Daily"
	case len(n) == 5 && n.containsAll(weekdays):
		return "Weekdays"
	case len(n) == 2 && n.containsAll(weekend):
		return "Weekends"
	}
	names := make([]string, 0, len(n))
	for _, w := range n {
		names = append(names, w.String()[:3])
	}
	return strings.Join(names, " ")
}

func (d DaySet) containsAll(other DaySet) bool {
	for _, w := range other {
		if !d.Has(w) {
			return false
		}
	}
	return true
}
