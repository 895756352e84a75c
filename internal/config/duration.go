package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields are optional Go duration strings ("500ms", "15s", "5m").
// Empty means unset. Negative spans are rejected outright: every consumer
// (ring ceiling, snooze delay, backup spacing, history age) needs a
// non-negative value.

// ParseDurationField parses the named field, returning zero for an unset
// value.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the field is unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
