package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the firing pipeline; these match the behavior of the shipped
// mobile app and apply when the corresponding field is omitted.
const (
	DefaultRingTimeout   = 60 * time.Second
	DefaultSnoozeDelay   = 5 * time.Minute
	DefaultBackupCount   = 8
	DefaultBackupSpacing = 15 * time.Second

	DefaultReconcileSpec = "30 3 * * *"
	DefaultHistoryMaxAge = 30 * 24 * time.Hour
)

// Validate checks the whole config before it is committed/published.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if _, err := ParseDurationOrDefault("alarms.ring_timeout", cfg.Alarms.RingTimeout, DefaultRingTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationOrDefault("alarms.snooze_delay", cfg.Alarms.SnoozeDelay, DefaultSnoozeDelay); err != nil {
		return err
	}
	if _, err := ParseDurationOrDefault("alarms.backup_spacing", cfg.Alarms.BackupSpacing, DefaultBackupSpacing); err != nil {
		return err
	}
	if n := cfg.Alarms.BackupCount; n != nil && (*n < 0 || *n > 20) {
		return fmt.Errorf("alarms.backup_count: must be 0..20, got %d", *n)
	}
	if tz := strings.TrimSpace(cfg.Alarms.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("alarms.timezone: %w", err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", d)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i, s := range cfg.Sounds.Builtin {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("sounds.builtin[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sounds.builtin[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("sounds.builtin[%d] (%s): path is required", i, s.ID)
		}
	}
	if def := strings.TrimSpace(cfg.Sounds.DefaultSound); def != "" && !seen[def] {
		return fmt.Errorf("sounds.default_sound: %q is not a builtin sound id", def)
	}

	if cfg.Telegram != nil {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token: required when telegram section is present")
		}
		if cfg.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id: required when telegram section is present")
		}
	}

	if _, err := ParseDurationOrDefault("maintenance.history_max_age", cfg.Maintenance.HistoryMaxAge, DefaultHistoryMaxAge); err != nil {
		return err
	}

	return nil
}

// RingTimeout returns the validated ring ceiling.
func (c *Config) RingTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("", c.Alarms.RingTimeout, DefaultRingTimeout)
	return d
}

// SnoozeDelay returns the validated snooze interval.
func (c *Config) SnoozeDelay() time.Duration {
	d, _ := ParseDurationOrDefault("", c.Alarms.SnoozeDelay, DefaultSnoozeDelay)
	return d
}

// BackupSpacing returns the validated spacing between backup notifications.
func (c *Config) BackupSpacing() time.Duration {
	d, _ := ParseDurationOrDefault("", c.Alarms.BackupSpacing, DefaultBackupSpacing)
	return d
}

// BackupCount returns the number of redundant notifications per occurrence.
// An explicit 0 means the primary notification only.
func (c *Config) BackupCount() int {
	if n := c.Alarms.BackupCount; n != nil && *n >= 0 {
		return *n
	}
	return DefaultBackupCount
}

// Location resolves the configured timezone, falling back to local.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Alarms.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
