package config

// Config is alarmd's on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "15s", "5m").
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Sounds   SoundsConfig    `json:"sounds"`
	Alarms   AlarmsConfig    `json:"alarms"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	// Maintenance controls the background reconcile job.
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
	Alert   AlertConfig   `json:"alert,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// AlertConfig forwards WARN+ log lines to the notification sinks.
type AlertConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the persistence backend for alarm records and the
// ring history.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl history)
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SoundsConfig struct {
	// Builtin sounds ship with the daemon and loop during a ring.
	Builtin []BuiltinSound `json:"builtin,omitempty"`

	// RecordingsDir holds user-recorded custom sounds (played once, no loop).
	RecordingsDir string `json:"recordings_dir,omitempty"`

	// DefaultSound is used when an alarm references an unknown sound id.
	DefaultSound string `json:"default_sound,omitempty"`
}

type BuiltinSound struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text,omitempty"`
	Path string `json:"path"`
}

// AlarmsConfig tunes the firing pipeline. Defaults match the shipped app:
// 60s ring ceiling, 5m snooze, 8 backup notifications 15s apart.
type AlarmsConfig struct {
	RingTimeout string `json:"ring_timeout,omitempty"`
	SnoozeDelay string `json:"snooze_delay,omitempty"`

	// BackupCount is a pointer so an explicit 0 (primary notification only)
	// is distinguishable from unset (the default of 8).
	BackupCount   *int   `json:"backup_count,omitempty"`
	BackupSpacing string `json:"backup_spacing,omitempty"`

	// Timezone is an IANA TZ name, e.g. "Asia/Jakarta". Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// TelegramConfig enables the Telegram notification sink.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type MaintenanceConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// ReconcileSpec is a cron expression; the job re-verifies that every
	// enabled alarm has live notification handles and prunes old ring
	// history.
	ReconcileSpec string `json:"reconcile_spec,omitempty"`

	// HistoryMaxAge bounds the ring history kept by the prune step.
	HistoryMaxAge string `json:"history_max_age,omitempty"`
}
