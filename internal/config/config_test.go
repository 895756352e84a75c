package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func intp(n int) *int { return &n }

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "alarmd.yaml", `
logging:
  level: debug
  file:
    enabled: true
    path: /tmp/alarmd.log
storage:
  driver: sqlite
  path: /tmp/alarmd.db
alarms:
  ring_timeout: 45s
  snooze_delay: 10m
  backup_count: 4
sounds:
  recordings_dir: /tmp/recordings
  builtin:
    - id: klaxon
      name: Klaxon
      path: /usr/share/alarmd/klaxon.wav
  default_sound: klaxon
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if got := cfg.RingTimeout(); got != 45*time.Second {
		t.Fatalf("RingTimeout = %v", got)
	}
	if got := cfg.SnoozeDelay(); got != 10*time.Minute {
		t.Fatalf("SnoozeDelay = %v", got)
	}
	if got := cfg.BackupCount(); got != 4 {
		t.Fatalf("BackupCount = %d", got)
	}
}

func TestBackupCountExplicitZero(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "alarmd.yaml", "alarms:\n  backup_count: 0\n")

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// An explicit 0 means primary only, not the default of 8.
	if got := cfg.BackupCount(); got != 0 {
		t.Fatalf("BackupCount = %d, want 0", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "alarmd.yaml", "bogus_section:\n  x: 1\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	if got := cfg.RingTimeout(); got != DefaultRingTimeout {
		t.Fatalf("RingTimeout default = %v", got)
	}
	if got := cfg.SnoozeDelay(); got != DefaultSnoozeDelay {
		t.Fatalf("SnoozeDelay default = %v", got)
	}
	if got := cfg.BackupCount(); got != DefaultBackupCount {
		t.Fatalf("BackupCount default = %d", got)
	}
	if got := cfg.BackupSpacing(); got != DefaultBackupSpacing {
		t.Fatalf("BackupSpacing default = %v", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty is fine", cfg: Config{}},
		{
			name: "bad duration",
			cfg: Config{
				Alarms: AlarmsConfig{RingTimeout: "soon"},
			},
			wantErr: true,
		},
		{
			name: "backup count out of range",
			cfg: Config{
				Alarms: AlarmsConfig{BackupCount: intp(99)},
			},
			wantErr: true,
		},
		{
			name: "bad timezone",
			cfg: Config{
				Alarms: AlarmsConfig{Timezone: "Mars/Olympus"},
			},
			wantErr: true,
		},
		{
			name: "unknown storage driver",
			cfg: Config{
				Storage: StorageConfig{Driver: "redis"},
			},
			wantErr: true,
		},
		{
			name: "builtin without path",
			cfg: Config{
				Sounds: SoundsConfig{Builtin: []BuiltinSound{{ID: "x", Name: "X"}}},
			},
			wantErr: true,
		},
		{
			name: "duplicate builtin id",
			cfg: Config{
				Sounds: SoundsConfig{Builtin: []BuiltinSound{
					{ID: "x", Path: "/a.wav"},
					{ID: "x", Path: "/b.wav"},
				}},
			},
			wantErr: true,
		},
		{
			name: "default sound must exist",
			cfg: Config{
				Sounds: SoundsConfig{DefaultSound: "nope"},
			},
			wantErr: true,
		},
		{
			name: "telegram needs token",
			cfg: Config{
				Telegram: &TelegramConfig{ChatID: 42},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
