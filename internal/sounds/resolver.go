package sounds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	logx "alarmd/pkg/logx"
)

// customPrefix marks sound ids that refer to user recordings:
// "custom:<name>" resolves to <recordings_dir>/<name>.wav.
const customPrefix = "custom:"

var (
	// ErrUnknownSound means the id matches neither a builtin nor a recording.
	ErrUnknownSound = errors.New("unknown sound id")

	// ErrRecordingMissing means a custom sound's file no longer exists on
	// disk. Callers should surface this to the user instead of retrying.
	ErrRecordingMissing = errors.New("recording file missing")
)

// Resolver maps sound ids to playable Sound records. Builtins come from the
// config; custom recordings are files under the recordings directory.
type Resolver struct {
	log logx.Logger

	mu            sync.RWMutex
	builtin       map[string]alarm.Sound
	order         []string
	recordingsDir string
	defaultID     string
}

func NewResolver(cfg config.SoundsConfig, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{log: log}
	r.Apply(cfg)
	return r
}

// Apply swaps the builtin catalog and directories (config hot-reload).
func (r *Resolver) Apply(cfg config.SoundsConfig) {
	builtin := make(map[string]alarm.Sound, len(cfg.Builtin))
	order := make([]string, 0, len(cfg.Builtin))
	for _, b := range cfg.Builtin {
		builtin[b.ID] = alarm.Sound{
			ID:   b.ID,
			Name: b.Name,
			Text: b.Text,
			Path: b.Path,
		}
		order = append(order, b.ID)
	}

	r.mu.Lock()
	r.builtin = builtin
	r.order = order
	r.recordingsDir = strings.TrimSpace(cfg.RecordingsDir)
	r.defaultID = strings.TrimSpace(cfg.DefaultSound)
	r.mu.Unlock()
}

// Resolve returns the Sound for the given id.
//
// Builtin assets are trusted (they ship with the daemon); custom recordings
// are verified on disk and fail fast with ErrRecordingMissing when gone.
func (r *Resolver) Resolve(id string) (alarm.Sound, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return alarm.Sound{}, fmt.Errorf("%w: empty id", ErrUnknownSound)
	}

	if name, ok := strings.CutPrefix(id, customPrefix); ok {
		return r.resolveCustom(id, name)
	}

	r.mu.RLock()
	s, ok := r.builtin[id]
	r.mu.RUnlock()
	if !ok {
		return alarm.Sound{}, fmt.Errorf("%w: %q", ErrUnknownSound, id)
	}
	return s, nil
}

func (r *Resolver) resolveCustom(id, name string) (alarm.Sound, error) {
	r.mu.RLock()
	dir := r.recordingsDir
	r.mu.RUnlock()
	if dir == "" {
		return alarm.Sound{}, fmt.Errorf("%w: %q (no recordings directory configured)", ErrUnknownSound, id)
	}
	if name == "" || name != filepath.Base(name) {
		return alarm.Sound{}, fmt.Errorf("%w: %q", ErrUnknownSound, id)
	}

	path := filepath.Join(dir, name+".wav")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return alarm.Sound{}, fmt.Errorf("%w: %s", ErrRecordingMissing, path)
		}
		return alarm.Sound{}, fmt.Errorf("stat recording %s: %w", path, err)
	}

	return alarm.Sound{
		ID:       id,
		Name:     name,
		Path:     path,
		IsCustom: true,
	}, nil
}

// Default returns the configured fallback sound (or the first builtin when
// none is configured). Used when an alarm references a sound that no longer
// resolves, so a ring never silently vanishes.
func (r *Resolver) Default() (alarm.Sound, error) {
	r.mu.RLock()
	id := r.defaultID
	if id == "" && len(r.order) > 0 {
		id = r.order[0]
	}
	r.mu.RUnlock()
	if id == "" {
		return alarm.Sound{}, errors.New("no builtin sounds configured")
	}
	return r.Resolve(id)
}

// List returns the builtin catalog plus any recordings found on disk.
func (r *Resolver) List() []alarm.Sound {
	r.mu.RLock()
	out := make([]alarm.Sound, 0, len(r.order)+8)
	for _, id := range r.order {
		out = append(out, r.builtin[id])
	}
	dir := r.recordingsDir
	r.mu.RUnlock()

	if dir == "" {
		return out
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("recordings dir unreadable", logx.String("dir", dir), logx.Err(err))
		}
		return out
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, alarm.Sound{
			ID:       customPrefix + name,
			Name:     name,
			Path:     filepath.Join(dir, name+".wav"),
			IsCustom: true,
		})
	}
	return out
}
