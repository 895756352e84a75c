package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "alarmd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.kv.json       (whole-map snapshot, rewritten on every Set)
//   - <prefix>.rings.jsonl   (append-only JSON Lines)
//
// The kv snapshot is written atomically (tmp + rename) so a crash mid-write
// never leaves a truncated alarm list behind.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	kvPath   string
	ringPath string
	kv       map[string]string

	ringFile *os.File
}

func openFile(cfg Config, log logx.Logger) (KV, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	kvPath := prefix + ".kv.json"
	ringPath := prefix + ".rings.jsonl"

	kv := map[string]string{}
	if b, err := os.ReadFile(kvPath); err == nil {
		if err := json.Unmarshal(b, &kv); err != nil {
			log.Warn("kv snapshot unreadable, starting empty", logx.String("path", kvPath), logx.Err(err))
			kv = map[string]string{}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	rf, err := os.OpenFile(ringPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		kvPath:   kvPath,
		ringPath: ringPath,
		kv:       kv,
		ringFile: rf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringFile != nil {
		err := s.ringFile.Close()
		s.ringFile = nil
		return err
	}
	return nil
}

func (s *fileStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *fileStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return s.writeSnapshotLocked()
}

func (s *fileStore) writeSnapshotLocked() error {
	b, err := json.MarshalIndent(s.kv, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.kvPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.kvPath)
}

func (s *fileStore) AppendRing(ctx context.Context, e RingEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringFile == nil {
		return errors.New("ring history file closed")
	}
	return json.NewEncoder(s.ringFile).Encode(e)
}

func (s *fileStore) RecentRings(ctx context.Context, limit int) ([]RingEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readRingsLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *fileStore) PruneRings(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readRingsLocked()
	if err != nil {
		return 0, err
	}
	kept := entries[:0]
	for _, e := range entries {
		if !e.At.Before(olderThan) {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	// Rewrite the history file with the kept entries.
	if s.ringFile != nil {
		_ = s.ringFile.Close()
	}
	tmp := s.ringPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, e := range kept {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, s.ringPath); err != nil {
		return 0, err
	}

	rf, err := os.OpenFile(s.ringPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.ringFile = rf
	return removed, nil
}

func (s *fileStore) readRingsLocked() ([]RingEntry, error) {
	f, err := os.Open(s.ringPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []RingEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e RingEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			s.log.Warn("skipping corrupt ring history line", logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
