package store

import (
	"context"
	"encoding/json"
	"sync"

	"alarmd/internal/alarm"
	logx "alarmd/pkg/logx"
)

// alarmsKey is the fixed KV slot the whole alarm collection lives under.
const alarmsKey = "alarms/v1"

// Alarms is the in-memory alarm collection backed by a KV slot.
//
// Every mutation replaces the whole record and persists the full collection.
// Persistence failures are logged and the in-memory state still updates, so
// callers stay responsive; the next successful persist heals the desync.
type Alarms struct {
	kv  KV
	log logx.Logger

	mu    sync.Mutex
	items []alarm.Alarm
}

func NewAlarms(kv KV, log logx.Logger) *Alarms {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Alarms{kv: kv, log: log}
}

// Load reads the collection from the KV slot. Records that fail to decode
// are dropped with a warning rather than poisoning the whole list.
func (s *Alarms) Load(ctx context.Context) ([]alarm.Alarm, error) {
	raw, ok, err := s.kv.Get(ctx, alarmsKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		s.mu.Lock()
		s.items = nil
		s.mu.Unlock()
		return nil, nil
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &rawItems); err != nil {
		return nil, err
	}

	items := make([]alarm.Alarm, 0, len(rawItems))
	for i, rm := range rawItems {
		var a alarm.Alarm
		if err := json.Unmarshal(rm, &a); err != nil {
			s.log.Warn("dropping undecodable alarm record", logx.Int("index", i), logx.Err(err))
			continue
		}
		if a.ID == "" {
			s.log.Warn("dropping alarm record without id", logx.Int("index", i))
			continue
		}
		a.RepeatDays = a.RepeatDays.Normalize()
		items = append(items, a)
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return s.snapshot(), nil
}

// All returns a copy of the current collection.
func (s *Alarms) All() []alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Alarms) Get(id string) (alarm.Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.items {
		if a.ID == id {
			return a, true
		}
	}
	return alarm.Alarm{}, false
}

// Upsert replaces the alarm with a matching id, or prepends a new one.
// Callers must pass complete records; there is no partial-field merge.
func (s *Alarms) Upsert(ctx context.Context, a alarm.Alarm) []alarm.Alarm {
	a.RepeatDays = a.RepeatDays.Normalize()

	s.mu.Lock()
	replaced := false
	for i := range s.items {
		if s.items[i].ID == a.ID {
			s.items[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		s.items = append([]alarm.Alarm{a}, s.items...)
	}
	out := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, out)
	return out
}

// Remove deletes the alarm with the given id (no-op if absent).
// The caller is responsible for cancelling its notification handles first.
func (s *Alarms) Remove(ctx context.Context, id string) []alarm.Alarm {
	s.mu.Lock()
	kept := s.items[:0]
	for _, a := range s.items {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.items = kept
	out := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, out)
	return out
}

func (s *Alarms) persist(ctx context.Context, items []alarm.Alarm) {
	b, err := json.Marshal(items)
	if err != nil {
		s.log.Error("alarm collection marshal failed", logx.Err(err))
		return
	}
	if err := s.kv.Set(ctx, alarmsKey, string(b)); err != nil {
		// In-memory state is already updated; treat this as a desync risk,
		// not a hard failure.
		s.log.Warn("alarm collection persist failed", logx.Int("count", len(items)), logx.Err(err))
	}
}

func (s *Alarms) snapshot() []alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Alarms) snapshotLocked() []alarm.Alarm {
	out := make([]alarm.Alarm, len(s.items))
	copy(out, s.items)
	return out
}
