package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"alarmd/internal/alarm"
	logx "alarmd/pkg/logx"
)

func openTestKV(t *testing.T) KV {
	t.Helper()
	kv, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "alarmd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func testAlarm(id string) alarm.Alarm {
	return alarm.Alarm{
		ID:      id,
		Time:    time.Date(2024, 1, 1, 7, 30, 0, 0, time.UTC),
		Enabled: true,
		SoundID: "klaxon",
	}
}

func TestAlarmsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := openTestKV(t)

	s := NewAlarms(kv, logx.Nop())
	s.Upsert(ctx, testAlarm("a1"))
	s.Upsert(ctx, testAlarm("a2"))

	// A fresh store over the same KV sees both records.
	s2 := NewAlarms(kv, logx.Nop())
	got, err := s2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 alarms, got %d", len(got))
	}
	// New records are prepended.
	if got[0].ID != "a2" || got[1].ID != "a1" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if !got[1].Time.Equal(testAlarm("a1").Time) {
		t.Fatalf("time did not survive round trip: %v", got[1].Time)
	}
}

func TestAlarmsUpsertReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAlarms(openTestKV(t), logx.Nop())

	a := testAlarm("a1")
	s.Upsert(ctx, a)

	a.Enabled = false
	a.NotificationIDs = []string{"n1", "n2"}
	out := s.Upsert(ctx, a)

	if len(out) != 1 {
		t.Fatalf("expected 1 alarm, got %d", len(out))
	}
	if out[0].Enabled {
		t.Fatal("expected replaced record to be disabled")
	}
	if len(out[0].NotificationIDs) != 2 {
		t.Fatalf("expected handles to be replaced, got %v", out[0].NotificationIDs)
	}
}

func TestAlarmsRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAlarms(openTestKV(t), logx.Nop())

	s.Upsert(ctx, testAlarm("a1"))
	s.Upsert(ctx, testAlarm("a2"))
	out := s.Remove(ctx, "a1")
	if len(out) != 1 || out[0].ID != "a2" {
		t.Fatalf("unexpected collection after remove: %+v", out)
	}
	// Removing an absent id is a no-op.
	out = s.Remove(ctx, "ghost")
	if len(out) != 1 {
		t.Fatalf("expected 1 alarm, got %d", len(out))
	}
}

func TestAlarmsLoadDropsBadRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := openTestKV(t)

	// One good record, one with a malformed time, one without id.
	raw := `[
	  {"id":"good","time":"2024-01-01T07:30:00Z","enabled":true,"sound_id":"klaxon"},
	  {"id":"bad-time","time":"yesterday-ish","enabled":true,"sound_id":"klaxon"},
	  {"time":"2024-01-01T07:30:00Z","enabled":true,"sound_id":"klaxon"}
	]`
	if err := kv.Set(ctx, alarmsKey, raw); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := NewAlarms(kv, logx.Nop()).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "good" {
		t.Fatalf("expected only the good record, got %+v", got)
	}
}

type failingKV struct{ KV }

func (f failingKV) Set(ctx context.Context, key, value string) error {
	return errors.New("disk full")
}

func TestAlarmsPersistFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAlarms(failingKV{openTestKV(t)}, logx.Nop())

	out := s.Upsert(ctx, testAlarm("a1"))
	if len(out) != 1 {
		t.Fatalf("expected in-memory update despite persist failure, got %d", len(out))
	}
	if _, ok := s.Get("a1"); !ok {
		t.Fatal("expected alarm to be retrievable after failed persist")
	}
}
