package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "alarmd/pkg/logx"
)

func newSQLiteKV(t *testing.T) KV {
	t.Helper()
	kv, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "alarmd.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestSQLiteKVRoundTrip(t *testing.T) {
	t.Parallel()
	kv := newSQLiteKV(t)
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "alarms/v1"); err != nil || ok {
		t.Fatalf("Get missing = %v, %v", ok, err)
	}
	if err := kv.Set(ctx, "alarms/v1", `[]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "alarms/v1", `[{"id":"a1"}]`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := kv.Get(ctx, "alarms/v1")
	if err != nil || !ok || v != `[{"id":"a1"}]` {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestSQLiteRingOrderingSubSecond(t *testing.T) {
	t.Parallel()
	kv := newSQLiteKV(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 8, 0, 5, 0, time.UTC)
	for _, e := range []RingEntry{
		{At: base, AlarmID: "whole"},
		{At: base.Add(500 * time.Millisecond), AlarmID: "half"},
		{At: base.Add(250 * time.Millisecond), AlarmID: "quarter"},
	} {
		e.SoundID = "klaxon"
		e.Outcome = OutcomeStopped
		if err := kv.AppendRing(ctx, e); err != nil {
			t.Fatalf("AppendRing: %v", err)
		}
	}

	got, err := kv.RecentRings(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRings: %v", err)
	}
	want := []string{"half", "quarter", "whole"}
	if len(got) != len(want) {
		t.Fatalf("rows = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].AlarmID != id {
			t.Fatalf("order[%d] = %s, want %s (all: %+v)", i, got[i].AlarmID, id, got)
		}
	}
	if !got[0].At.Equal(base.Add(500 * time.Millisecond)) {
		t.Fatalf("at = %v, lost sub-second precision", got[0].At)
	}
}

func TestSQLitePruneRings(t *testing.T) {
	t.Parallel()
	kv := newSQLiteKV(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 8, 0, 5, 0, time.UTC)
	for _, at := range []time.Time{base, base.Add(250 * time.Millisecond), base.Add(500 * time.Millisecond)} {
		if err := kv.AppendRing(ctx, RingEntry{At: at, AlarmID: "a1", SoundID: "klaxon", Outcome: OutcomeStopped}); err != nil {
			t.Fatalf("AppendRing: %v", err)
		}
	}

	n, err := kv.PruneRings(ctx, base.Add(300*time.Millisecond))
	if err != nil {
		t.Fatalf("PruneRings: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned = %d, want 2", n)
	}
	got, err := kv.RecentRings(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRings: %v", err)
	}
	if len(got) != 1 || !got[0].At.Equal(base.Add(500*time.Millisecond)) {
		t.Fatalf("left = %+v", got)
	}
}
