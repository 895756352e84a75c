package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/notify"
	logx "alarmd/pkg/logx"
)

type scheduled struct {
	at      time.Time
	payload notify.Payload
}

type fakeNotifier struct {
	mu     sync.Mutex
	seq    int
	armed  map[notify.Handle]scheduled
	failAt int // fail the Nth ScheduleAt call (1-based), 0 = never
	calls  int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{armed: map[notify.Handle]scheduled{}}
}

func (f *fakeNotifier) ScheduleAt(ctx context.Context, at time.Time, p notify.Payload) (notify.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return "", errors.New("boom")
	}
	f.seq++
	h := notify.Handle(fmt.Sprintf("h%d", f.seq))
	f.armed[h] = scheduled{at: at, payload: p}
	return h, nil
}

func (f *fakeNotifier) Cancel(h notify.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.armed[h]; !ok {
		return false
	}
	delete(f.armed, h)
	return true
}

func (f *fakeNotifier) Armed(h notify.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[h]
	return ok
}

func (f *fakeNotifier) snapshot() []scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduled, 0, len(f.armed))
	for _, s := range f.armed {
		out = append(out, s)
	}
	return out
}

type fakeSounds struct{}

func (fakeSounds) Resolve(id string) (alarm.Sound, error) {
	if id == "klaxon" {
		return alarm.Sound{ID: id, Name: "Klaxon", Text: "WAKE UP SOLDIER"}, nil
	}
	return alarm.Sound{}, errors.New("unknown sound")
}

func testSettings() Settings {
	return Settings{BackupCount: 8, BackupSpacing: 15 * time.Second, Location: time.UTC}
}

func newTestScheduler(fn *fakeNotifier) *Scheduler {
	s := New(fn, fakeSounds{}, testSettings, logx.Nop())
	// Monday 2024-01-01 08:00 UTC.
	s.now = func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) }
	return s
}

func mustSchedule(t *testing.T, s *Scheduler, a alarm.Alarm) []notify.Handle {
	t.Helper()
	hs, err := s.Schedule(context.Background(), a)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	return hs
}

func testAlarm(enabled bool) alarm.Alarm {
	return alarm.Alarm{
		ID:      "a1",
		Time:    time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
		Enabled: enabled,
		SoundID: "klaxon",
	}
}

func TestSchedulePrimaryPlusBackups(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	s := newTestScheduler(fn)

	hs := mustSchedule(t, s, testAlarm(true))
	if len(hs) != 9 {
		t.Fatalf("handles = %d, want 9 (primary + 8 backups)", len(hs))
	}

	want := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	repeats := map[int]bool{}
	for _, sc := range fn.snapshot() {
		i := sc.payload.Repeat
		repeats[i] = true
		if got := sc.at; !got.Equal(want.Add(time.Duration(i) * 15 * time.Second)) {
			t.Errorf("repeat %d at %v", i, got)
		}
		if !sc.payload.IsAlarm || sc.payload.AlarmID != "a1" || sc.payload.SoundID != "klaxon" {
			t.Errorf("payload = %+v", sc.payload)
		}
	}
	for i := 0; i <= 8; i++ {
		if !repeats[i] {
			t.Errorf("missing repeat counter %d", i)
		}
	}
}

func TestScheduleBodyCarriesSoundText(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	s := newTestScheduler(fn)

	mustSchedule(t, s, testAlarm(true))
	for _, sc := range fn.snapshot() {
		if sc.payload.Body != "WAKE UP SOLDIER" {
			t.Fatalf("body = %q, want the sound's text", sc.payload.Body)
		}
	}

	// No resolvable text: fall back to the generic phrase.
	a := testAlarm(true)
	a.ID = "a2"
	a.SoundID = "custom:whisper"
	mustSchedule(t, s, a)
	for _, sc := range fn.snapshot() {
		if sc.payload.AlarmID == "a2" && sc.payload.Body != fallbackBody {
			t.Fatalf("body = %q, want %q", sc.payload.Body, fallbackBody)
		}
	}
}

func TestRescheduleCancelsStaleFirst(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	s := newTestScheduler(fn)
	a := testAlarm(true)

	mustSchedule(t, s, a)
	mustSchedule(t, s, a)

	if n := len(fn.snapshot()); n != 9 {
		t.Fatalf("armed = %d after reschedule, want 9 (not 18)", n)
	}
}

func TestScheduleDisabledCancelsOnly(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	s := newTestScheduler(fn)

	mustSchedule(t, s, testAlarm(true))
	hs := mustSchedule(t, s, testAlarm(false))
	if hs != nil {
		t.Fatalf("disabled alarm armed handles: %v", hs)
	}
	if n := len(fn.snapshot()); n != 0 {
		t.Fatalf("armed = %d, want 0", n)
	}
}

func TestSchedulePartialFailureRollsBack(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	fn.failAt = 5
	s := newTestScheduler(fn)

	if _, err := s.Schedule(context.Background(), testAlarm(true)); err == nil {
		t.Fatal("expected error")
	}
	if n := len(fn.snapshot()); n != 0 {
		t.Fatalf("armed = %d after rollback, want 0", n)
	}
	if len(s.Handles("a1")) != 0 {
		t.Fatal("handles tracked despite failure")
	}
}

func TestScheduleSnoozeJoinsTrackedSet(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	s := newTestScheduler(fn)
	a := testAlarm(true)

	mustSchedule(t, s, a)
	at := s.now().Add(5 * time.Minute)
	h, err := s.ScheduleSnooze(context.Background(), a, at)
	if err != nil {
		t.Fatalf("ScheduleSnooze: %v", err)
	}

	found := false
	for _, sc := range fn.snapshot() {
		if sc.payload.Snooze {
			found = true
			if !sc.at.Equal(at) {
				t.Errorf("snooze at %v, want %v", sc.at, at)
			}
		}
	}
	if !found {
		t.Fatal("no snooze notification armed")
	}

	// Cancelling the alarm clears the snooze too.
	s.CancelAlarm(a.ID)
	if fn.Armed(h) {
		t.Fatal("snooze survived CancelAlarm")
	}
}

func TestCancelAlarmOnlyTouchesOwnHandles(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	s := newTestScheduler(fn)

	a := testAlarm(true)
	b := testAlarm(true)
	b.ID = "b1"
	mustSchedule(t, s, a)
	mustSchedule(t, s, b)

	if n := s.CancelAlarm("a1"); n != 9 {
		t.Fatalf("cancelled %d, want 9", n)
	}
	if n := len(fn.snapshot()); n != 9 {
		t.Fatalf("armed = %d, want 9 left for b1", n)
	}
}

func TestReconcileReArmsDeadOccurrences(t *testing.T) {
	t.Parallel()
	fn := newFakeNotifier()
	s := newTestScheduler(fn)
	a := testAlarm(true)

	hs := mustSchedule(t, s, a)
	// Simulate the whole occurrence having fired.
	for _, h := range hs {
		fn.Cancel(h)
	}

	if n := s.Reconcile(context.Background(), []alarm.Alarm{a}); n != 1 {
		t.Fatalf("rearmed = %d, want 1", n)
	}
	if n := len(fn.snapshot()); n != 9 {
		t.Fatalf("armed = %d, want 9", n)
	}

	// A live occurrence is left alone.
	if n := s.Reconcile(context.Background(), []alarm.Alarm{a}); n != 0 {
		t.Fatalf("rearmed = %d, want 0", n)
	}
}
