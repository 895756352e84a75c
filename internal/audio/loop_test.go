package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/sounds"
	logx "alarmd/pkg/logx"
)

// fakePlayable reports playing only after playsUntilAudible Play calls.
type fakePlayable struct {
	mu               sync.Mutex
	playCalls        int
	playsUntilAudible int
	loaded           bool
	stopped          bool
	unloaded         bool
}

func (f *fakePlayable) Play(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCalls++
	return nil
}

func (f *fakePlayable) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakePlayable) Unload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloaded = true
	return nil
}

func (f *fakePlayable) Status(ctx context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	playing := f.playsUntilAudible > 0 && f.playCalls >= f.playsUntilAudible && !f.stopped
	return Status{Loaded: f.loaded, Playing: playing}, nil
}

type fakePlayer struct {
	playable *fakePlayable
	lastOpts Options
	err      error
}

func (f *fakePlayer) Create(ctx context.Context, sound alarm.Sound, opts Options) (Playable, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOpts = opts
	return f.playable, nil
}

func fastLoop(p Player, alert AlertFunc) *Loop {
	l := NewLoop(p, alert, logx.Nop())
	l.LoadPollInterval = time.Millisecond
	l.LoadPollMax = 3
	l.PlayPollInterval = time.Millisecond
	return l
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not finish")
	}
}

func TestLoopPlaysFirstTry(t *testing.T) {
	t.Parallel()
	fp := &fakePlayable{loaded: true, playsUntilAudible: 1}
	player := &fakePlayer{playable: fp}
	l := fastLoop(player, nil)

	s, err := l.Start(context.Background(), alarm.Sound{ID: "klaxon", Path: "/x.wav"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if !s.AudioOK() {
		t.Fatal("expected AudioOK")
	}
	if s.Failed() {
		t.Fatal("unexpected Failed")
	}
	if !player.lastOpts.Loop {
		t.Fatal("builtin sound should loop")
	}
}

func TestLoopRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	// First Play is silent; the third attempt sticks.
	fp := &fakePlayable{loaded: true, playsUntilAudible: 3}
	l := fastLoop(&fakePlayer{playable: fp}, nil)

	s, err := l.Start(context.Background(), alarm.Sound{ID: "klaxon", Path: "/x.wav"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if !s.AudioOK() {
		t.Fatal("expected AudioOK after retries")
	}
	fp.mu.Lock()
	calls := fp.playCalls
	fp.mu.Unlock()
	if calls < 3 {
		t.Fatalf("expected at least 3 play calls, got %d", calls)
	}
}

func TestLoopEscalatesToAlert(t *testing.T) {
	t.Parallel()
	fp := &fakePlayable{loaded: true} // never reports playing
	var alerted atomic.Bool
	var gotBody string
	l := fastLoop(&fakePlayer{playable: fp}, func(title, body string) {
		alerted.Store(true)
		gotBody = body
	})

	s, err := l.Start(context.Background(), alarm.Sound{ID: "klaxon", Path: "/x.wav", Text: "GET UP"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if !alerted.Load() {
		t.Fatal("expected fallback alert after exhausted retries")
	}
	if gotBody != "GET UP" {
		t.Fatalf("alert body = %q", gotBody)
	}
	if !s.Failed() {
		t.Fatal("expected Failed")
	}
	fp.mu.Lock()
	calls := fp.playCalls
	fp.mu.Unlock()
	// Initial play + one reissue per failed poll.
	if want := 1 + l.PlayAttempts; calls != want {
		t.Fatalf("play calls = %d, want %d", calls, want)
	}
}

func TestLoopStopMidRetry(t *testing.T) {
	t.Parallel()
	fp := &fakePlayable{loaded: true} // stalls forever
	var alerted atomic.Bool
	l := fastLoop(&fakePlayer{playable: fp}, func(title, body string) { alerted.Store(true) })
	l.PlayPollInterval = 50 * time.Millisecond

	s, err := l.Start(context.Background(), alarm.Sound{ID: "klaxon", Path: "/x.wav"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Stop while the retry loop is still going.
	s.Stop(context.Background())
	s.Stop(context.Background()) // idempotent

	fp.mu.Lock()
	stopped, unloaded := fp.stopped, fp.unloaded
	fp.mu.Unlock()
	if !stopped || !unloaded {
		t.Fatalf("expected stop+unload, got stopped=%v unloaded=%v", stopped, unloaded)
	}
	if alerted.Load() {
		t.Fatal("stop mid-retry must not escalate to an alert")
	}
	if s.Failed() {
		t.Fatal("stop mid-retry is not a failure")
	}
}

func TestLoopCustomSoundDoesNotLoop(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rec.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fp := &fakePlayable{loaded: true, playsUntilAudible: 1}
	player := &fakePlayer{playable: fp}
	l := fastLoop(player, nil)

	s, err := l.Start(context.Background(), alarm.Sound{ID: "custom:rec", Path: path, IsCustom: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if player.lastOpts.Loop {
		t.Fatal("custom recording must not loop")
	}
}

func TestLoopMissingRecordingFailsFast(t *testing.T) {
	t.Parallel()
	l := fastLoop(&fakePlayer{playable: &fakePlayable{}}, nil)

	_, err := l.Start(context.Background(), alarm.Sound{
		ID:       "custom:gone",
		Path:     filepath.Join(t.TempDir(), "gone.wav"),
		IsCustom: true,
	})
	if !errors.Is(err, sounds.ErrRecordingMissing) {
		t.Fatalf("expected ErrRecordingMissing, got %v", err)
	}
}
