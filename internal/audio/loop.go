package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/sounds"
	logx "alarmd/pkg/logx"
)

// ErrPlaybackStalled means the resource was created but never reported
// playing within the bounded retries.
var ErrPlaybackStalled = errors.New("audio playback never started")

// AlertFunc is the non-audio fallback surfaced when playback cannot be
// established (or a recording is gone): the user still gets an observable
// signal that the alarm fired.
type AlertFunc func(title, body string)

// Loop is the reliability wrapper around the audio collaborator: it creates
// the resource paused, waits for it to load, plays, and re-issues play a
// bounded number of times if the platform stalls.
//
// Loop does not enforce the 60s ring ceiling itself; the lifecycle stops the
// session from outside. Being stopped mid-retry is not an error.
type Loop struct {
	player Player
	log    logx.Logger
	alert  AlertFunc

	// Retry knobs, overridable in tests.
	LoadPollInterval time.Duration
	LoadPollMax      int
	PlayAttempts     int
	PlayPollInterval time.Duration
}

func NewLoop(player Player, alert AlertFunc, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if alert == nil {
		alert = func(title, body string) {}
	}
	return &Loop{
		player: player,
		log:    log,
		alert:  alert,

		LoadPollInterval: 100 * time.Millisecond,
		LoadPollMax:      20,
		PlayAttempts:     5,
		PlayPollInterval: 500 * time.Millisecond,
	}
}

// Session is one in-flight playback owned by a firing session.
type Session struct {
	playable Playable
	cancel   context.CancelFunc
	done     chan struct{}

	stopOnce sync.Once
	playing  atomic.Bool
	failed   atomic.Bool
}

// AudioOK reports whether playback was ever confirmed.
func (s *Session) AudioOK() bool { return s.playing.Load() }

// Failed reports whether every play attempt was exhausted.
func (s *Session) Failed() bool { return s.failed.Load() }

// Stop halts and unloads the session. Safe to call at any point, including
// mid-retry; always idempotent.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		_ = s.playable.Stop(ctx)
		_ = s.playable.Unload(ctx)
	})
}

// Start verifies the sound resource, creates it paused, and begins the
// play/verify/retry loop in the background.
//
// A missing recording fails fast with sounds.ErrRecordingMissing so the
// caller can surface an actionable message instead of retrying.
func (l *Loop) Start(ctx context.Context, sound alarm.Sound) (*Session, error) {
	if sound.IsCustom {
		if _, err := os.Stat(sound.Path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", sounds.ErrRecordingMissing, sound.Path)
			}
			return nil, fmt.Errorf("stat recording %s: %w", sound.Path, err)
		}
	}

	opts := Options{
		// Recordings are short phrases; built-ins are designed to loop.
		Loop:   !sound.IsCustom,
		Volume: 1.0,
	}
	playable, err := l.player.Create(ctx, sound, opts)
	if err != nil {
		return nil, fmt.Errorf("create audio resource: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		playable: playable,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		l.run(runCtx, s, sound)
	}()

	return s, nil
}

func (l *Loop) run(ctx context.Context, s *Session, sound alarm.Sound) {
	if !l.waitLoaded(ctx, s.playable) {
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("audio resource never loaded", logx.String("sound", sound.ID))
		// Keep going: Play below may still succeed on some backends.
	}

	if err := s.playable.Play(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("audio play failed", logx.String("sound", sound.ID), logx.Err(err))
	}

	// Verify playback actually started; reissue play a bounded number of
	// times before escalating to the non-audio fallback.
	for attempt := 0; attempt < l.PlayAttempts; attempt++ {
		if !sleepCtx(ctx, l.PlayPollInterval) {
			return
		}
		st, err := s.playable.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn("audio status check failed", logx.String("sound", sound.ID), logx.Err(err))
			continue
		}
		if st.Playing {
			s.playing.Store(true)
			l.log.Debug("audio playing", logx.String("sound", sound.ID), logx.Int("attempt", attempt+1))
			return
		}
		l.log.Debug("audio not playing, reissuing play",
			logx.String("sound", sound.ID),
			logx.Int("attempt", attempt+1),
			logx.Int("max", l.PlayAttempts))
		if err := s.playable.Play(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn("audio replay failed", logx.String("sound", sound.ID), logx.Err(err))
		}
	}

	if ctx.Err() != nil {
		return
	}
	s.failed.Store(true)
	l.log.Error("audio failed to play after retries",
		logx.String("sound", sound.ID),
		logx.Int("attempts", l.PlayAttempts))
	body := sound.Text
	if body == "" {
		body = sound.Name
	}
	l.alert("Wake up!", body)
}

func (l *Loop) waitLoaded(ctx context.Context, p Playable) bool {
	for i := 0; i < l.LoadPollMax; i++ {
		st, err := p.Status(ctx)
		if err == nil && st.Loaded {
			return true
		}
		if !sleepCtx(ctx, l.LoadPollInterval) {
			return false
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
