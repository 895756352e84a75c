package ring

import (
	"context"
	"errors"
	"sync"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/notify"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// ErrUnknownAlarm means a fire event referenced an alarm that is not in the
// store (deleted between scheduling and delivery).
var ErrUnknownAlarm = errors.New("unknown alarm")

// Settings are re-read per operation so config reloads apply immediately.
type Settings struct {
	RingTimeout time.Duration
	SnoozeDelay time.Duration
	Location    *time.Location
}

// AudioSession is the in-flight playback owned by a firing session.
type AudioSession interface {
	Stop(ctx context.Context)
	AudioOK() bool
}

// AudioStarter starts playback for a resolved sound.
type AudioStarter interface {
	Start(ctx context.Context, s alarm.Sound) (AudioSession, error)
}

type soundResolver interface {
	Resolve(id string) (alarm.Sound, error)
	Default() (alarm.Sound, error)
}

type alarmStore interface {
	Get(id string) (alarm.Alarm, bool)
	Upsert(ctx context.Context, a alarm.Alarm) []alarm.Alarm
}

type scheduler interface {
	Schedule(ctx context.Context, a alarm.Alarm) ([]notify.Handle, error)
	ScheduleSnooze(ctx context.Context, a alarm.Alarm, at time.Time) (notify.Handle, error)
	CancelAlarm(alarmID string) int
}

type ringHistory interface {
	AppendRing(ctx context.Context, e store.RingEntry) error
}

// FiringSession is the state of one active ring.
type FiringSession struct {
	AlarmID   string
	Sound     alarm.Sound
	StartedAt time.Time

	audio    AudioSession
	autoStop *time.Timer
}

// Lifecycle is the single-owner state machine for rings: idle or firing one
// alarm. A newer fire replaces the current ring (last-fired-wins); stop,
// snooze and the ring-timeout auto-stop all converge on one teardown path.
type Lifecycle struct {
	alarms   alarmStore
	sounds   soundResolver
	audio    AudioStarter
	sched    scheduler
	history  ringHistory
	bus      eventbus.Bus
	log      logx.Logger
	settings func() Settings
	now      func() time.Time

	mu  sync.Mutex
	cur *FiringSession
}

func NewLifecycle(alarms alarmStore, sounds soundResolver, audio AudioStarter, sch scheduler, history ringHistory, bus eventbus.Bus, settings func() Settings, log logx.Logger) *Lifecycle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lifecycle{
		alarms:   alarms,
		sounds:   sounds,
		audio:    audio,
		sched:    sch,
		history:  history,
		bus:      bus,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// Current returns a copy of the active firing session, if any.
func (l *Lifecycle) Current() (FiringSession, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return FiringSession{}, false
	}
	return *l.cur, true
}

// Fire starts ringing the given alarm. If another ring is active it is torn
// down first; the newest fire always wins. Audio problems never abort the
// ring: the session stays active (and auto-stops) even with no sound.
func (l *Lifecycle) Fire(ctx context.Context, alarmID string) error {
	a, ok := l.alarms.Get(alarmID)
	if !ok {
		l.log.Warn("fire for unknown alarm ignored", logx.String("alarm", alarmID))
		return ErrUnknownAlarm
	}
	if !a.Enabled {
		// A stale notification can outlive a disable; never ring for it.
		l.log.Debug("fire for disabled alarm ignored", logx.String("alarm", alarmID))
		return nil
	}

	st := l.settings()
	sound := l.resolveSound(a)

	l.mu.Lock()
	if prev := l.cur; prev != nil {
		// Replace, don't stack. The replaced alarm keeps its pending
		// backups; only the ring itself is taken over.
		l.teardownLocked(prev)
		l.log.Info("ring replaced",
			logx.String("old", prev.AlarmID),
			logx.String("new", alarmID))
	}

	session := &FiringSession{
		AlarmID:   alarmID,
		Sound:     sound,
		StartedAt: l.now(),
	}
	if l.audio != nil && sound.ID != "" {
		as, err := l.audio.Start(ctx, sound)
		if err != nil {
			l.log.Warn("audio start failed, ringing without sound",
				logx.String("alarm", alarmID),
				logx.String("sound", sound.ID),
				logx.Err(err))
		} else {
			session.audio = as
		}
	}
	session.autoStop = time.AfterFunc(st.RingTimeout, func() {
		l.finishIfCurrent(session, store.OutcomeAutoStop)
	})
	l.cur = session
	l.mu.Unlock()

	l.log.Info("ring started",
		logx.String("alarm", alarmID),
		logx.String("sound", sound.ID),
		logx.Duration("timeout", st.RingTimeout))
	l.publish(eventbus.TypeRingStarted, alarmID)
	return nil
}

// Stop ends the ring for the alarm and advances it: repeating alarms roll to
// their next occurrence, one-shots are disabled. Safe to call when nothing
// is ringing (a press on a notification after the daemon restarted still
// advances the alarm).
func (l *Lifecycle) Stop(ctx context.Context, alarmID string) {
	l.finish(ctx, alarmID, store.OutcomeStopped)
}

// Snooze silences the ring and arms a single follow-up notification. The
// alarm itself is not advanced; the follow-up re-fires it.
func (l *Lifecycle) Snooze(ctx context.Context, alarmID string) {
	st := l.settings()
	session := l.takeSession(ctx, alarmID)

	l.sched.CancelAlarm(alarmID)

	a, ok := l.alarms.Get(alarmID)
	if ok {
		at := l.now().Add(st.SnoozeDelay)
		if h, err := l.sched.ScheduleSnooze(ctx, a, at); err != nil {
			l.log.Error("snooze scheduling failed", logx.String("alarm", alarmID), logx.Err(err))
		} else {
			a.NotificationIDs = []string{string(h)}
			l.alarms.Upsert(ctx, a)
		}
	}

	l.record(ctx, session, store.OutcomeSnoozed)
	l.log.Info("ring snoozed", logx.String("alarm", alarmID), logx.Duration("delay", st.SnoozeDelay))
	l.publish(eventbus.TypeRingSnoozed, alarmID)
}

func (l *Lifecycle) finish(ctx context.Context, alarmID string, outcome string) {
	l.settle(ctx, l.takeSession(ctx, alarmID), alarmID, outcome)
}

// finishIfCurrent ends the ring only if the given session is still the
// active one. The identity check and the detach happen under one lock
// acquisition, so a stale auto-stop timer can never tear down a session
// that replaced it in the meantime.
func (l *Lifecycle) finishIfCurrent(session *FiringSession, outcome string) {
	l.mu.Lock()
	if l.cur != session {
		l.mu.Unlock()
		return
	}
	l.cur = nil
	l.teardownLocked(session)
	l.mu.Unlock()
	l.settle(context.Background(), session, session.AlarmID, outcome)
}

func (l *Lifecycle) settle(ctx context.Context, session *FiringSession, alarmID, outcome string) {
	// Teardown order matters: audio first (already silenced with the
	// session detach), then the pending notifications, then the alarm
	// record.
	l.sched.CancelAlarm(alarmID)

	if a, ok := l.alarms.Get(alarmID); ok {
		l.advance(ctx, a)
	}

	l.record(ctx, session, outcome)
	l.log.Info("ring stopped", logx.String("alarm", alarmID), logx.String("outcome", outcome))
	l.publish(eventbus.TypeRingStopped, alarmID)
}

// takeSession detaches and silences the current session if it belongs to the
// alarm. Returns nil when nothing (or another alarm) is ringing.
func (l *Lifecycle) takeSession(ctx context.Context, alarmID string) *FiringSession {
	l.mu.Lock()
	session := l.cur
	if session == nil || session.AlarmID != alarmID {
		l.mu.Unlock()
		return nil
	}
	l.cur = nil
	l.teardownLocked(session)
	l.mu.Unlock()
	return session
}

func (l *Lifecycle) teardownLocked(s *FiringSession) {
	if s.autoStop != nil {
		s.autoStop.Stop()
	}
	if s.audio != nil {
		s.audio.Stop(context.Background())
	}
}

// advance rolls a repeating alarm to its next occurrence, or disables a
// one-shot. Either way the stored record and the armed notifications end up
// consistent.
func (l *Lifecycle) advance(ctx context.Context, a alarm.Alarm) {
	st := l.settings()
	loc := st.Location
	if loc == nil {
		loc = time.Local
	}
	now := l.now().In(loc)

	if a.RepeatDays.Empty() {
		a.Enabled = false
		a.NotificationIDs = nil
		l.alarms.Upsert(ctx, a)
		return
	}

	next, ok := alarm.NextTriggerChecked(now, a.TimeOfDay(), a.RepeatDays)
	if !ok {
		l.log.Warn("alarm has invalid time on rollover", logx.String("alarm", a.ID))
	}
	a.Time = next

	handles, err := l.sched.Schedule(ctx, a)
	if err != nil {
		l.log.Error("rollover scheduling failed", logx.String("alarm", a.ID), logx.Err(err))
		a.NotificationIDs = nil
	} else {
		ids := make([]string, len(handles))
		for i, h := range handles {
			ids[i] = string(h)
		}
		a.NotificationIDs = ids
	}
	l.alarms.Upsert(ctx, a)
}

func (l *Lifecycle) record(ctx context.Context, session *FiringSession, outcome string) {
	if session == nil || l.history == nil {
		return
	}
	entry := store.RingEntry{
		At:       session.StartedAt,
		AlarmID:  session.AlarmID,
		SoundID:  session.Sound.ID,
		Outcome:  outcome,
		Duration: l.now().Sub(session.StartedAt),
	}
	if session.audio != nil {
		entry.AudioOK = session.audio.AudioOK()
	}
	if err := l.history.AppendRing(ctx, entry); err != nil {
		l.log.Warn("ring history append failed", logx.String("alarm", session.AlarmID), logx.Err(err))
	}
}

// resolveSound maps the alarm's sound id to a playable sound, falling back
// to the default so a stale or deleted sound never mutes a wake-up.
func (l *Lifecycle) resolveSound(a alarm.Alarm) alarm.Sound {
	s, err := l.sounds.Resolve(a.SoundID)
	if err == nil {
		return s
	}
	l.log.Warn("sound unresolvable, using default",
		logx.String("alarm", a.ID),
		logx.String("sound", a.SoundID),
		logx.Err(err))
	def, derr := l.sounds.Default()
	if derr != nil {
		l.log.Error("no default sound available", logx.Err(derr))
		return alarm.Sound{}
	}
	return def
}

func (l *Lifecycle) publish(typ, alarmID string) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: map[string]string{"alarm_id": alarmID}})
}
