package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/notify"
	logx "alarmd/pkg/logx"
)

// Settings are the firing-pipeline knobs the scheduler needs per call.
// They are re-read on every operation so config reloads take effect without
// restarting the scheduler.
type Settings struct {
	BackupCount   int
	BackupSpacing time.Duration
	Location      *time.Location
}

// notifier is the slice of the notification service the scheduler uses.
type notifier interface {
	ScheduleAt(ctx context.Context, at time.Time, p notify.Payload) (notify.Handle, error)
	Cancel(h notify.Handle) bool
	Armed(h notify.Handle) bool
}

type soundResolver interface {
	Resolve(id string) (alarm.Sound, error)
}

// fallbackBody is the notification text for alarms whose sound has no
// phrase of its own (custom recordings, deleted sounds).
const fallbackBody = "Alarm is ringing!"

// Scheduler arms one occurrence per enabled alarm: a primary notification at
// the trigger time plus redundant backups spaced behind it, so a single
// missed delivery cannot silently skip a wake-up.
//
// Handles are tracked per alarm; re-scheduling always cancels the previous
// occurrence first, so an alarm never has two live occurrence sets.
type Scheduler struct {
	notes    notifier
	sounds   soundResolver
	settings func() Settings
	log      logx.Logger
	now      func() time.Time

	mu      sync.Mutex
	handles map[string][]notify.Handle
}

func New(notes notifier, sounds soundResolver, settings func() Settings, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		notes:    notes,
		sounds:   sounds,
		settings: settings,
		log:      log,
		now:      time.Now,
		handles:  map[string][]notify.Handle{},
	}
}

// Schedule arms the next occurrence of the alarm. A disabled alarm only has
// its stale handles cancelled. Returns the handles that were armed.
func (s *Scheduler) Schedule(ctx context.Context, a alarm.Alarm) ([]notify.Handle, error) {
	s.CancelAlarm(a.ID)
	if !a.Enabled {
		return nil, nil
	}

	st := s.settings()
	loc := st.Location
	if loc == nil {
		loc = time.Local
	}
	now := s.now().In(loc)

	next, ok := alarm.NextTriggerChecked(now, a.TimeOfDay(), a.RepeatDays)
	if !ok {
		s.log.Warn("alarm has invalid time, falling back to near-term trigger",
			logx.String("alarm", a.ID),
			logx.Time("at", next))
	}

	total := 1 + st.BackupCount
	armed := make([]notify.Handle, 0, total)
	for i := 0; i < total; i++ {
		at := next.Add(time.Duration(i) * st.BackupSpacing)
		h, err := s.notes.ScheduleAt(ctx, at, s.payload(a, i, false))
		if err != nil {
			// Roll back: a partially armed occurrence would double-fire
			// after the next reschedule.
			for _, prev := range armed {
				s.notes.Cancel(prev)
			}
			return nil, fmt.Errorf("schedule alarm %s: %w", a.ID, err)
		}
		armed = append(armed, h)
	}

	s.mu.Lock()
	s.handles[a.ID] = armed
	s.mu.Unlock()

	s.log.Info("alarm scheduled",
		logx.String("alarm", a.ID),
		logx.Time("at", next),
		logx.String("repeat", a.RepeatDays.Label()),
		logx.Int("notifications", total))
	return armed, nil
}

// ScheduleSnooze arms a single follow-up notification at the given time.
// The handle joins the alarm's tracked set so a later stop or disable also
// clears the snooze.
func (s *Scheduler) ScheduleSnooze(ctx context.Context, a alarm.Alarm, at time.Time) (notify.Handle, error) {
	h, err := s.notes.ScheduleAt(ctx, at, s.payload(a, 0, true))
	if err != nil {
		return "", fmt.Errorf("schedule snooze for %s: %w", a.ID, err)
	}

	s.mu.Lock()
	s.handles[a.ID] = append(s.handles[a.ID], h)
	s.mu.Unlock()

	s.log.Info("snooze scheduled", logx.String("alarm", a.ID), logx.Time("at", at))
	return h, nil
}

// CancelAlarm disarms every tracked handle for the alarm. Other alarms'
// notifications are untouched.
func (s *Scheduler) CancelAlarm(alarmID string) int {
	s.mu.Lock()
	hs := s.handles[alarmID]
	delete(s.handles, alarmID)
	s.mu.Unlock()

	n := 0
	for _, h := range hs {
		if s.notes.Cancel(h) {
			n++
		}
	}
	return n
}

// Handles returns the tracked handles for an alarm (armed or already fired).
func (s *Scheduler) Handles(alarmID string) []notify.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Handle(nil), s.handles[alarmID]...)
}

// Reconcile re-arms any enabled alarm whose occurrence has no armed handles
// left, and clears tracking for disabled ones. Used at startup and by the
// daily maintenance job. Returns the number of alarms re-armed.
func (s *Scheduler) Reconcile(ctx context.Context, alarms []alarm.Alarm) int {
	rearmed := 0
	for _, a := range alarms {
		if !a.Enabled {
			s.CancelAlarm(a.ID)
			continue
		}
		if s.armedCount(a.ID) > 0 {
			continue
		}
		if _, err := s.Schedule(ctx, a); err != nil {
			s.log.Warn("reconcile failed to arm alarm", logx.String("alarm", a.ID), logx.Err(err))
			continue
		}
		rearmed++
	}
	return rearmed
}

func (s *Scheduler) armedCount(alarmID string) int {
	s.mu.Lock()
	hs := append([]notify.Handle(nil), s.handles[alarmID]...)
	s.mu.Unlock()

	n := 0
	for _, h := range hs {
		if s.notes.Armed(h) {
			n++
		}
	}
	return n
}

func (s *Scheduler) payload(a alarm.Alarm, repeat int, snooze bool) notify.Payload {
	title := "Alarm"
	if snooze {
		title = "Alarm (snoozed)"
	}
	return notify.Payload{
		AlarmID: a.ID,
		SoundID: a.SoundID,
		IsAlarm: true,
		Snooze:  snooze,
		Repeat:  repeat,
		Title:   title,
		Body:    s.body(a),
	}
}

// body is the sound's phrase, so the notification shouts the same thing the
// audio would.
func (s *Scheduler) body(a alarm.Alarm) string {
	if s.sounds != nil {
		if snd, err := s.sounds.Resolve(a.SoundID); err == nil && strings.TrimSpace(snd.Text) != "" {
			return snd.Text
		}
	}
	return fallbackBody
}
