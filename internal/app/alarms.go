package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/store"
)

// ErrAlarmNotFound is returned by alarm operations for unknown ids.
var ErrAlarmNotFound = errors.New("alarm not found")

// CreateAlarm adds a new enabled alarm and arms its first occurrence.
func (a *App) CreateAlarm(ctx context.Context, at alarm.TimeOfDay, days alarm.DaySet, soundID string) (alarm.Alarm, error) {
	if !at.Valid() {
		return alarm.Alarm{}, fmt.Errorf("invalid alarm time %s", at)
	}
	if soundID == "" {
		def, err := a.sounds.Default()
		if err != nil {
			return alarm.Alarm{}, fmt.Errorf("no sound for alarm: %w", err)
		}
		soundID = def.ID
	} else if _, err := a.sounds.Resolve(soundID); err != nil {
		return alarm.Alarm{}, err
	}

	loc := a.cfgm.Get().Location()
	now := time.Now().In(loc)
	al := alarm.Alarm{
		ID:         uuid.NewString(),
		Time:       alarm.NextTrigger(now, at, days),
		Enabled:    true,
		SoundID:    soundID,
		RepeatDays: days.Normalize(),
	}

	if err := a.armAlarm(ctx, al); err != nil {
		return alarm.Alarm{}, err
	}
	stored, _ := a.alarms.Get(al.ID)
	a.publishAlarmChanged(stored.ID)
	return stored, nil
}

// UpdateAlarm replaces an alarm's time, repeat days and sound, re-arming its
// occurrence when enabled.
func (a *App) UpdateAlarm(ctx context.Context, id string, at alarm.TimeOfDay, days alarm.DaySet, soundID string) (alarm.Alarm, error) {
	al, ok := a.alarms.Get(id)
	if !ok {
		return alarm.Alarm{}, ErrAlarmNotFound
	}
	if !at.Valid() {
		return alarm.Alarm{}, fmt.Errorf("invalid alarm time %s", at)
	}
	if soundID != "" {
		if _, err := a.sounds.Resolve(soundID); err != nil {
			return alarm.Alarm{}, err
		}
		al.SoundID = soundID
	}

	loc := a.cfgm.Get().Location()
	al.Time = alarm.NextTrigger(time.Now().In(loc), at, days)
	al.RepeatDays = days.Normalize()

	if al.Enabled {
		if err := a.armAlarm(ctx, al); err != nil {
			return alarm.Alarm{}, err
		}
	} else {
		a.alarms.Upsert(ctx, al)
	}
	stored, _ := a.alarms.Get(id)
	a.publishAlarmChanged(id)
	return stored, nil
}

// ToggleAlarm enables or disables an alarm. Enabling arms the next
// occurrence; disabling cancels every pending notification.
func (a *App) ToggleAlarm(ctx context.Context, id string, enabled bool) (alarm.Alarm, error) {
	al, ok := a.alarms.Get(id)
	if !ok {
		return alarm.Alarm{}, ErrAlarmNotFound
	}
	al.Enabled = enabled

	if enabled {
		loc := a.cfgm.Get().Location()
		al.Time = alarm.NextTrigger(time.Now().In(loc), al.TimeOfDay(), al.RepeatDays)
		if err := a.armAlarm(ctx, al); err != nil {
			return alarm.Alarm{}, err
		}
	} else {
		a.sched.CancelAlarm(id)
		al.NotificationIDs = nil
		a.alarms.Upsert(ctx, al)
	}
	stored, _ := a.alarms.Get(id)
	a.publishAlarmChanged(id)
	return stored, nil
}

// DeleteAlarm removes an alarm and disarms its notifications. Deleting the
// currently ringing alarm stops the ring first.
func (a *App) DeleteAlarm(ctx context.Context, id string) error {
	if _, ok := a.alarms.Get(id); !ok {
		return ErrAlarmNotFound
	}
	if cur, ok := a.ring.Current(); ok && cur.AlarmID == id {
		a.ring.Stop(ctx, id)
	}
	a.sched.CancelAlarm(id)
	a.alarms.Remove(ctx, id)
	a.publishAlarmChanged(id)
	return nil
}

// Alarms returns the stored collection, newest first.
func (a *App) Alarms() []alarm.Alarm { return a.alarms.All() }

// Sounds returns the builtin catalog plus the recordings on disk.
func (a *App) Sounds() []alarm.Sound { return a.sounds.List() }

// RecentRings returns the latest completed firing sessions.
func (a *App) RecentRings(ctx context.Context, limit int) ([]store.RingEntry, error) {
	return a.kv.RecentRings(ctx, limit)
}

// StopRing and SnoozeRing expose the firing controls to local surfaces
// (signals, future IPC); remote surfaces go through the notification sinks.
func (a *App) StopRing(ctx context.Context) {
	if cur, ok := a.ring.Current(); ok {
		a.ring.Stop(ctx, cur.AlarmID)
	}
}

func (a *App) SnoozeRing(ctx context.Context) {
	if cur, ok := a.ring.Current(); ok {
		a.ring.Snooze(ctx, cur.AlarmID)
	}
}

// armAlarm schedules the alarm's next occurrence and persists the record
// with its fresh notification handles.
func (a *App) armAlarm(ctx context.Context, al alarm.Alarm) error {
	handles, err := a.sched.Schedule(ctx, al)
	if err != nil {
		return err
	}
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = string(h)
	}
	al.NotificationIDs = ids
	a.alarms.Upsert(ctx, al)
	return nil
}

func (a *App) publishAlarmChanged(id string) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmChanged, Data: map[string]string{"alarm_id": id}})
}
