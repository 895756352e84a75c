package alarm

import "time"

// NextTrigger computes the next absolute instant an alarm with the given
// time-of-day and repeat set should fire, strictly after now.
//
// One-shot (empty days): today at the target time, or tomorrow if that
// already passed. The result is at most 24h + the time-of-day away.
//
// Repeating: the earliest candidate within the next 8 days whose weekday is
// in the set. The 8-day scan covers "today's slot already passed" for a
// single-day set. A non-empty set always matches within the window; the
// now+1d fallback is unreachable in practice but keeps the function total.
//
// The comparison is strict (candidate must be after now, not equal), so an
// alarm set for the current minute rolls to the next occurrence.
func NextTrigger(now time.Time, at TimeOfDay, days DaySet) time.Time {
	if days.Empty() {
		candidate := at.On(now)
		if !candidate.After(now) {
			candidate = at.On(now.AddDate(0, 0, 1))
		}
		return candidate
	}

	for i := 0; i <= 7; i++ {
		candidate := at.On(now.AddDate(0, 0, i))
		if days.Has(candidate.Weekday()) && candidate.After(now) {
			return candidate
		}
	}
	return at.On(now.AddDate(0, 0, 1))
}

// NextTriggerChecked is NextTrigger with a last-resort guard for malformed
// stored times: an invalid time-of-day yields now+1m instead of a crash or a
// trigger in the past. The caller is expected to log the anomaly.
func NextTriggerChecked(now time.Time, at TimeOfDay, days DaySet) (t time.Time, ok bool) {
	if !at.Valid() {
		return now.Add(time.Minute), false
	}
	return NextTrigger(now, at, days), true
}
