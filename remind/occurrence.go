package remind

import (
	"time"

	"smack-remind/models"
)

// maxAdvanceSteps bounds the cadence loop. A reminder that needs more steps
// than this to reach the present is unschedulable and gets retired.
const maxAdvanceSteps = 1000

// NextOccurrence computes the next due instant of a reminder.
//
// Non-repeating reminders fire exactly once: the result is from when given,
// otherwise the payload datetime, verbatim. Repeating reminders start at
// from (or the payload datetime) and advance by whole cadence steps until
// the result is not strictly before now. Month steps use calendar
// arithmetic, so Jan 31 + 1 month rolls the way time.AddDate rolls.
//
// Returns ok=false when the datetime cannot be parsed or the advancement
// bound is exceeded; the caller must retire the entry.
func NextOccurrence(payload models.ReminderPayload, from time.Time) (time.Time, bool) {
	return nextOccurrenceAt(payload, from, time.Now())
}

func nextOccurrenceAt(payload models.ReminderPayload, from, now time.Time) (time.Time, bool) {
	base, err := payload.Time()
	if err != nil {
		return time.Time{}, false
	}

	if payload.Repeat == models.RepeatNone {
		if !from.IsZero() {
			return from, true
		}
		return base, true
	}

	next := base
	if !from.IsZero() {
		next = from
	}

	for i := 0; i < maxAdvanceSteps; i++ {
		if !next.Before(now) {
			return next, true
		}
		next = advance(next, payload.Repeat)
	}
	return time.Time{}, false
}

func advance(t time.Time, repeat models.Repeat) time.Time {
	switch repeat {
	case models.RepeatDaily:
		return t.AddDate(0, 0, 1)
	case models.RepeatWeekly:
		return t.AddDate(0, 0, 7)
	case models.RepeatMonthly:
		return t.AddDate(0, 1, 0)
	}
	return t
}
