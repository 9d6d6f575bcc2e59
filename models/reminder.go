package models

import "time"

// Repeat is the cadence of a reminder.
type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

func (r Repeat) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly:
		return true
	}
	return false
}

// ReminderPayload is the value carried by a reminder message. Immutable:
// editing a reminder produces a whole new payload on a replacement message.
type ReminderPayload struct {
	Content  string `json:"content"`
	Datetime string `json:"datetime"` // RFC 3339
	Repeat   Repeat `json:"repeat"`
}

// Time parses the payload datetime.
func (p ReminderPayload) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, p.Datetime)
}

// ReminderContentVersion is the single schema version this build understands.
// Content tagged with any other version is treated as not-a-reminder.
const ReminderContentVersion = 1

// ReminderContent is the persisted form of a payload inside a message's
// structured content.
type ReminderContent struct {
	ReminderPayload
	Version int `json:"version"`
}

type CreateReminderRequest struct {
	RoomID   string  `json:"room_id"`
	ThreadID *string `json:"thread_id,omitempty"`
	Content  string  `json:"content"`
	Datetime string  `json:"datetime"`
	Repeat   string  `json:"repeat"`
}

// ScheduledReminderView is the admin API projection of one armed entry.
type ScheduledReminderView struct {
	Key            string          `json:"key"`
	RoomID         string          `json:"room_id"`
	ThreadID       *string         `json:"thread_id,omitempty"`
	Reminder       ReminderPayload `json:"reminder"`
	NextOccurrence time.Time       `json:"next_occurrence"`
	LastOccurrence *time.Time      `json:"last_occurrence,omitempty"`
}
