package domain

import "time"

type ReminderType string

const (
	ReminderTypeDays  ReminderType = "days"
	ReminderTypeHours ReminderType = "hours"
	ReminderTypeStart ReminderType = "start"
)

// NotificationRecord records one successfully sent reminder.
// DaysBefore holds the hour count for hour reminders and 0 for start reminders.
type NotificationRecord struct {
	SentAt       time.Time
	Channel      string
	DaysBefore   int
	ReminderType ReminderType
}

// NotificationLog is the append-only history of reminders sent for an event.
// It is never pruned; entries are ordered by append time.
type NotificationLog []NotificationRecord

// Append returns a log with rec added at the end. The receiver is not modified.
func (l NotificationLog) Append(rec NotificationRecord) NotificationLog {
	out := make(NotificationLog, len(l), len(l)+1)
	copy(out, l)
	return append(out, rec)
}

// SentWithin reports whether a record with DaysBefore == value was sent less
// than recency before now. The reminder type is not compared: a start reminder
// and a same-day reminder both record 0 and suppress each other.
func (l NotificationLog) SentWithin(value int, now time.Time, recency time.Duration) bool {
	for i := len(l) - 1; i >= 0; i-- {
		rec := l[i]
		if rec.DaysBefore != value {
			continue
		}
		if now.Sub(rec.SentAt) < recency {
			return true
		}
	}
	return false
}

// Last returns the most recent record, if any.
func (l NotificationLog) Last() (NotificationRecord, bool) {
	if len(l) == 0 {
		return NotificationRecord{}, false
	}
	return l[len(l)-1], true
}
