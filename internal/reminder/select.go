package reminder

import (
	"fmt"
	"math"
	"time"

	"github.com/djlord-it/keepsake/internal/domain"
)

// Reminder is the single threshold chosen for an event on one tick.
type Reminder struct {
	Type  domain.ReminderType
	Days  int // set for day reminders
	Hours int // set for hour reminders
}

// Value is the threshold identity stored in NotificationRecord.DaysBefore.
func (r Reminder) Value() int {
	switch r.Type {
	case domain.ReminderTypeDays:
		return r.Days
	case domain.ReminderTypeHours:
		return r.Hours
	default:
		return 0
	}
}

func (r Reminder) String() string {
	switch r.Type {
	case domain.ReminderTypeDays:
		return fmt.Sprintf("days=%d", r.Days)
	case domain.ReminderTypeHours:
		return fmt.Sprintf("hours=%d", r.Hours)
	default:
		return string(r.Type)
	}
}

// Diff holds the signed distances from now to the occurrence.
type Diff struct {
	Days    int // ceil of fractional days
	Minutes int // truncated minutes
}

// Measure computes the distances used for window matching.
func Measure(occurrence, now time.Time) Diff {
	d := occurrence.Sub(now)
	return Diff{
		Days:    int(math.Ceil(float64(d) / float64(24*time.Hour))),
		Minutes: int(d / time.Minute),
	}
}

// Candidates lists an event's thresholds in priority order: its day thresholds
// as configured, then the hour reminder, then the start reminder.
func Candidates(ev domain.Event) []Reminder {
	days := ev.DaysBefore()
	out := make([]Reminder, 0, len(days)+2)
	for _, d := range days {
		out = append(out, Reminder{Type: domain.ReminderTypeDays, Days: d})
	}
	out = append(out,
		Reminder{Type: domain.ReminderTypeHours, Hours: HoursBefore},
		Reminder{Type: domain.ReminderTypeStart},
	)
	return out
}

// Matches reports whether r's window contains now, ignoring history.
func Matches(r Reminder, diff Diff, now time.Time) bool {
	switch r.Type {
	case domain.ReminderTypeDays:
		return diff.Days == r.Days && InMorningWindow(now)
	case domain.ReminderTypeHours:
		return HourWindow.Contains(diff.Minutes)
	case domain.ReminderTypeStart:
		return StartWindow.Contains(diff.Minutes)
	default:
		return false
	}
}

// Suppressed reports whether a record with r's value was sent within the
// recency bucket of r's type.
func Suppressed(r Reminder, log domain.NotificationLog, now time.Time) bool {
	return log.SentWithin(r.Value(), now, Recency[r.Type])
}

// Select returns the first threshold, in priority order, whose window matches
// and which has not been sent recently. At most one reminder is returned.
func Select(ev domain.Event, occurrence, now time.Time) (Reminder, bool) {
	diff := Measure(occurrence, now)
	for _, r := range Candidates(ev) {
		if !Matches(r, diff, now) {
			continue
		}
		if Suppressed(r, ev.Notifications, now) {
			continue
		}
		return r, true
	}
	return Reminder{}, false
}
