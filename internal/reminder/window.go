// Package reminder decides which single reminder threshold, if any, fires for
// an event on a given tick.
package reminder

import (
	"time"

	"github.com/djlord-it/keepsake/internal/domain"
)

// Day-granularity reminders are only emitted inside the morning delivery
// window, local hours [MorningStartHour, MorningEndHour] inclusive.
const (
	MorningStartHour = 8
	MorningEndHour   = 10
)

// HoursBefore is the lead time of the hour reminder.
const HoursBefore = 1

// MinuteWindow is an inclusive range of signed minutes until the occurrence.
type MinuteWindow struct {
	Start int
	End   int
}

func (w MinuteWindow) Contains(diffMinutes int) bool {
	return diffMinutes >= w.Start && diffMinutes <= w.End
}

var (
	// HourWindow tolerates ±15 minutes around exactly one hour out.
	HourWindow = MinuteWindow{Start: 45, End: 75}
	// StartWindow is half an hour either side of the occurrence.
	StartWindow = MinuteWindow{Start: -30, End: 30}
)

// Dedup recency per threshold type. A threshold sent less than this long ago is
// suppressed. The start bucket outlasts the 60-minute start window.
var Recency = map[domain.ReminderType]time.Duration{
	domain.ReminderTypeDays:  23 * time.Hour,
	domain.ReminderTypeHours: 54 * time.Minute,
	domain.ReminderTypeStart: 90 * time.Minute,
}

// InMorningWindow reports whether now's local hour allows day reminders.
func InMorningWindow(now time.Time) bool {
	h := now.Hour()
	return h >= MorningStartHour && h <= MorningEndHour
}
