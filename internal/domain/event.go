package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a lookup matches no event.
var ErrNotFound = errors.New("not found")

type RecurringType string

const (
	RecurringYearly  RecurringType = "yearly"
	RecurringMonthly RecurringType = "monthly"
	RecurringWeekly  RecurringType = "weekly"
	RecurringNone    RecurringType = "none"
)

// DefaultReminderDaysBefore is applied to events that carry no day thresholds.
var DefaultReminderDaysBefore = []int{30, 14, 7, 3, 1, 0}

// Event is the unit the reminder engine operates on.
type Event struct {
	ID uuid.UUID

	Title       string
	Description string
	Icon        string

	EventDate time.Time // only year/month/day are meaningful
	EventTime string    // "HH:MM", empty means 09:00

	IsRecurring   bool
	RecurringType RecurringType

	ReminderDaysBefore []int
	ReminderEnabled    bool
	IsActive           bool

	Notifications NotificationLog
	Tags          []string

	// SpecialMessage overrides the text of the at-start message.
	SpecialMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTag reports whether the event carries tag.
func (e Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Eligible reports whether the engine should evaluate the event at all.
func (e Event) Eligible() bool {
	return e.IsActive && e.ReminderEnabled
}

// DaysBefore returns the event's day thresholds, falling back to the defaults.
func (e Event) DaysBefore() []int {
	if len(e.ReminderDaysBefore) == 0 {
		return DefaultReminderDaysBefore
	}
	return e.ReminderDaysBefore
}
