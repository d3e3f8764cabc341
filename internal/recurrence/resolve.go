// Package recurrence turns an event's stored anchor date and recurrence rule
// into the concrete instant of its next occurrence.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/djlord-it/keepsake/internal/domain"
)

// Default time of day for events without an explicit time.
const (
	DefaultHour   = 9
	DefaultMinute = 0
)

var ErrInvalidTime = errors.New("invalid event time")

// TimeOfDay is an hour/minute pair applied to an anchor date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM". An empty string yields 09:00.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeOfDay{Hour: DefaultHour, Minute: DefaultMinute}, nil
	}

	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Options selects how recurrence types beyond yearly are treated.
type Options struct {
	// Expand resolves monthly and weekly events through a recurrence rule and
	// moves Feb 29 yearly anchors to Feb 28 in common years. When false,
	// monthly and weekly events resolve to their stored date literally and a
	// Feb 29 anchor rolls over to Mar 1 in common years.
	Expand bool
}

// Resolve returns the next occurrence of ev relative to now.
func Resolve(ev domain.Event, now time.Time, opts Options) (time.Time, error) {
	tod, err := ParseTimeOfDay(ev.EventTime)
	if err != nil {
		return time.Time{}, err
	}
	if ev.EventDate.IsZero() {
		return time.Time{}, errors.New("event date not set")
	}
	return Next(ev.EventDate, ev.IsRecurring, ev.RecurringType, tod, now, opts)
}

// Next computes the occurrence instant for an anchor date. All results are in
// now's location.
//
// Yearly anchors never resolve to an instant before now. Non-recurring anchors
// and the "none" type resolve to the anchor date itself, year included, as do
// monthly and weekly anchors unless opts.Expand is set.
func Next(anchor time.Time, recurring bool, typ domain.RecurringType, tod TimeOfDay, now time.Time, opts Options) (time.Time, error) {
	if !recurring {
		return literal(anchor, tod, now.Location()), nil
	}

	switch {
	case typ == domain.RecurringYearly:
		return nextYearly(anchor, tod, now, opts.Expand), nil
	case typ == domain.RecurringMonthly && opts.Expand:
		return nextByRule(rrule.MONTHLY, anchor, tod, now)
	case typ == domain.RecurringWeekly && opts.Expand:
		return nextByRule(rrule.WEEKLY, anchor, tod, now)
	default:
		return literal(anchor, tod, now.Location()), nil
	}
}

// RuleFor returns the recurrence frequency ev repeats with under opts, or
// false when ev resolves to a single date.
func RuleFor(ev domain.Event, opts Options) (domain.RecurringType, bool) {
	if !ev.IsRecurring {
		return "", false
	}
	switch ev.RecurringType {
	case domain.RecurringYearly:
		return domain.RecurringYearly, true
	case domain.RecurringMonthly, domain.RecurringWeekly:
		return ev.RecurringType, opts.Expand
	default:
		return "", false
	}
}

func literal(anchor time.Time, tod TimeOfDay, loc *time.Location) time.Time {
	return time.Date(anchor.Year(), anchor.Month(), anchor.Day(), tod.Hour, tod.Minute, 0, 0, loc)
}

func nextYearly(anchor time.Time, tod TimeOfDay, now time.Time, leapFallback bool) time.Time {
	candidate := onYear(anchor, now.Year(), tod, now.Location(), leapFallback)
	if candidate.Before(now) {
		candidate = onYear(anchor, now.Year()+1, tod, now.Location(), leapFallback)
	}
	return candidate
}

// onYear places anchor's month/day in year. In a common year a Feb 29 anchor
// becomes Feb 28 with leapFallback, otherwise time.Date normalizes it to Mar 1.
func onYear(anchor time.Time, year int, tod TimeOfDay, loc *time.Location, leapFallback bool) time.Time {
	day := anchor.Day()
	if leapFallback && anchor.Month() == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, anchor.Month(), day, tod.Hour, tod.Minute, 0, 0, loc)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func nextByRule(freq rrule.Frequency, anchor time.Time, tod TimeOfDay, now time.Time) (time.Time, error) {
	start := literal(anchor, tod, now.Location())
	r, err := rrule.NewRRule(rrule.ROption{Freq: freq, Dtstart: start})
	if err != nil {
		return time.Time{}, fmt.Errorf("build rule: %w", err)
	}
	next := r.After(now, true)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no occurrence after %s", now.Format(time.RFC3339))
	}
	return next, nil
}
