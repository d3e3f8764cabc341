// Package testutil holds fixtures shared by the keepsake package tests:
// a settable clock, event builders and an in-memory store.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/keepsake/internal/domain"
)

// FakeClock is a settable time source. Its Now method is passed to the
// WithClock option of the scheduler, dispatcher, synchronizer and breaker.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d, e.g. to the next hourly tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context cancelled after 5 seconds or when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Local builds a wall-clock time in the process zone, which is the zone the
// reminder windows are evaluated in.
func Local(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.Local)
}

// YearlyEvent returns an active, reminder-enabled yearly event on month/day
// with the default reminder thresholds and no time of day.
func YearlyEvent(title string, month time.Month, day int) domain.Event {
	return domain.Event{
		ID:              uuid.New(),
		Title:           title,
		EventDate:       time.Date(1995, month, day, 0, 0, 0, 0, time.UTC),
		IsRecurring:     true,
		RecurringType:   domain.RecurringYearly,
		ReminderEnabled: true,
		IsActive:        true,
	}
}

// Sent builds a history record as the dispatcher would write it.
func Sent(typ domain.ReminderType, value int, at time.Time) domain.NotificationRecord {
	return domain.NotificationRecord{
		SentAt:       at,
		Channel:      "telegram",
		DaysBefore:   value,
		ReminderType: typ,
	}
}

// MustParseUUID panics on malformed input.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}
