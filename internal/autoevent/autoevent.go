// Package autoevent derives a fixed set of yearly events from profile settings
// and keeps them in the event store, matched by a stable tag.
package autoevent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/keepsake/internal/domain"
)

// Tags identifying derived events.
const (
	TagBirthdayPerson1 = "birthday_person1"
	TagBirthdayPerson2 = "birthday_person2"
	TagAnniversary     = "anniversary"
	TagNewYear         = "new_year"

	// TagAutoGenerated marks every event created by the synchronizer.
	TagAutoGenerated = "auto-generated"
)

type Store interface {
	// FindEventByTag returns domain.ErrNotFound when no event carries tag.
	FindEventByTag(ctx context.Context, tag string) (domain.Event, error)
	UpsertEvent(ctx context.Context, ev domain.Event) (domain.Event, error)
}

// MetricsSink records synchronizer outcomes. Methods must be non-blocking.
type MetricsSink interface {
	AutoEventSynced(outcome string)
}

// Result counts what one Sync call did.
type Result struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// derivedEvent is the desired state of one derived event.
type derivedEvent struct {
	tag         string
	title       string
	description string
	icon        string
	date        time.Time
	eventTime   string
}

type Synchronizer struct {
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(store Store) *Synchronizer {
	return &Synchronizer{
		store: store,
		clock: time.Now,
	}
}

// WithMetrics attaches a metrics sink to the synchronizer.
func (s *Synchronizer) WithMetrics(sink MetricsSink) *Synchronizer {
	s.metrics = sink
	return s
}

// WithClock overrides the time source.
func (s *Synchronizer) WithClock(clock func() time.Time) *Synchronizer {
	s.clock = clock
	return s
}

// Sync upserts every derived event. Failures are logged and counted; one
// failing event never prevents the others from being attempted.
func (s *Synchronizer) Sync(ctx context.Context, settings domain.ProfileSettings) Result {
	var res Result

	for _, sp := range s.derive(settings) {
		if sp.date.IsZero() {
			res.Skipped++
			s.record("skipped")
			continue
		}

		created, err := s.upsert(ctx, sp)
		if err != nil {
			log.Printf("autoevent: tag=%s error: %v", sp.tag, err)
			res.Failed++
			s.record("failed")
			continue
		}
		if created {
			log.Printf("autoevent: created tag=%s date=%s", sp.tag, sp.date.Format("2006-01-02"))
			res.Created++
			s.record("created")
		} else {
			res.Updated++
			s.record("updated")
		}
	}

	return res
}

func (s *Synchronizer) derive(settings domain.ProfileSettings) []derivedEvent {
	name1 := nameOr(settings.Person1Name, "Person 1")
	name2 := nameOr(settings.Person2Name, "Person 2")
	nextYear := s.clock().Year() + 1

	return []derivedEvent{
		{
			tag:         TagBirthdayPerson1,
			title:       name1 + "'s Birthday",
			description: "Birthday of " + name1,
			icon:        "🎂",
			date:        dateOf(settings.Person1BirthDate),
		},
		{
			tag:         TagBirthdayPerson2,
			title:       name2 + "'s Birthday",
			description: "Birthday of " + name2,
			icon:        "🎂",
			date:        dateOf(settings.Person2BirthDate),
		},
		{
			tag:         TagAnniversary,
			title:       "Our Anniversary",
			description: fmt.Sprintf("Anniversary of %s and %s", name1, name2),
			icon:        "💕",
			date:        dateOf(settings.RelationshipDate),
		},
		{
			tag:         TagNewYear,
			title:       "New Year",
			description: fmt.Sprintf("Happy New Year %d!", nextYear),
			icon:        "🎆",
			date:        time.Date(nextYear, time.January, 1, 0, 0, 0, 0, time.UTC),
			eventTime:   "00:00",
		},
	}
}

func (s *Synchronizer) upsert(ctx context.Context, sp derivedEvent) (bool, error) {
	now := s.clock()

	ev, err := s.store.FindEventByTag(ctx, sp.tag)
	created := false
	switch {
	case errors.Is(err, domain.ErrNotFound):
		created = true
		ev = domain.Event{
			ID:                 uuid.New(),
			ReminderDaysBefore: append([]int(nil), domain.DefaultReminderDaysBefore...),
			ReminderEnabled:    true,
			IsActive:           true,
			Tags:               []string{sp.tag, TagAutoGenerated},
			CreatedAt:          now,
		}
	case err != nil:
		return false, fmt.Errorf("find by tag: %w", err)
	}

	ev.Title = sp.title
	ev.Description = sp.description
	ev.Icon = sp.icon
	ev.EventDate = sp.date
	ev.EventTime = sp.eventTime
	ev.IsRecurring = true
	ev.RecurringType = domain.RecurringYearly
	ev.UpdatedAt = now

	if _, err := s.store.UpsertEvent(ctx, ev); err != nil {
		return false, fmt.Errorf("upsert: %w", err)
	}
	return created, nil
}

func (s *Synchronizer) record(outcome string) {
	if s.metrics != nil {
		s.metrics.AutoEventSynced(outcome)
	}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// dateOf keeps only the calendar date of t.
func dateOf(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
