package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/djlord-it/keepsake/internal/domain"
)

func TestMemoryStore_FindActiveReminderEvents_FiltersIneligible(t *testing.T) {
	ctx := TestContext(t)
	s := NewMemoryStore()
	s.Add(domain.Event{Title: "on", IsActive: true, ReminderEnabled: true})
	s.Add(domain.Event{Title: "inactive", IsActive: false, ReminderEnabled: true})
	s.Add(domain.Event{Title: "muted", IsActive: true, ReminderEnabled: false})

	events, err := s.FindActiveReminderEvents(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Title != "on" {
		t.Errorf("got %+v, want only the eligible event", events)
	}
}

func TestMemoryStore_UpsertKeepsHistory(t *testing.T) {
	ctx := TestContext(t)
	s := NewMemoryStore()
	ev := s.Add(domain.Event{Title: "a"})

	rec := Sent(domain.ReminderTypeStart, 0, time.Now())
	if err := s.AppendNotification(ctx, ev.ID, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	ev.Title = "b"
	ev.Notifications = nil
	if _, err := s.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, _ := s.Get(ev.ID)
	if got.Title != "b" {
		t.Errorf("title = %q, want b", got.Title)
	}
	if len(got.Notifications) != 1 {
		t.Errorf("history length = %d, want 1", len(got.Notifications))
	}
}

func TestMemoryStore_FindEventByTag(t *testing.T) {
	ctx := TestContext(t)
	s := NewMemoryStore()
	s.Add(domain.Event{Title: "x", Tags: []string{"new_year"}})

	if _, err := s.FindEventByTag(ctx, "anniversary"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing tag: err = %v, want ErrNotFound", err)
	}

	s.FailTag("new_year")
	if _, err := s.FindEventByTag(ctx, "new_year"); !errors.Is(err, ErrInjected) {
		t.Errorf("failing tag: err = %v, want ErrInjected", err)
	}
}
