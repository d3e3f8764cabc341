package autoevent

import (
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/testutil"
)

type mockMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *mockMetrics) AutoEventSynced(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func ptr(t time.Time) *time.Time { return &t }

func fullSettings() domain.ProfileSettings {
	return domain.ProfileSettings{
		Person1Name:      "Alex",
		Person1BirthDate: ptr(time.Date(1995, 3, 15, 0, 0, 0, 0, time.UTC)),
		Person2Name:      "Sam",
		Person2BirthDate: ptr(time.Date(1996, 7, 2, 0, 0, 0, 0, time.UTC)),
		RelationshipDate: ptr(time.Date(2019, 2, 14, 0, 0, 0, 0, time.UTC)),
	}
}

func newSync(store Store) *Synchronizer {
	clock := testutil.NewFakeClock(time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC))
	return New(store).WithClock(clock.Now)
}

func TestSync_CreatesAllDerivedEvents(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()

	res := newSync(store).Sync(ctx, fullSettings())

	if res.Created != 4 || res.Updated != 0 || res.Skipped != 0 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 4 created", res)
	}

	for _, tag := range []string{TagBirthdayPerson1, TagBirthdayPerson2, TagAnniversary, TagNewYear} {
		ev, err := store.FindEventByTag(ctx, tag)
		if err != nil {
			t.Fatalf("tag %s: %v", tag, err)
		}
		if !ev.HasTag(TagAutoGenerated) {
			t.Errorf("tag %s: missing %s marker", tag, TagAutoGenerated)
		}
		if !ev.IsRecurring || ev.RecurringType != domain.RecurringYearly {
			t.Errorf("tag %s: recurrence = %v/%s, want yearly", tag, ev.IsRecurring, ev.RecurringType)
		}
		if !ev.IsActive || !ev.ReminderEnabled {
			t.Errorf("tag %s: event should be active and reminder-enabled", tag)
		}
		if len(ev.ReminderDaysBefore) != 6 {
			t.Errorf("tag %s: ReminderDaysBefore = %v", tag, ev.ReminderDaysBefore)
		}
	}

	p1, _ := store.FindEventByTag(ctx, TagBirthdayPerson1)
	if p1.Title != "Alex's Birthday" {
		t.Errorf("title = %q", p1.Title)
	}
	if p1.EventDate.Month() != time.March || p1.EventDate.Day() != 15 {
		t.Errorf("date = %s, want March 15", p1.EventDate)
	}

	ny, _ := store.FindEventByTag(ctx, TagNewYear)
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !ny.EventDate.Equal(want) || ny.EventTime != "00:00" {
		t.Errorf("new year = %s %q, want %s 00:00", ny.EventDate, ny.EventTime, want)
	}
}

func TestSync_Idempotent(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	s := newSync(store)

	s.Sync(ctx, fullSettings())
	p1, _ := store.FindEventByTag(ctx, TagBirthdayPerson1)
	rec := testutil.Sent(domain.ReminderTypeDays, 7, time.Now())
	if err := store.AppendNotification(ctx, p1.ID, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	res := s.Sync(ctx, fullSettings())

	if res.Created != 0 || res.Updated != 4 {
		t.Errorf("second sync result = %+v, want 4 updated", res)
	}
	if n := len(store.All()); n != 4 {
		t.Errorf("store holds %d events, want 4", n)
	}

	again, _ := store.FindEventByTag(ctx, TagBirthdayPerson1)
	if again.ID != p1.ID {
		t.Errorf("ID changed: %s -> %s", p1.ID, again.ID)
	}
	if len(again.Notifications) != 1 {
		t.Errorf("history length = %d, want 1", len(again.Notifications))
	}
}

func TestSync_UpdatesInPlace(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	s := newSync(store)

	s.Sync(ctx, fullSettings())
	before, _ := store.FindEventByTag(ctx, TagBirthdayPerson2)

	// user-tuned reminder config survives a resync
	before.ReminderDaysBefore = []int{7, 1}
	if _, err := store.UpsertEvent(ctx, before); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	settings := fullSettings()
	settings.Person2Name = "Samantha"
	settings.Person2BirthDate = ptr(time.Date(1996, 8, 20, 0, 0, 0, 0, time.UTC))
	s.Sync(ctx, settings)

	after, _ := store.FindEventByTag(ctx, TagBirthdayPerson2)
	if after.ID != before.ID {
		t.Fatal("event was recreated instead of updated")
	}
	if after.Title != "Samantha's Birthday" {
		t.Errorf("title = %q", after.Title)
	}
	if after.EventDate.Month() != time.August || after.EventDate.Day() != 20 {
		t.Errorf("date = %s, want August 20", after.EventDate)
	}
	if len(after.ReminderDaysBefore) != 2 {
		t.Errorf("reminder config = %v, want [7 1]", after.ReminderDaysBefore)
	}
}

func TestSync_SkipsAbsentFields(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()

	res := newSync(store).Sync(ctx, domain.ProfileSettings{})

	if res.Created != 1 || res.Skipped != 3 {
		t.Errorf("result = %+v, want 1 created (new year) and 3 skipped", res)
	}
	if _, err := store.FindEventByTag(ctx, TagNewYear); err != nil {
		t.Errorf("new year should always be created: %v", err)
	}
}

func TestSync_NameFallback(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	settings := fullSettings()
	settings.Person1Name = ""

	newSync(store).Sync(ctx, settings)

	ev, _ := store.FindEventByTag(ctx, TagBirthdayPerson1)
	if ev.Title != "Person 1's Birthday" {
		t.Errorf("title = %q, want fallback name", ev.Title)
	}
}

func TestSync_FailureIsolation(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	store.FailTag(TagBirthdayPerson1)
	metrics := &mockMetrics{}

	res := newSync(store).WithMetrics(metrics).Sync(ctx, fullSettings())

	if res.Failed != 1 || res.Created != 3 {
		t.Errorf("result = %+v, want 1 failed and 3 created", res)
	}
	if _, err := store.FindEventByTag(ctx, TagAnniversary); err != nil {
		t.Errorf("anniversary should still be synced: %v", err)
	}
	if metrics.outcomes["failed"] != 1 || metrics.outcomes["created"] != 3 {
		t.Errorf("metrics = %v", metrics.outcomes)
	}
}
