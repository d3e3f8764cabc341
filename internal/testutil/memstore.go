package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/djlord-it/keepsake/internal/domain"
)

// ErrInjected is returned by MemoryStore operations armed to fail.
var ErrInjected = errors.New("injected store failure")

// MemoryStore is an in-memory event and settings store. It satisfies the
// store interfaces of autoevent, dispatcher and scheduler.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[uuid.UUID]domain.Event
	order    []uuid.UUID
	profile  domain.ProfileSettings
	channel  domain.ChannelSettings
	failTags map[string]bool
	failIDs  map[uuid.UUID]bool
	failLoad bool

	Upserts int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[uuid.UUID]domain.Event),
		failTags: make(map[string]bool),
		failIDs:  make(map[uuid.UUID]bool),
	}
}

// Add stores ev, assigning an ID when it has none, and returns it.
func (s *MemoryStore) Add(ev domain.Event) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	s.put(ev)
	return ev
}

func (s *MemoryStore) put(ev domain.Event) {
	if _, ok := s.events[ev.ID]; !ok {
		s.order = append(s.order, ev.ID)
	}
	s.events[ev.ID] = ev
}

// FailTag makes FindEventByTag fail for tag.
func (s *MemoryStore) FailTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTags[tag] = true
}

// FailAppend makes AppendNotification fail for id.
func (s *MemoryStore) FailAppend(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIDs[id] = true
}

// FailLoad makes FindActiveReminderEvents fail.
func (s *MemoryStore) FailLoad(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLoad = fail
}

func (s *MemoryStore) SetProfile(p domain.ProfileSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

func (s *MemoryStore) SetChannel(c domain.ChannelSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = c
}

func (s *MemoryStore) FindActiveReminderEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad {
		return nil, ErrInjected
	}
	var out []domain.Event
	for _, id := range s.order {
		if ev := s.events[id]; ev.Eligible() {
			out = append(out, clone(ev))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindEventByTag(ctx context.Context, tag string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTags[tag] {
		return domain.Event{}, ErrInjected
	}
	for _, id := range s.order {
		if ev := s.events[id]; ev.HasTag(tag) {
			return clone(ev), nil
		}
	}
	return domain.Event{}, domain.ErrNotFound
}

func (s *MemoryStore) UpsertEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.events[ev.ID]; ok {
		// history is owned by AppendNotification
		ev.Notifications = prev.Notifications
	}
	s.put(clone(ev))
	s.Upserts++
	return clone(ev), nil
}

func (s *MemoryStore) AppendNotification(ctx context.Context, id uuid.UUID, rec domain.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[id] {
		return ErrInjected
	}
	ev, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	ev.Notifications = ev.Notifications.Append(rec)
	s.events[id] = ev
	return nil
}

func (s *MemoryStore) GetProfileSettings(ctx context.Context) (domain.ProfileSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, nil
}

func (s *MemoryStore) GetChannelSettings(ctx context.Context) (domain.ChannelSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, nil
}

// Get returns a copy of the stored event.
func (s *MemoryStore) Get(id uuid.UUID) (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	return clone(ev), ok
}

// All returns every stored event ordered by title.
func (s *MemoryStore) All() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, clone(ev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func clone(ev domain.Event) domain.Event {
	ev.Notifications = append(domain.NotificationLog(nil), ev.Notifications...)
	ev.Tags = append([]string(nil), ev.Tags...)
	ev.ReminderDaysBefore = append([]int(nil), ev.ReminderDaysBefore...)
	return ev
}
