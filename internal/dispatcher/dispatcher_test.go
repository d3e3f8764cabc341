package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/keepsake/internal/circuitbreaker"
	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/reminder"
	"github.com/djlord-it/keepsake/internal/testutil"
)

// mockSender records requests and replies with a fixed result.
type mockSender struct {
	mu       sync.Mutex
	requests []SendRequest
	result   SendResult
}

func (s *mockSender) Send(ctx context.Context, req SendRequest) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result
}

func (s *mockSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type mockMetrics struct {
	mu       sync.Mutex
	classes  []string
	outcomes []string
}

func (m *mockMetrics) SendCompleted(statusClass string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = append(m.classes, statusClass)
}

func (m *mockMetrics) DeliveryOutcome(reminderType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, reminderType+":"+outcome)
}

type mockAnalytics struct {
	mu      sync.Mutex
	records []domain.NotificationRecord
}

func (a *mockAnalytics) Record(ctx context.Context, ev domain.Event, rec domain.NotificationRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

var (
	okResult   = SendResult{StatusCode: 200, OK: true}
	target     = Target{Token: "123:abc", ChatID: "42"}
	sevenDays  = reminder.Reminder{Type: domain.ReminderTypeDays, Days: 7}
	occurrence = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	sentAt     = time.Date(2025, 3, 8, 9, 15, 0, 0, time.UTC)
)

func newTestDispatcher(t *testing.T, store Store, sender Sender) *Dispatcher {
	t.Helper()
	r, err := NewRenderer(DefaultMessages)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	clock := testutil.NewFakeClock(sentAt)
	return New(store, sender, r).WithClock(clock.Now)
}

func TestDispatch_SuccessAppendsHistory(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	ev := store.Add(domain.Event{Title: "Alex's Birthday", Icon: "🎂"})
	sender := &mockSender{result: okResult}
	analytics := &mockAnalytics{}

	d := newTestDispatcher(t, store, sender).WithAnalytics(analytics)
	if err := d.Dispatch(ctx, target, &ev, sevenDays, occurrence); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sender.sendCount() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sendCount())
	}
	req := sender.requests[0]
	if req.ChatID != "42" || req.Token != "123:abc" {
		t.Errorf("request target = %+v", req)
	}
	if !strings.Contains(req.Text, "Alex's Birthday") || !strings.Contains(req.Text, "in 7 days") {
		t.Errorf("unexpected text %q", req.Text)
	}

	want := domain.NotificationRecord{
		SentAt:       sentAt,
		Channel:      ChannelTelegram,
		DaysBefore:   7,
		ReminderType: domain.ReminderTypeDays,
	}
	if last, ok := ev.Notifications.Last(); !ok || last != want {
		t.Errorf("in-memory history = %+v, want %+v", ev.Notifications, want)
	}
	stored, _ := store.Get(ev.ID)
	if last, ok := stored.Notifications.Last(); !ok || last != want {
		t.Errorf("stored history = %+v, want %+v", stored.Notifications, want)
	}
	if len(analytics.records) != 1 {
		t.Errorf("expected 1 analytics record, got %d", len(analytics.records))
	}
}

func TestDispatch_HourReminderRecordsHours(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	ev := store.Add(domain.Event{Title: "Dinner"})
	sender := &mockSender{result: okResult}

	rem := reminder.Reminder{Type: domain.ReminderTypeHours, Hours: 1}
	if err := newTestDispatcher(t, store, sender).Dispatch(ctx, target, &ev, rem, occurrence); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last, _ := ev.Notifications.Last()
	if last.DaysBefore != 1 || last.ReminderType != domain.ReminderTypeHours {
		t.Errorf("record = %+v, want hours/1", last)
	}
}

func TestDispatch_StartUsesSpecialMessage(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	ev := store.Add(domain.Event{Title: "New Year", Description: "plain", SpecialMessage: "Happy New Year, love!"})
	sender := &mockSender{result: okResult}

	rem := reminder.Reminder{Type: domain.ReminderTypeStart}
	if err := newTestDispatcher(t, store, sender).Dispatch(ctx, target, &ev, rem, occurrence); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := sender.requests[0].Text
	if !strings.Contains(text, "Happy New Year, love!") || strings.Contains(text, "plain") {
		t.Errorf("start message should use the special message, got %q", text)
	}
	last, _ := ev.Notifications.Last()
	if last.DaysBefore != 0 || last.ReminderType != domain.ReminderTypeStart {
		t.Errorf("record = %+v, want start/0", last)
	}
}

func TestDispatch_FailureLeavesHistoryUntouched(t *testing.T) {
	tests := []struct {
		name   string
		result SendResult
		class  string
	}{
		{"api rejected", SendResult{StatusCode: 400, OK: false, Description: "Bad Request: chat not found"}, "4xx"},
		{"server error", SendResult{StatusCode: 502}, "5xx"},
		{"ok false on 200", SendResult{StatusCode: 200, OK: false}, "2xx"},
		{"transport error", SendResult{Error: errors.New("dial tcp: connection refused")}, "connection_error"},
		{"timeout", SendResult{Error: context.DeadlineExceeded}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			store := testutil.NewMemoryStore()
			ev := store.Add(domain.Event{Title: "x"})
			metrics := &mockMetrics{}

			d := newTestDispatcher(t, store, &mockSender{result: tt.result}).WithMetrics(metrics)
			err := d.Dispatch(ctx, target, &ev, sevenDays, occurrence)

			if !errors.Is(err, ErrSendFailed) {
				t.Fatalf("expected ErrSendFailed, got %v", err)
			}
			if len(ev.Notifications) != 0 {
				t.Error("in-memory history must not change on failure")
			}
			if stored, _ := store.Get(ev.ID); len(stored.Notifications) != 0 {
				t.Error("stored history must not change on failure")
			}
			if len(metrics.classes) != 1 || metrics.classes[0] != tt.class {
				t.Errorf("status class = %v, want %s", metrics.classes, tt.class)
			}
			if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "days:failed" {
				t.Errorf("outcomes = %v", metrics.outcomes)
			}
		})
	}
}

func TestDispatch_HistoryWriteFailure(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	ev := store.Add(domain.Event{Title: "x"})
	store.FailAppend(ev.ID)
	metrics := &mockMetrics{}

	d := newTestDispatcher(t, store, &mockSender{result: okResult}).WithMetrics(metrics)
	err := d.Dispatch(ctx, target, &ev, sevenDays, occurrence)

	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(ev.Notifications) != 0 {
		t.Error("in-memory history should mirror the store")
	}
	if metrics.outcomes[0] != "days:"+OutcomeHistoryError {
		t.Errorf("outcomes = %v", metrics.outcomes)
	}
}

func TestDispatch_CircuitOpenSkipsSend(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	ev := store.Add(domain.Event{Title: "x"})
	sender := &mockSender{result: SendResult{StatusCode: 500}}
	cb := circuitbreaker.New(2, time.Hour)

	d := newTestDispatcher(t, store, sender).WithCircuitBreaker(cb)
	for i := 0; i < 2; i++ {
		if err := d.Dispatch(ctx, target, &ev, sevenDays, occurrence); !errors.Is(err, ErrSendFailed) {
			t.Fatalf("attempt %d: expected ErrSendFailed, got %v", i, err)
		}
	}

	err := d.Dispatch(ctx, target, &ev, sevenDays, occurrence)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) || !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrCircuitOpen wrapped in ErrSendFailed, got %v", err)
	}
	if sender.sendCount() != 2 {
		t.Errorf("expected 2 sends before the circuit opened, got %d", sender.sendCount())
	}
}

func TestDispatch_SuccessClosesCircuit(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewMemoryStore()
	ev := store.Add(domain.Event{Title: "x"})
	sender := &mockSender{result: SendResult{StatusCode: 500}}
	cb := circuitbreaker.New(2, time.Hour)

	d := newTestDispatcher(t, store, sender).WithCircuitBreaker(cb)
	d.Dispatch(ctx, target, &ev, sevenDays, occurrence)

	sender.result = okResult
	if err := d.Dispatch(ctx, target, &ev, sevenDays, occurrence); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sender.result = SendResult{StatusCode: 500}
	d.Dispatch(ctx, target, &ev, sevenDays, occurrence)
	if cb.State(target.ChatID) != "closed" {
		t.Errorf("one failure after a success should not open the circuit, state=%s", cb.State(target.ChatID))
	}
}

func TestTarget_Valid(t *testing.T) {
	if (Target{Token: "t"}).Valid() {
		t.Error("target without chat ID should be invalid")
	}
	if !target.Valid() {
		t.Error("target with token and chat ID should be valid")
	}
}
