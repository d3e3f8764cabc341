package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/keepsake/internal/autoevent"
	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/scheduler"
	"github.com/djlord-it/keepsake/internal/testutil"
)

// mockStore implements EventStore for handler tests.
type mockStore struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *mockStore) ListActiveEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func (s *mockStore) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Event{}, s.err
	}
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return domain.Event{}, domain.ErrNotFound
}

// mockChecker implements Checker.
type mockChecker struct {
	report scheduler.Report
	err    error
	status scheduler.Status
	calls  int
}

func (c *mockChecker) TriggerCheck(ctx context.Context) (scheduler.Report, error) {
	c.calls++
	return c.report, c.err
}

func (c *mockChecker) Status() scheduler.Status {
	return c.status
}

type mockPinger struct{ err error }

func (p mockPinger) PingContext(ctx context.Context) error { return p.err }

type fixedLeader bool

func (l fixedLeader) IsLeader() bool { return bool(l) }

// mockCounter implements SentCounter.
type mockCounter struct {
	counts map[domain.ReminderType]int64
	err    error
	day    time.Time
}

func (c *mockCounter) Counts(ctx context.Context, t time.Time) (map[domain.ReminderType]int64, error) {
	c.day = t
	return c.counts, c.err
}

var testNow = time.Date(2025, 3, 8, 9, 15, 0, 0, time.UTC)

func newTestHandler(store *mockStore, checker *mockChecker) *Handler {
	return NewHandler(store, checker).WithClock(func() time.Time { return testNow })
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth_Simple(t *testing.T) {
	rec := serve(newTestHandler(&mockStore{}, &mockChecker{}), http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decode[HealthResponse](t, rec); resp.Status != "ok" || resp.Components != nil {
		t.Errorf("unexpected body %+v", resp)
	}
}

func TestHealth_VerboseDegraded(t *testing.T) {
	h := newTestHandler(&mockStore{}, &mockChecker{}).WithHealthChecker(mockPinger{err: errors.New("connection refused")})

	rec := serve(h, http.MethodGet, "/health?verbose=true")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	resp := decode[HealthResponse](t, rec)
	if resp.Status != "degraded" || !strings.Contains(resp.Components["database"], "unhealthy") {
		t.Errorf("unexpected body %+v", resp)
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := newTestHandler(&mockStore{}, &mockChecker{}).WithHealthChecker(mockPinger{})

	rec := serve(h, http.MethodGet, "/health?verbose=true")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decode[HealthResponse](t, rec); resp.Components["database"] != "healthy" {
		t.Errorf("unexpected body %+v", resp)
	}
}

func TestStatus(t *testing.T) {
	checker := &mockChecker{status: scheduler.Status{
		IsRunning:  true,
		LastCheck:  testNow,
		Interval:   time.Hour,
		LastReport: scheduler.Report{Evaluated: 3, Dispatched: 1, Sync: autoevent.Result{Updated: 4}},
	}}
	h := newTestHandler(&mockStore{}, checker).WithLeader(fixedLeader(true))

	rec := serve(h, http.MethodGet, "/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[StatusResponse](t, rec)
	if !resp.IsRunning || resp.IntervalMs != 3600000 {
		t.Errorf("unexpected body %+v", resp)
	}
	if resp.LastCheck != "2025-03-08T09:15:00Z" {
		t.Errorf("last_check = %q", resp.LastCheck)
	}
	if resp.LastReport == nil || resp.LastReport.Dispatched != 1 || resp.LastReport.Sync.Updated != 4 {
		t.Errorf("last_report = %+v", resp.LastReport)
	}
	if resp.Leader == nil || !*resp.Leader {
		t.Error("leader should be reported as true")
	}
}

func TestStatus_NeverChecked(t *testing.T) {
	rec := serve(newTestHandler(&mockStore{}, &mockChecker{}), http.MethodGet, "/status")

	resp := decode[StatusResponse](t, rec)
	if resp.LastCheck != "" || resp.LastReport != nil || resp.Leader != nil {
		t.Errorf("unexpected body %+v", resp)
	}
}

func TestStatus_SentToday(t *testing.T) {
	counter := &mockCounter{counts: map[domain.ReminderType]int64{
		domain.ReminderTypeDays:  3,
		domain.ReminderTypeHours: 1,
		domain.ReminderTypeStart: 0,
	}}
	h := newTestHandler(&mockStore{}, &mockChecker{}).WithSentCounter(counter)

	resp := decode[StatusResponse](t, serve(h, http.MethodGet, "/status"))

	if resp.SentToday["days"] != 3 || resp.SentToday["hours"] != 1 || len(resp.SentToday) != 3 {
		t.Errorf("sent_today = %v", resp.SentToday)
	}
	if !counter.day.Equal(testNow) {
		t.Errorf("counts asked for %v, want %v", counter.day, testNow)
	}
}

func TestStatus_SentTodayUnavailable(t *testing.T) {
	h := newTestHandler(&mockStore{}, &mockChecker{}).WithSentCounter(&mockCounter{err: errors.New("redis down")})

	rec := serve(h, http.MethodGet, "/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decode[StatusResponse](t, rec); resp.SentToday != nil {
		t.Errorf("sent_today = %v, want omitted", resp.SentToday)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"success", nil, http.StatusOK},
		{"busy", scheduler.ErrTickInProgress, http.StatusConflict},
		{"failure", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockChecker{report: scheduler.Report{Evaluated: 2, Dispatched: 1}, err: tt.err}
			rec := serve(newTestHandler(&mockStore{}, checker), http.MethodPost, "/check")

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if checker.calls != 1 {
				t.Errorf("TriggerCheck calls = %d, want 1", checker.calls)
			}
			if tt.err == nil {
				if resp := decode[ReportResponse](t, rec); resp.Dispatched != 1 || resp.Evaluated != 2 {
					t.Errorf("unexpected body %+v", resp)
				}
			}
		})
	}
}

func TestCheck_GetNotAllowed(t *testing.T) {
	checker := &mockChecker{}
	rec := serve(newTestHandler(&mockStore{}, checker), http.MethodGet, "/check")
	if rec.Code != http.StatusNotFound || checker.calls != 0 {
		t.Errorf("status = %d calls = %d", rec.Code, checker.calls)
	}
}

func TestUpcoming_SortedAndFiltered(t *testing.T) {
	past := domain.Event{
		ID:        uuid.New(),
		Title:     "Past one-off",
		EventDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
	}
	badTime := testutil.YearlyEvent("Bad", time.April, 1)
	badTime.EventTime = "noon"

	store := &mockStore{events: []domain.Event{
		testutil.YearlyEvent("Anniversary", time.February, 14),
		testutil.YearlyEvent("Birthday", time.March, 15),
		past,
		badTime,
	}}

	rec := serve(newTestHandler(store, &mockChecker{}), http.MethodGet, "/events/upcoming")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[ListUpcomingResponse](t, rec)
	if len(resp.Events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(resp.Events), resp.Events)
	}
	if resp.Events[0].Title != "Birthday" || resp.Events[1].Title != "Anniversary" {
		t.Errorf("order = %s, %s", resp.Events[0].Title, resp.Events[1].Title)
	}
	if resp.Events[0].Occurrence != "2025-03-15T09:00:00Z" || resp.Events[0].DaysUntil != 6 {
		t.Errorf("birthday = %+v", resp.Events[0])
	}
	if resp.Events[1].Occurrence != "2026-02-14T09:00:00Z" {
		t.Errorf("anniversary occurrence = %s", resp.Events[1].Occurrence)
	}
}

func TestUpcoming_LastNotification(t *testing.T) {
	notified := testutil.YearlyEvent("Birthday", time.March, 15)
	notified.Notifications = domain.NotificationLog{
		testutil.Sent(domain.ReminderTypeDays, 14, testNow.Add(-7*24*time.Hour)),
		testutil.Sent(domain.ReminderTypeDays, 7, testNow.Add(-time.Minute)),
	}
	store := &mockStore{events: []domain.Event{
		notified,
		testutil.YearlyEvent("Anniversary", time.April, 2),
	}}

	resp := decode[ListUpcomingResponse](t, serve(newTestHandler(store, &mockChecker{}), http.MethodGet, "/events/upcoming"))

	if len(resp.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(resp.Events))
	}
	if got := resp.Events[0]; got.LastReminder != "days=7" || got.LastNotifiedAt != "2025-03-08T09:14:00Z" {
		t.Errorf("birthday = %+v", got)
	}
	if got := resp.Events[1]; got.LastReminder != "" || got.LastNotifiedAt != "" {
		t.Errorf("never notified event = %+v", got)
	}
}

func TestReminderLabel(t *testing.T) {
	tests := []struct {
		rec  domain.NotificationRecord
		want string
	}{
		{testutil.Sent(domain.ReminderTypeDays, 30, testNow), "days=30"},
		{testutil.Sent(domain.ReminderTypeHours, 1, testNow), "hours=1"},
		{testutil.Sent(domain.ReminderTypeStart, 0, testNow), "start"},
	}
	for _, tt := range tests {
		if got := reminderLabel(tt.rec); got != tt.want {
			t.Errorf("reminderLabel(%+v) = %q, want %q", tt.rec, got, tt.want)
		}
	}
}

func TestUpcoming_Limit(t *testing.T) {
	store := &mockStore{events: []domain.Event{
		testutil.YearlyEvent("A", time.March, 15),
		testutil.YearlyEvent("B", time.April, 1),
		testutil.YearlyEvent("C", time.May, 1),
	}}
	h := newTestHandler(store, &mockChecker{})

	resp := decode[ListUpcomingResponse](t, serve(h, http.MethodGet, "/events/upcoming?limit=2"))
	if len(resp.Events) != 2 {
		t.Errorf("got %d events, want 2", len(resp.Events))
	}

	for _, q := range []string{"limit=abc", "limit=-1", "limit=501"} {
		if rec := serve(h, http.MethodGet, "/events/upcoming?"+q); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestUpcoming_StoreError(t *testing.T) {
	rec := serve(newTestHandler(&mockStore{err: errors.New("boom")}, &mockChecker{}), http.MethodGet, "/events/upcoming")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestNotifications(t *testing.T) {
	ev := testutil.YearlyEvent("Birthday", time.March, 15)
	ev.Notifications = domain.NotificationLog{
		{SentAt: testNow, Channel: "telegram", DaysBefore: 7, ReminderType: domain.ReminderTypeDays},
	}
	h := newTestHandler(&mockStore{events: []domain.Event{ev}}, &mockChecker{})

	rec := serve(h, http.MethodGet, "/events/"+ev.ID.String()+"/notifications")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[ListNotificationsResponse](t, rec)
	if resp.EventID != ev.ID.String() || len(resp.Notifications) != 1 {
		t.Fatalf("unexpected body %+v", resp)
	}
	want := NotificationResponse{SentAt: "2025-03-08T09:15:00Z", Channel: "telegram", DaysBefore: 7, ReminderType: "days"}
	if resp.Notifications[0] != want {
		t.Errorf("notification = %+v, want %+v", resp.Notifications[0], want)
	}
}

func TestNotifications_Errors(t *testing.T) {
	h := newTestHandler(&mockStore{}, &mockChecker{})

	if rec := serve(h, http.MethodGet, "/events/not-a-uuid/notifications"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/events/"+uuid.NewString()+"/notifications"); rec.Code != http.StatusNotFound {
		t.Errorf("missing event: status = %d, want 404", rec.Code)
	}

	failing := newTestHandler(&mockStore{err: errors.New("boom")}, &mockChecker{})
	if rec := serve(failing, http.MethodGet, "/events/"+uuid.NewString()+"/notifications"); rec.Code != http.StatusInternalServerError {
		t.Errorf("store error: status = %d, want 500", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(newTestHandler(&mockStore{}, &mockChecker{}), http.MethodGet, "/jobs")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Error != "not found" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestParseEventPath(t *testing.T) {
	id := testutil.MustParseUUID("12345678-1234-1234-1234-123456789abc")

	tests := []struct {
		path string
		ok   bool
	}{
		{"/events/12345678-1234-1234-1234-123456789abc/notifications", true},
		{"/events//notifications", false},
		{"/events/abc/notifications", false},
		{"/events/a/b/notifications", false},
	}

	for _, tt := range tests {
		got, ok := parseEventPath(tt.path, "/notifications")
		if ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.path, ok, tt.ok)
		}
		if ok && got != id {
			t.Errorf("%s: id = %s", tt.path, got)
		}
	}
}
