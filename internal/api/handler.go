// Package api serves the operator HTTP surface: health, scheduler status, a
// manual check trigger, upcoming occurrences, notification history and an
// ICS feed of active events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/recurrence"
	"github.com/djlord-it/keepsake/internal/scheduler"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type EventStore interface {
	ListActiveEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
}

// Checker is the scheduler as seen by operators.
type Checker interface {
	TriggerCheck(ctx context.Context) (scheduler.Report, error)
	Status() scheduler.Status
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// LeaderReporter reports whether this instance currently runs the scheduler.
type LeaderReporter interface {
	IsLeader() bool
}

// SentCounter reports how many reminders of each type were delivered on the
// day containing t.
type SentCounter interface {
	Counts(ctx context.Context, t time.Time) (map[domain.ReminderType]int64, error)
}

type Handler struct {
	store   EventStore
	checker Checker
	db      HealthChecker
	leader  LeaderReporter
	sent    SentCounter
	recur   recurrence.Options
	clock   func() time.Time
}

func NewHandler(store EventStore, checker Checker) *Handler {
	return &Handler{store: store, checker: checker, clock: time.Now}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithLeader exposes leadership in /status.
func (h *Handler) WithLeader(l LeaderReporter) *Handler {
	h.leader = l
	return h
}

// WithSentCounter adds today's delivery totals to /status.
func (h *Handler) WithSentCounter(c SentCounter) *Handler {
	h.sent = c
	return h
}

// WithRecurrence must match the options the scheduler resolves with.
func (h *Handler) WithRecurrence(opts recurrence.Options) *Handler {
	h.recur = opts
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/status" && r.Method == http.MethodGet:
		h.status(w, r)

	case path == "/check" && r.Method == http.MethodPost:
		h.check(w, r)

	case path == "/events/upcoming" && r.Method == http.MethodGet:
		h.upcoming(w, r)

	case strings.HasPrefix(path, "/events/") && strings.HasSuffix(path, "/notifications") && r.Method == http.MethodGet:
		h.notifications(w, r)

	case path == "/calendar.ics" && r.Method == http.MethodGet:
		h.calendar(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st := h.checker.Status()

	resp := StatusResponse{
		IsRunning:      st.IsRunning,
		TickInProgress: st.TickInProgress,
		IntervalMs:     st.Interval.Milliseconds(),
	}
	if !st.LastCheck.IsZero() {
		resp.LastCheck = formatTime(st.LastCheck)
		report := toReportResponse(st.LastReport)
		resp.LastReport = &report
	}
	if h.leader != nil {
		isLeader := h.leader.IsLeader()
		resp.Leader = &isLeader
	}
	if h.sent != nil {
		resp.SentToday = h.sentToday(r.Context())
	}

	writeJSON(w, http.StatusOK, resp)
}

// sentToday is best effort: an analytics outage leaves the field out of
// /status rather than failing it.
func (h *Handler) sentToday(ctx context.Context) map[string]int64 {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	counts, err := h.sent.Counts(ctx, h.clock())
	if err != nil {
		log.Printf("api: sent counts error: %v", err)
		return nil
	}
	out := make(map[string]int64, len(counts))
	for typ, n := range counts {
		out[string(typ)] = n
	}
	return out
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.TriggerCheck(r.Context())
	if errors.Is(err, scheduler.ErrTickInProgress) {
		writeError(w, http.StatusConflict, "a check is already running")
		return
	}
	if err != nil {
		log.Printf("api: manual check error: %v", err)
		writeError(w, http.StatusInternalServerError, "check failed")
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

func (h *Handler) upcoming(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.store.ListActiveEvents(r.Context())
	if err != nil {
		log.Printf("api: list events error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	now := h.clock()
	items := make([]UpcomingEventResponse, 0, len(events))
	for _, ev := range events {
		occ, err := recurrence.Resolve(ev, now, h.recur)
		if err != nil {
			log.Printf("api: event %s: %v", ev.ID, err)
			continue
		}
		// one-shot events that already happened are not upcoming
		if occ.Before(now) {
			continue
		}
		items = append(items, toUpcomingResponse(ev, occ, now))
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].occurrence.Before(items[j].occurrence) })
	if len(items) > limit {
		items = items[:limit]
	}

	writeJSON(w, http.StatusOK, ListUpcomingResponse{Events: items})
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEventPath(r.URL.Path, "/notifications")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	ev, err := h.store.GetEvent(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		log.Printf("api: get event error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	resp := ListNotificationsResponse{
		EventID:       ev.ID.String(),
		Notifications: make([]NotificationResponse, 0, len(ev.Notifications)),
	}
	for _, rec := range ev.Notifications {
		resp.Notifications = append(resp.Notifications, NotificationResponse{
			SentAt:       formatTime(rec.SentAt),
			Channel:      rec.Channel,
			DaysBefore:   rec.DaysBefore,
			ReminderType: string(rec.ReminderType),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
