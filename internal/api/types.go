package api

import (
	"fmt"
	"time"

	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/scheduler"
)

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type StatusResponse struct {
	IsRunning      bool            `json:"is_running"`
	TickInProgress bool            `json:"tick_in_progress"`
	LastCheck      string          `json:"last_check,omitempty"`
	IntervalMs     int64           `json:"interval_ms"`
	Leader         *bool           `json:"leader,omitempty"`
	LastReport     *ReportResponse `json:"last_report,omitempty"`
	// SentToday is keyed by reminder type; absent without Redis analytics.
	SentToday map[string]int64 `json:"sent_today,omitempty"`
}

type ReportResponse struct {
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at"`
	Skipped    bool         `json:"skipped"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Evaluated  int          `json:"evaluated"`
	Dispatched int          `json:"dispatched"`
	Failed     int          `json:"failed"`
	Sync       SyncResponse `json:"auto_events"`
}

type SyncResponse struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type UpcomingEventResponse struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Icon          string   `json:"icon,omitempty"`
	RecurringType string   `json:"recurring_type"`
	Occurrence    string   `json:"occurrence"`
	DaysUntil     int      `json:"days_until"`
	Tags          []string `json:"tags,omitempty"`

	LastNotifiedAt string `json:"last_notified_at,omitempty"`
	LastReminder   string `json:"last_reminder,omitempty"`

	occurrence time.Time
}

type ListUpcomingResponse struct {
	Events []UpcomingEventResponse `json:"events"`
}

type NotificationResponse struct {
	SentAt       string `json:"sent_at"`
	Channel      string `json:"channel"`
	DaysBefore   int    `json:"days_before"`
	ReminderType string `json:"reminder_type"`
}

type ListNotificationsResponse struct {
	EventID       string                 `json:"event_id"`
	Notifications []NotificationResponse `json:"notifications"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toReportResponse(r scheduler.Report) ReportResponse {
	return ReportResponse{
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
		Skipped:    r.Skipped,
		SkipReason: r.SkipReason,
		Evaluated:  r.Evaluated,
		Dispatched: r.Dispatched,
		Failed:     r.Failed,
		Sync: SyncResponse{
			Created: r.Sync.Created,
			Updated: r.Sync.Updated,
			Skipped: r.Sync.Skipped,
			Failed:  r.Sync.Failed,
		},
	}
}

func toUpcomingResponse(ev domain.Event, occ, now time.Time) UpcomingEventResponse {
	typ := string(ev.RecurringType)
	if !ev.IsRecurring || typ == "" {
		typ = string(domain.RecurringNone)
	}
	resp := UpcomingEventResponse{
		ID:            ev.ID.String(),
		Title:         ev.Title,
		Icon:          ev.Icon,
		RecurringType: typ,
		Occurrence:    occ.Format(time.RFC3339),
		DaysUntil:     int(occ.Sub(now).Hours() / 24),
		Tags:          ev.Tags,
		occurrence:    occ,
	}
	if last, ok := ev.Notifications.Last(); ok {
		resp.LastNotifiedAt = formatTime(last.SentAt)
		resp.LastReminder = reminderLabel(last)
	}
	return resp
}

// reminderLabel names a history record the way reminders are logged, e.g.
// "days=7", "hours=1" or "start".
func reminderLabel(rec domain.NotificationRecord) string {
	if rec.ReminderType == domain.ReminderTypeStart {
		return string(rec.ReminderType)
	}
	return fmt.Sprintf("%s=%d", rec.ReminderType, rec.DaysBefore)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
