package api

import (
	"log"
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/recurrence"
)

const calendarName = "Keepsake"

// eventDuration is the nominal length of an event in the feed.
const eventDuration = time.Hour

func (h *Handler) calendar(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListActiveEvents(r.Context())
	if err != nil {
		log.Printf("api: list events error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	cal := buildCalendar(events, h.clock(), h.recur)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="keepsake.ics"`)
	w.WriteHeader(http.StatusOK)
	if err := cal.SerializeTo(w); err != nil {
		log.Printf("api: ics encode error: %v", err)
	}
}

// buildCalendar emits one VEVENT per event starting at its next occurrence;
// events that repeat under opts carry the matching RRULE.
func buildCalendar(events []domain.Event, now time.Time, opts recurrence.Options) *ics.Calendar {
	cal := ics.NewCalendarFor(calendarName)
	cal.SetMethod(ics.MethodPublish)
	cal.SetXWRCalName(calendarName)

	for _, ev := range events {
		occ, err := recurrence.Resolve(ev, now, opts)
		if err != nil {
			log.Printf("api: ics skip event %s: %v", ev.ID, err)
			continue
		}

		vev := cal.AddEvent(ev.ID.String() + "@keepsake")
		vev.SetDtStampTime(now.UTC())
		if !ev.CreatedAt.IsZero() {
			vev.SetCreatedTime(ev.CreatedAt.UTC())
		}
		if !ev.UpdatedAt.IsZero() {
			vev.SetModifiedAt(ev.UpdatedAt.UTC())
		}
		vev.SetStartAt(occ.UTC())
		vev.SetEndAt(occ.Add(eventDuration).UTC())
		vev.SetSummary(summary(ev))
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		for _, tag := range ev.Tags {
			vev.AddCategory(tag)
		}
		if rule := rrule(ev, opts); rule != "" {
			vev.AddRrule(rule)
		}
	}
	return cal
}

func summary(ev domain.Event) string {
	if ev.Icon == "" {
		return ev.Title
	}
	return ev.Icon + " " + ev.Title
}

func rrule(ev domain.Event, opts recurrence.Options) string {
	typ, ok := recurrence.RuleFor(ev, opts)
	if !ok {
		return ""
	}
	switch typ {
	case domain.RecurringYearly:
		return "FREQ=YEARLY"
	case domain.RecurringMonthly:
		return "FREQ=MONTHLY"
	case domain.RecurringWeekly:
		return "FREQ=WEEKLY"
	default:
		return ""
	}
}
