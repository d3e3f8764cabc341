// Package dispatcher renders a selected reminder, sends it to the notification
// channel, and records the send in the event's history.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/reminder"
)

// ChannelTelegram is recorded as the channel of every history entry.
const ChannelTelegram = "telegram"

// ErrSendFailed is returned when the channel did not confirm delivery. No
// history is recorded, so the threshold stays eligible on later ticks.
var ErrSendFailed = errors.New("send failed")

// Outcome values reported to MetricsSink.DeliveryOutcome.
const (
	OutcomeSent         = "sent"
	OutcomeFailed       = "failed"
	OutcomeCircuitOpen  = "circuit_open"
	OutcomeHistoryError = "history_error"
)

type Store interface {
	AppendNotification(ctx context.Context, eventID uuid.UUID, rec domain.NotificationRecord) error
}

type Sender interface {
	Send(ctx context.Context, req SendRequest) SendResult
}

// CircuitBreaker is keyed by destination chat ID.
type CircuitBreaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

type AnalyticsSink interface {
	Record(ctx context.Context, ev domain.Event, rec domain.NotificationRecord)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SendCompleted(statusClass string, duration time.Duration)
	DeliveryOutcome(reminderType, outcome string)
}

// Target is the resolved channel destination for one tick.
type Target struct {
	Token  string
	ChatID string
}

func (t Target) Valid() bool {
	return t.Token != "" && t.ChatID != ""
}

type SendRequest struct {
	Token  string
	ChatID string
	Text   string
}

type SendResult struct {
	StatusCode  int
	OK          bool
	Description string
	Error       error
	Duration    time.Duration
}

func (r SendResult) IsSuccess() bool {
	return r.Error == nil && r.OK && r.StatusCode >= 200 && r.StatusCode < 300
}

type Dispatcher struct {
	store     Store
	sender    Sender
	renderer  *Renderer
	breaker   CircuitBreaker // optional, nil = disabled
	analytics AnalyticsSink  // optional, nil = disabled
	metrics   MetricsSink    // optional, nil = disabled
	clock     func() time.Time
}

func New(store Store, sender Sender, renderer *Renderer) *Dispatcher {
	return &Dispatcher{
		store:    store,
		sender:   sender,
		renderer: renderer,
		clock:    time.Now,
	}
}

func (d *Dispatcher) WithCircuitBreaker(cb CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Dispatch sends rem for ev. On confirmed delivery the record is persisted
// and appended to ev.Notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, ev *domain.Event, rem reminder.Reminder, occurrence time.Time) error {
	text, err := d.renderer.Render(*ev, rem, occurrence, d.clock())
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(target.ChatID); err != nil {
			log.Printf("dispatcher: event=%s reminder=%s skipped: %v", ev.ID, rem, err)
			d.outcome(rem, OutcomeCircuitOpen)
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	result := d.sender.Send(ctx, SendRequest{Token: target.Token, ChatID: target.ChatID, Text: text})

	if d.metrics != nil {
		d.metrics.SendCompleted(classifyStatusForMetrics(result), result.Duration)
	}

	if !result.IsSuccess() {
		if d.breaker != nil {
			d.breaker.RecordFailure(target.ChatID)
		}
		log.Printf("dispatcher: event=%s reminder=%s failed status=%d description=%q err=%v",
			ev.ID, rem, result.StatusCode, result.Description, result.Error)
		d.outcome(rem, OutcomeFailed)
		return fmt.Errorf("event %s %s: %w", ev.ID, rem, ErrSendFailed)
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(target.ChatID)
	}

	rec := domain.NotificationRecord{
		SentAt:       d.clock(),
		Channel:      ChannelTelegram,
		DaysBefore:   rem.Value(),
		ReminderType: rem.Type,
	}

	if err := d.store.AppendNotification(ctx, ev.ID, rec); err != nil {
		d.outcome(rem, OutcomeHistoryError)
		return fmt.Errorf("event %s: append notification: %w", ev.ID, err)
	}
	ev.Notifications = ev.Notifications.Append(rec)

	log.Printf("dispatcher: event=%s reminder=%s sent", ev.ID, rem)
	d.outcome(rem, OutcomeSent)

	// best effort; never affects the dispatch result
	if d.analytics != nil {
		d.analytics.Record(ctx, *ev, rec)
	}
	return nil
}

func (d *Dispatcher) outcome(rem reminder.Reminder, outcome string) {
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(string(rem.Type), outcome)
	}
}

// classifyStatusForMetrics maps a send result to a bounded status class:
// 2xx, 4xx, 5xx, timeout, connection_error, other_error.
func classifyStatusForMetrics(r SendResult) string {
	if r.Error != nil && r.StatusCode == 0 {
		msg := strings.ToLower(r.Error.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") ||
			strings.Contains(msg, "dial"):
			return "connection_error"
		default:
			return "other_error"
		}
	}

	switch {
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return "2xx"
	case r.StatusCode >= 400 && r.StatusCode < 500:
		return "4xx"
	case r.StatusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}
