// Package postgres implements the event and settings stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/keepsake/internal/api"
	"github.com/djlord-it/keepsake/internal/autoevent"
	"github.com/djlord-it/keepsake/internal/dispatcher"
	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/scheduler"
)

//go:embed schema.sql
var schema string

// DefaultOpTimeout bounds every store operation that carries no deadline.
const DefaultOpTimeout = 5 * time.Second

// Store implements the event and settings stores of every package using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// FindActiveReminderEvents returns active, reminder-enabled events with their history.
func (s *Store) FindActiveReminderEvents(ctx context.Context) ([]domain.Event, error) {
	return s.queryEvents(ctx, queryFindActiveReminderEvents)
}

// ListActiveEvents returns every active event, reminders enabled or not.
func (s *Store) ListActiveEvents(ctx context.Context) ([]domain.Event, error) {
	return s.queryEvents(ctx, queryListActiveEvents)
}

// FindEventByTag returns the oldest event carrying tag, or domain.ErrNotFound.
func (s *Store) FindEventByTag(ctx context.Context, tag string) (domain.Event, error) {
	return s.queryOne(ctx, queryFindEventByTag, tag)
}

// GetEvent returns the event with id, or domain.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	return s.queryOne(ctx, queryGetEvent, id)
}

// UpsertEvent inserts ev or overwrites its row. Notification history is left
// untouched; use AppendNotification for that.
func (s *Store) UpsertEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertEvent,
		ev.ID,
		ev.Title,
		ev.Description,
		ev.Icon,
		ev.EventDate,
		ev.EventTime,
		ev.IsRecurring,
		string(ev.RecurringType),
		toInt64Array(ev.ReminderDaysBefore),
		ev.ReminderEnabled,
		ev.IsActive,
		pq.StringArray(ev.Tags),
		ev.SpecialMessage,
		ev.CreatedAt,
		ev.UpdatedAt,
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	return ev, nil
}

// AppendNotification adds one record to the event's history.
// Returns domain.ErrNotFound if the event does not exist.
func (s *Store) AppendNotification(ctx context.Context, eventID uuid.UUID, rec domain.NotificationRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertNotification,
		eventID,
		rec.SentAt,
		rec.Channel,
		rec.DaysBefore,
		string(rec.ReminderType),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("append notification %s: %w", eventID, err)
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, arg any) (domain.Event, error) {
	events, err := s.queryEvents(ctx, query, arg)
	if err != nil {
		return domain.Event{}, err
	}
	if len(events) == 0 {
		return domain.Event{}, domain.ErrNotFound
	}
	return events[0], nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachNotifications(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var ev domain.Event
	var recurringType string
	var days pq.Int64Array
	var tags pq.StringArray

	err := rows.Scan(
		&ev.ID,
		&ev.Title,
		&ev.Description,
		&ev.Icon,
		&ev.EventDate,
		&ev.EventTime,
		&ev.IsRecurring,
		&recurringType,
		&days,
		&ev.ReminderEnabled,
		&ev.IsActive,
		&tags,
		&ev.SpecialMessage,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.RecurringType = domain.RecurringType(recurringType)
	ev.ReminderDaysBefore = fromInt64Array(days)
	ev.Tags = []string(tags)
	return ev, nil
}

// attachNotifications loads the history of all events in one query.
func (s *Store) attachNotifications(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, len(events))
	index := make(map[uuid.UUID]int, len(events))
	for i, ev := range events {
		ids[i] = ev.ID.String()
		index[ev.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, queryNotificationsForEvents, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventID uuid.UUID
		var rec domain.NotificationRecord
		var reminderType string
		if err := rows.Scan(&eventID, &rec.SentAt, &rec.Channel, &rec.DaysBefore, &reminderType); err != nil {
			return fmt.Errorf("scan notification: %w", err)
		}
		rec.ReminderType = domain.ReminderType(reminderType)
		if i, ok := index[eventID]; ok {
			events[i].Notifications = append(events[i].Notifications, rec)
		}
	}
	return rows.Err()
}

func isForeignKeyError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func toInt64Array(in []int) pq.Int64Array {
	out := make(pq.Int64Array, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func fromInt64Array(in pq.Int64Array) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

// Compile-time interface assertions
var (
	_ autoevent.Store         = (*Store)(nil)
	_ dispatcher.Store        = (*Store)(nil)
	_ scheduler.EventStore    = (*Store)(nil)
	_ scheduler.SettingsStore = (*Store)(nil)
	_ api.EventStore          = (*Store)(nil)
)
