// Package analytics keeps per-day delivery counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/keepsake/internal/domain"
)

// DefaultRetention is how long a daily counter lives after its last write.
const DefaultRetention = 90 * 24 * time.Hour

const keyPrefix = "keepsake"

// MetricsSink records failed writes. Methods must be non-blocking.
type MetricsSink interface {
	AnalyticsWriteFailed()
}

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	metrics   MetricsSink // optional, nil = disabled
}

func NewRedisSink(client redis.Cmdable, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

func (s *RedisSink) WithMetrics(sink MetricsSink) *RedisSink {
	s.metrics = sink
	return s
}

// Record counts one delivered reminder. Errors are logged, never returned:
// analytics must not affect delivery.
func (s *RedisSink) Record(ctx context.Context, ev domain.Event, rec domain.NotificationRecord) {
	if err := s.Write(ctx, ev, rec); err != nil {
		log.Printf("analytics: event=%s write failed: %v", ev.ID, err)
		if s.metrics != nil {
			s.metrics.AnalyticsWriteFailed()
		}
	}
}

// Write increments the daily totals for the reminder type and for the event.
func (s *RedisSink) Write(ctx context.Context, ev domain.Event, rec domain.NotificationRecord) error {
	day := dayBucket(rec.SentAt)
	keys := []string{
		totalKey(rec.ReminderType, day),
		eventKey(ev.ID.String(), rec.ReminderType, day),
	}

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.retention)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Counts returns the per-type totals for the day containing t.
func (s *RedisSink) Counts(ctx context.Context, t time.Time) (map[domain.ReminderType]int64, error) {
	types := []domain.ReminderType{domain.ReminderTypeDays, domain.ReminderTypeHours, domain.ReminderTypeStart}
	day := dayBucket(t)

	keys := make([]string, len(types))
	for i, typ := range types {
		keys[i] = totalKey(typ, day)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	counts := make(map[domain.ReminderType]int64, len(types))
	for i, v := range vals {
		n, err := parseCount(v)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", keys[i], err)
		}
		counts[types[i]] = n
	}
	return counts, nil
}

func totalKey(typ domain.ReminderType, day string) string {
	return fmt.Sprintf("%s:sent:%s:%s", keyPrefix, typ, day)
}

func eventKey(eventID string, typ domain.ReminderType, day string) string {
	return fmt.Sprintf("%s:e:%s:%s:%s", keyPrefix, eventID, typ, day)
}

func dayBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}

// parseCount reads an MGET value; missing keys come back as nil.
func parseCount(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		var n int64
		if _, err := fmt.Sscan(x, &n); err != nil {
			return 0, fmt.Errorf("invalid counter %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
