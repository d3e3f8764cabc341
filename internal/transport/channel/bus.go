// Package channel buffers delivered reminders in memory so analytics writes
// happen off the delivery path.
package channel

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/djlord-it/keepsake/internal/domain"
)

// ErrBufferFull is returned by Emit when the buffer stays full for the emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 100 * time.Millisecond

// drainTimeout bounds the final flush after Run's context is cancelled.
const drainTimeout = 5 * time.Second

// Delivery is one reminder that was sent and persisted.
type Delivery struct {
	Event  domain.Event
	Record domain.NotificationRecord
}

// Sink receives deliveries drained from the bus.
type Sink interface {
	Record(ctx context.Context, ev domain.Event, rec domain.NotificationRecord)
}

// MetricsSink records bus pressure. Methods must be non-blocking.
type MetricsSink interface {
	AnalyticsBufferSize(size int)
	AnalyticsDropped()
}

type EventBus struct {
	ch          chan Delivery
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) { b.metrics = m }
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan Delivery, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit queues d, waiting at most the emit timeout for space.
func (b *EventBus) Emit(ctx context.Context, d Delivery) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- d:
		b.reportSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.AnalyticsDropped()
		}
		return ErrBufferFull
	}
}

// Record queues a delivery and never blocks the caller beyond the emit timeout.
// A full buffer drops the delivery.
func (b *EventBus) Record(ctx context.Context, ev domain.Event, rec domain.NotificationRecord) {
	if err := b.Emit(ctx, Delivery{Event: ev, Record: rec}); err != nil {
		log.Printf("eventbus: dropped delivery event=%s type=%s: %v", ev.ID, rec.ReminderType, err)
	}
}

// Run forwards deliveries to sink until ctx is cancelled, then flushes what
// is still buffered. Writes already dequeued are not cancelled with ctx.
func (b *EventBus) Run(ctx context.Context, sink Sink) {
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case d := <-b.ch:
			b.reportSize()
			sink.Record(writeCtx, d.Event, d.Record)
		case <-ctx.Done():
			b.drain(sink)
			return
		}
	}
}

func (b *EventBus) drain(sink Sink) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	n := 0
	for {
		select {
		case d := <-b.ch:
			sink.Record(ctx, d.Event, d.Record)
			n++
		default:
			if n > 0 {
				log.Printf("eventbus: drained %d buffered deliveries", n)
			}
			b.reportSize()
			return
		}
	}
}

func (b *EventBus) reportSize() {
	if b.metrics != nil {
		b.metrics.AnalyticsBufferSize(len(b.ch))
	}
}
