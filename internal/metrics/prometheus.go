package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal        prometheus.Counter
	tickErrorsTotal   prometheus.Counter
	ticksSkippedTotal *prometheus.CounterVec
	dispatchedTotal   prometheus.Counter
	eventErrorsTotal  prometheus.Counter
	tickDuration      prometheus.Histogram

	// Auto-event metrics
	autoEventsTotal *prometheus.CounterVec

	// Dispatcher metrics
	sendsTotal            *prometheus.CounterVec
	sendDuration          prometheus.Histogram
	deliveryOutcomesTotal *prometheus.CounterVec

	// Analytics metrics
	analyticsErrorsTotal  prometheus.Counter
	analyticsBufferSize   prometheus.Gauge
	analyticsDroppedTotal prometheus.Counter

	// Leader election metrics
	isLeader        prometheus.Gauge
	leaderAcquired  prometheus.Counter
	leaderLostTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initAutoEventMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initAnalyticsMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepsake_scheduler_ticks_total",
		Help: "Total number of reminder checks started.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepsake_scheduler_tick_errors_total",
		Help: "Total number of reminder checks that failed before evaluating events.",
	})
	s.ticksSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keepsake_scheduler_ticks_skipped_total",
		Help: "Total number of reminder checks skipped, by reason.",
	}, []string{"reason"})
	s.dispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepsake_scheduler_reminders_dispatched_total",
		Help: "Total number of reminders dispatched by the scheduler.",
	})
	s.eventErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepsake_scheduler_event_errors_total",
		Help: "Total number of per-event failures during reminder checks.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "keepsake_scheduler_tick_duration_seconds",
		Help:    "Duration of each reminder check in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	s.register(reg, s.ticksTotal, "keepsake_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "keepsake_scheduler_tick_errors_total")
	s.register(reg, s.ticksSkippedTotal, "keepsake_scheduler_ticks_skipped_total")
	s.register(reg, s.dispatchedTotal, "keepsake_scheduler_reminders_dispatched_total")
	s.register(reg, s.eventErrorsTotal, "keepsake_scheduler_event_errors_total")
	s.register(reg, s.tickDuration, "keepsake_scheduler_tick_duration_seconds")
}

func (s *PrometheusSink) initAutoEventMetrics(reg prometheus.Registerer) {
	s.autoEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keepsake_autoevent_sync_total",
		Help: "Total number of auto-event sync results, by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.autoEventsTotal, "keepsake_autoevent_sync_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keepsake_dispatcher_sends_total",
		Help: "Total number of channel send attempts, by status class.",
	}, []string{"status_class"})

	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "keepsake_dispatcher_send_duration_seconds",
		Help:    "Channel send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keepsake_dispatcher_delivery_outcomes_total",
		Help: "Total number of reminder delivery outcomes.",
	}, []string{"reminder_type", "outcome"})

	s.register(reg, s.sendsTotal, "keepsake_dispatcher_sends_total")
	s.register(reg, s.sendDuration, "keepsake_dispatcher_send_duration_seconds")
	s.register(reg, s.deliveryOutcomesTotal, "keepsake_dispatcher_delivery_outcomes_total")
}

func (s *PrometheusSink) initAnalyticsMetrics(reg prometheus.Registerer) {
	s.analyticsErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepsake_analytics_write_errors_total",
		Help: "Total number of failed analytics writes.",
	})

	s.analyticsBufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keepsake_analytics_buffer_size",
		Help: "Current number of deliveries waiting to be written to analytics.",
	})
	s.analyticsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepsake_analytics_dropped_total",
		Help: "Total number of deliveries dropped because the analytics buffer was full.",
	})

	s.register(reg, s.analyticsErrorsTotal, "keepsake_analytics_write_errors_total")
	s.register(reg, s.analyticsBufferSize, "keepsake_analytics_buffer_size")
	s.register(reg, s.analyticsDroppedTotal, "keepsake_analytics_dropped_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keepsake_leader_is_leader",
		Help: "1 if this instance currently holds the scheduler lock.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keepsake_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keepsake_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "keepsake_leader_is_leader")
	s.register(reg, s.leaderAcquired, "keepsake_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "keepsake_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, dispatched int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.dispatchedTotal.Add(float64(dispatched))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickSkipped(reason string) {
	s.ticksSkippedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) EventFailed() {
	s.eventErrorsTotal.Inc()
}

// Auto-event metrics implementation

func (s *PrometheusSink) AutoEventSynced(outcome string) {
	s.autoEventsTotal.WithLabelValues(outcome).Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) SendCompleted(statusClass string, duration time.Duration) {
	s.sendsTotal.WithLabelValues(statusClass).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(reminderType, outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(reminderType, outcome).Inc()
}

// Analytics metrics implementation

func (s *PrometheusSink) AnalyticsWriteFailed() {
	s.analyticsErrorsTotal.Inc()
}

func (s *PrometheusSink) AnalyticsBufferSize(size int) {
	s.analyticsBufferSize.Set(float64(size))
}

func (s *PrometheusSink) AnalyticsDropped() {
	s.analyticsDroppedTotal.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
