package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, dispatched int, err error)
	TickSkipped(reason string)
	EventFailed()

	// Auto-event metrics
	AutoEventSynced(outcome string)

	// Dispatcher metrics
	SendCompleted(statusClass string, duration time.Duration)
	DeliveryOutcome(reminderType, outcome string)

	// Analytics metrics
	AnalyticsWriteFailed()
	AnalyticsBufferSize(size int)
	AnalyticsDropped()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}
