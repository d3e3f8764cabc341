package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                    {}
func (n *NoopSink) TickCompleted(duration time.Duration, dispatched int, err error) {}
func (n *NoopSink) TickSkipped(reason string)                                       {}
func (n *NoopSink) EventFailed()                                                    {}
func (n *NoopSink) AutoEventSynced(outcome string)                                  {}
func (n *NoopSink) SendCompleted(statusClass string, duration time.Duration)        {}
func (n *NoopSink) DeliveryOutcome(reminderType, outcome string)                    {}
func (n *NoopSink) AnalyticsWriteFailed()                                           {}
func (n *NoopSink) AnalyticsBufferSize(size int)                                    {}
func (n *NoopSink) AnalyticsDropped()                                               {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                               {}
func (n *NoopSink) LeaderAcquired()                                                 {}
func (n *NoopSink) LeaderLost(reason string)                                        {}
