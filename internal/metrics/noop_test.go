package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 2, nil)
	s.TickCompleted(100*time.Millisecond, 0, errors.New("db down"))
	s.TickSkipped("no_credentials")
	s.EventFailed()

	s.AutoEventSynced("created")

	s.SendCompleted("2xx", 200*time.Millisecond)
	s.DeliveryOutcome("days", "sent")

	s.AnalyticsWriteFailed()
	s.AnalyticsBufferSize(4)
	s.AnalyticsDropped()

	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
