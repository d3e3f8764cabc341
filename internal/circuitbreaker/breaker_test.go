package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/djlord-it/keepsake/internal/testutil"
)

const chat = "-100123456"

func newBreaker(threshold int) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC))
	return New(threshold, time.Minute).WithClock(clock.Now), clock
}

func trip(cb *CircuitBreaker, key string, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(key)
	}
}

func TestAllow_UnknownDestination_Allowed(t *testing.T) {
	cb, _ := newBreaker(3)
	if err := cb.Allow(chat); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if got := cb.State(chat); got != "closed" {
		t.Errorf("State = %q, want closed", got)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newBreaker(3)
	trip(cb, chat, 2)
	if err := cb.Allow(chat); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newBreaker(3)
	trip(cb, chat, 3)
	if err := cb.Allow(chat); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := cb.State(chat); got != "open" {
		t.Errorf("State = %q, want open", got)
	}
}

func TestAllow_AfterCooldown_SingleTrial(t *testing.T) {
	cb, clock := newBreaker(3)
	trip(cb, chat, 3)
	clock.Advance(time.Minute)

	if err := cb.Allow(chat); err != nil {
		t.Fatalf("expected trial allowed, got %v", err)
	}
	if err := cb.Allow(chat); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected ErrCircuitOpen while trial in flight")
	}
	if got := cb.State(chat); got != "half_open" {
		t.Errorf("State = %q, want half_open", got)
	}
}

func TestRecordSuccess_Closes(t *testing.T) {
	cb, clock := newBreaker(3)
	trip(cb, chat, 3)
	clock.Advance(time.Minute)
	cb.Allow(chat)
	cb.RecordSuccess(chat)

	if err := cb.Allow(chat); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
	// the failure count was reset too
	trip(cb, chat, 2)
	if err := cb.Allow(chat); err != nil {
		t.Fatalf("expected nil below threshold after reset, got %v", err)
	}
}

func TestRecordFailure_FailedTrialReopens(t *testing.T) {
	cb, clock := newBreaker(3)
	trip(cb, chat, 3)
	clock.Advance(time.Minute)
	cb.Allow(chat)
	cb.RecordFailure(chat)

	if err := cb.Allow(chat); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected ErrCircuitOpen after failed trial")
	}
	clock.Advance(30 * time.Second)
	if err := cb.Allow(chat); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("cooldown should restart from the failed trial")
	}
}

func TestIndependentDestinations(t *testing.T) {
	cb, _ := newBreaker(2)
	trip(cb, "chat-a", 2)
	if err := cb.Allow("chat-a"); err == nil {
		t.Fatal("expected chat-a open")
	}
	if err := cb.Allow("chat-b"); err != nil {
		t.Fatalf("expected chat-b allowed, got %v", err)
	}
}
