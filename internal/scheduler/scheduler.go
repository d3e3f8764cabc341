// Package scheduler drives the reminder pipeline: on every tick it refreshes
// auto-events, loads eligible events and dispatches at most one reminder per
// event.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djlord-it/keepsake/internal/autoevent"
	"github.com/djlord-it/keepsake/internal/dispatcher"
	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/recurrence"
	"github.com/djlord-it/keepsake/internal/reminder"
)

// ErrTickInProgress is returned when a tick is requested while another one is
// still running.
var ErrTickInProgress = errors.New("tick already in progress")

type EventStore interface {
	FindActiveReminderEvents(ctx context.Context) ([]domain.Event, error)
}

type SettingsStore interface {
	GetProfileSettings(ctx context.Context) (domain.ProfileSettings, error)
	GetChannelSettings(ctx context.Context) (domain.ChannelSettings, error)
}

type Synchronizer interface {
	Sync(ctx context.Context, settings domain.ProfileSettings) autoevent.Result
}

type Dispatcher interface {
	Dispatch(ctx context.Context, target dispatcher.Target, ev *domain.Event, rem reminder.Reminder, occurrence time.Time) error
}

type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, dispatched int, err error)
	TickSkipped(reason string)
	EventFailed()
}

// Skip reasons reported in Report.SkipReason.
const (
	SkipNoCredentials = "no_credentials"
)

type Config struct {
	Schedule Schedule
	// Interval is reported by Status only.
	Interval time.Duration
	// FallbackTarget is used for any channel field the settings store leaves empty.
	FallbackTarget dispatcher.Target
	Recurrence     recurrence.Options
}

// Report summarizes one tick.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Skipped    bool
	SkipReason string
	Sync       autoevent.Result
	Evaluated  int
	Dispatched int
	Failed     int
}

type Status struct {
	IsRunning      bool
	TickInProgress bool
	LastCheck      time.Time
	Interval       time.Duration
	LastReport     Report
}

type Scheduler struct {
	config     Config
	events     EventStore
	settings   SettingsStore
	sync       Synchronizer
	dispatcher Dispatcher
	metrics    MetricsSink // optional, nil = disabled
	clock      func() time.Time

	ticking atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	lastCheck  time.Time
	lastReport Report
}

func New(config Config, events EventStore, settings SettingsStore, syncer Synchronizer, d Dispatcher) *Scheduler {
	return &Scheduler{
		config:     config,
		events:     events,
		settings:   settings,
		sync:       syncer,
		dispatcher: d,
		clock:      time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Start launches the tick loop in the background. Calling Start while the
// loop is running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.Run(runCtx)
	}()
}

// Stop cancels future ticks and waits for an in-flight tick to finish.
// It is safe to call when the loop is not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run ticks immediately, then on every schedule time, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("scheduler: started, interval=%s", s.config.Interval)

	for {
		if _, err := s.runTick(ctx); err != nil {
			log.Printf("scheduler: tick error: %v", err)
		}

		now := s.clock()
		wait := s.config.Schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TriggerCheck runs one tick synchronously. It returns ErrTickInProgress if
// a tick is already running.
func (s *Scheduler) TriggerCheck(ctx context.Context) (Report, error) {
	log.Println("scheduler: manual check requested")
	return s.runTick(ctx)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsRunning:      s.cancel != nil,
		TickInProgress: s.ticking.Load(),
		LastCheck:      s.lastCheck,
		Interval:       s.config.Interval,
		LastReport:     s.lastReport,
	}
}

func (s *Scheduler) runTick(ctx context.Context) (Report, error) {
	if !s.ticking.CompareAndSwap(false, true) {
		log.Println("scheduler: previous tick still running, skipping")
		return Report{}, ErrTickInProgress
	}
	defer s.ticking.Store(false)

	// a started tick completes even if the loop is stopped meanwhile
	ctx = context.WithoutCancel(ctx)

	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	report, err := s.processTick(ctx)

	if s.metrics != nil {
		if report.Skipped {
			s.metrics.TickSkipped(report.SkipReason)
		}
		s.metrics.TickCompleted(report.FinishedAt.Sub(report.StartedAt), report.Dispatched, err)
	}

	s.mu.Lock()
	s.lastCheck = report.FinishedAt
	s.lastReport = report
	s.mu.Unlock()

	return report, err
}

func (s *Scheduler) processTick(ctx context.Context) (report Report, err error) {
	now := s.clock()
	report.StartedAt = now
	defer func() { report.FinishedAt = s.clock() }()

	target, ok := s.resolveTarget(ctx)
	if !ok {
		log.Println("scheduler: warning: no channel credentials configured, skipping tick")
		report.Skipped = true
		report.SkipReason = SkipNoCredentials
		return report, nil
	}

	profile, err := s.settings.GetProfileSettings(ctx)
	if err != nil {
		log.Printf("scheduler: load profile settings: %v (auto-events not refreshed)", err)
	} else {
		report.Sync = s.sync.Sync(ctx, profile)
	}

	events, err := s.events.FindActiveReminderEvents(ctx)
	if err != nil {
		return report, fmt.Errorf("load events: %w", err)
	}

	for i := range events {
		ev := &events[i]
		report.Evaluated++

		dispatched, err := s.processEvent(ctx, target, ev, now)
		if err != nil {
			report.Failed++
			if s.metrics != nil {
				s.metrics.EventFailed()
			}
			log.Printf("scheduler: event %s error: %v", ev.ID, err)
			continue
		}
		if dispatched {
			report.Dispatched++
		}
	}

	log.Printf("scheduler: tick complete evaluated=%d dispatched=%d failed=%d synced=%d/%d",
		report.Evaluated, report.Dispatched, report.Failed,
		report.Sync.Created+report.Sync.Updated, report.Sync.Failed)
	return report, nil
}

// processEvent runs resolve, select and dispatch for one event. A panic is
// converted into an error so it stays local to the event.
func (s *Scheduler) processEvent(ctx context.Context, target dispatcher.Target, ev *domain.Event, now time.Time) (dispatched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !ev.Eligible() {
		return false, nil
	}

	occurrence, err := recurrence.Resolve(*ev, now, s.config.Recurrence)
	if err != nil {
		return false, fmt.Errorf("resolve occurrence: %w", err)
	}

	rem, ok := reminder.Select(*ev, occurrence, now)
	if !ok {
		return false, nil
	}

	if err := s.dispatcher.Dispatch(ctx, target, ev, rem, occurrence); err != nil {
		return false, fmt.Errorf("dispatch %s: %w", rem, err)
	}
	return true, nil
}

// resolveTarget prefers durable channel settings and falls back field by field
// to the configured defaults.
func (s *Scheduler) resolveTarget(ctx context.Context) (dispatcher.Target, bool) {
	target := s.config.FallbackTarget

	ch, err := s.settings.GetChannelSettings(ctx)
	if err != nil {
		log.Printf("scheduler: load channel settings: %v (using fallback)", err)
	} else {
		if ch.BotToken != "" {
			target.Token = ch.BotToken
		}
		if ch.ChatID != "" {
			target.ChatID = ch.ChatID
		}
	}

	return target, target.Valid()
}
