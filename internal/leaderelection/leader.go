// Package leaderelection lets several keepsake replicas share one database
// while only one of them runs the reminder scheduler. Two schedulers ticking
// at once would both see an empty history and send the same reminder twice.
//
// The leader holds a Postgres session-level advisory lock on a connection set
// aside for that purpose. Postgres drops the lock with the session, so there
// is no lease to renew; the heartbeat only notices a dead connection locally
// so the scheduler is stopped without waiting for the next tick to fail.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"sync/atomic"
	"time"
)

// DefaultLockKey is the advisory lock key shared by all keepsake instances.
const DefaultLockKey int64 = 0x6b656570 // "keep"

// Reasons passed to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Scheduler is what the leader runs. Start must return promptly; Stop must
// block until an in-flight tick has finished and tolerate repeated calls.
type Scheduler interface {
	Start(ctx context.Context)
	Stop()
}

// Locker is the dedicated session that holds the advisory lock.
type Locker interface {
	TryLock(ctx context.Context, key int64) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	LockKey int64
	// RetryInterval is how long a follower waits between lock attempts.
	RetryInterval time.Duration
	// HeartbeatInterval is how often the leader pings its lock session.
	HeartbeatInterval time.Duration
}

type Elector struct {
	config    Config
	connect   func(ctx context.Context) (Locker, error)
	scheduler Scheduler
	metrics   MetricsSink
	leader    atomic.Bool
}

// New creates an Elector that takes lock sessions from db.
func New(db *sql.DB, config Config, scheduler Scheduler) *Elector {
	connect := func(ctx context.Context) (Locker, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return &pgLocker{conn: conn}, nil
	}
	return newElector(connect, config, scheduler)
}

func newElector(connect func(ctx context.Context) (Locker, error), config Config, scheduler Scheduler) *Elector {
	if config.LockKey == 0 {
		config.LockKey = DefaultLockKey
	}
	return &Elector{config: config, connect: connect, scheduler: scheduler}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// IsLeader reports whether this replica currently runs the scheduler.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run campaigns for leadership until ctx is cancelled. A lost term is
// followed by a new campaign after RetryInterval.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: campaigning lock_key=%d retry=%s heartbeat=%s",
		e.config.LockKey, e.config.RetryInterval, e.config.HeartbeatInterval)
	defer log.Println("leader: stopped campaigning")

	for ctx.Err() == nil {
		if reason := e.term(ctx); reason != "" && ctx.Err() == nil {
			log.Printf("leader: term ended reason=%s, campaigning again in %s", reason, e.config.RetryInterval)
		}

		wait := time.NewTimer(e.config.RetryInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

// term tries to become leader and, on success, runs the scheduler until the
// lock session dies or ctx is cancelled. It returns why the term ended, or ""
// when leadership was not obtained.
func (e *Elector) term(ctx context.Context) string {
	locker, err := e.connect(ctx)
	if err != nil {
		log.Printf("leader: open lock session: %v", err)
		return ""
	}
	defer locker.Close()

	won, err := locker.TryLock(ctx, e.config.LockKey)
	if err != nil {
		log.Printf("leader: try lock: %v", err)
		return ""
	}
	if !won {
		return ""
	}

	log.Printf("leader: elected lock_key=%d, starting scheduler", e.config.LockKey)
	e.setLeader(true, "")

	schedCtx, cancel := context.WithCancel(ctx)
	e.scheduler.Start(schedCtx)

	reason := e.heartbeat(ctx, locker)

	cancel()
	e.scheduler.Stop()
	e.setLeader(false, reason)
	log.Printf("leader: scheduler stopped, releasing lock_key=%d", e.config.LockKey)
	return reason
}

func (e *Elector) setLeader(leader bool, reason string) {
	e.leader.Store(leader)
	if e.metrics == nil {
		return
	}
	e.metrics.LeaderStatusChanged(leader)
	if leader {
		e.metrics.LeaderAcquired()
	} else {
		e.metrics.LeaderLost(reason)
	}
}

// heartbeat blocks until the lock session stops answering or ctx ends.
func (e *Elector) heartbeat(ctx context.Context, locker Locker) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
		}
		if err := locker.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return ReasonShutdown
			}
			log.Printf("leader: lock session lost: %v", err)
			return ReasonConnLost
		}
	}
}

type pgLocker struct {
	conn *sql.Conn
}

func (l *pgLocker) TryLock(ctx context.Context, key int64) (bool, error) {
	var won bool
	err := l.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&won)
	return won, err
}

func (l *pgLocker) Ping(ctx context.Context) error {
	return l.conn.PingContext(ctx)
}

func (l *pgLocker) Close() error {
	return l.conn.Close()
}
