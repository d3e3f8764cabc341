package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/keepsake/internal/analytics"
	"github.com/djlord-it/keepsake/internal/api"
	"github.com/djlord-it/keepsake/internal/autoevent"
	"github.com/djlord-it/keepsake/internal/circuitbreaker"
	"github.com/djlord-it/keepsake/internal/config"
	"github.com/djlord-it/keepsake/internal/cron"
	"github.com/djlord-it/keepsake/internal/dispatcher"
	"github.com/djlord-it/keepsake/internal/leaderelection"
	"github.com/djlord-it/keepsake/internal/metrics"
	"github.com/djlord-it/keepsake/internal/recurrence"
	"github.com/djlord-it/keepsake/internal/scheduler"
	"github.com/djlord-it/keepsake/internal/store/postgres"
	"github.com/djlord-it/keepsake/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "check":
		os.Exit(runCheck())
	case "migrate":
		os.Exit(runMigrate())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`keepsake - reminders for birthdays, anniversaries and other recurring dates

Usage:
  keepsake <command>

Commands:
  serve      Start the scheduler and HTTP API
  check      Run a single reminder check and print the report
  migrate    Create database tables if they do not exist
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for delivery analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  CHECK_SCHEDULE            Cron expression for reminder checks (default: "@every 1h")
  RECURRENCE_EXPAND         Repeat monthly/weekly events, Feb 29 -> Feb 28 (default: "false")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "10")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "2")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  TELEGRAM_BOT_TOKEN        Fallback bot token when none is stored in settings
  TELEGRAM_CHAT_ID          Fallback chat ID when none is stored in settings
  TELEGRAM_API_URL          Bot API base URL (default: "https://api.telegram.org")
  SEND_TIMEOUT              Per-message send timeout (default: "30s")
  MESSAGES_FILE             YAML file overriding reminder message templates

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before pausing a chat, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Pause before retrying a failing chat (default: "10m")
  ANALYTICS_RETENTION       How long daily counters are kept in Redis (default: "2160h")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Serve metrics on a separate port instead of HTTP_ADDR

  LEADER_ELECTION_ENABLED   Run the scheduler on one instance only (default: "false")
  LEADER_LOCK_KEY           Postgres advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

// logConfigWarnings logs operational warnings for risky configurations.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.HasTelegramFallback() {
		log.Println("keepsake: WARNING [P1]: TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID not set; " +
			"checks are skipped until credentials are stored in the settings table")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("keepsake: WARNING [P2]: CIRCUIT_BREAKER_THRESHOLD=0; " +
			"a failing chat is retried on every check")
	}
	if !cfg.MetricsEnabled {
		log.Println("keepsake: WARNING [P2]: METRICS_ENABLED=false; no Prometheus metrics are exported")
	}
	if cfg.RedisAddr == "" {
		log.Println("keepsake: INFO: REDIS_ADDR not set; delivery analytics disabled")
	}
	if !cfg.LeaderElectionEnabled {
		log.Println("keepsake: INFO: LEADER_ELECTION_ENABLED=false; run a single instance " +
			"or duplicate reminders will be sent")
	}
}

// checkSchema reports sql.ErrNoRows when the notification history table is
// missing, i.e. "keepsake migrate" has not been run.
func checkSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var name string
	return db.QueryRowContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_name = 'event_notifications'`,
	).Scan(&name)
}

func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("keepsake: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// analyticsBufferSize is the number of deliveries queued ahead of Redis.
const analyticsBufferSize = 100

// app holds the wired components shared by serve and check.
type app struct {
	store     *postgres.Store
	scheduler *scheduler.Scheduler
	redis     *redis.Client
	bus       *channel.EventBus
	analytics *analytics.RedisSink
}

// runAnalytics forwards buffered deliveries to Redis until ctx is cancelled.
// It returns immediately when analytics are disabled.
func (a *app) runAnalytics(ctx context.Context) {
	if a.bus == nil {
		return
	}
	a.bus.Run(ctx, a.analytics)
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func buildApp(cfg config.Config, db *sql.DB, sink metrics.Sink) (*app, error) {
	store := postgres.New(db, cfg.DBOpTimeout)

	msgs := dispatcher.DefaultMessages
	if cfg.MessagesFile != "" {
		loaded, err := dispatcher.LoadMessages(cfg.MessagesFile)
		if err != nil {
			return nil, err
		}
		msgs = loaded
		log.Printf("keepsake: message templates loaded from %s", cfg.MessagesFile)
	}
	renderer, err := dispatcher.NewRenderer(msgs)
	if err != nil {
		return nil, err
	}

	sender := dispatcher.NewTelegramSender(cfg.TelegramAPIURL, cfg.SendTimeout)
	disp := dispatcher.New(store, sender, renderer).WithMetrics(sink)

	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("keepsake: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	a := &app{store: store}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		a.analytics = analytics.NewRedisSink(a.redis, cfg.AnalyticsRetention).WithMetrics(sink)
		a.bus = channel.NewEventBus(analyticsBufferSize, channel.WithMetrics(sink))
		disp = disp.WithAnalytics(a.bus)
		log.Printf("keepsake: analytics enabled (redis=%s, retention=%s)", cfg.RedisAddr, cfg.AnalyticsRetention)
	}

	schedule, err := cron.NewParser().Parse(cfg.CheckSchedule)
	if err != nil {
		a.Close()
		return nil, err
	}

	syncer := autoevent.New(store).WithMetrics(sink)

	a.scheduler = scheduler.New(
		scheduler.Config{
			Schedule: schedule,
			Interval: cron.Interval(schedule, time.Now()),
			FallbackTarget: dispatcher.Target{
				Token:  cfg.TelegramBotToken,
				ChatID: cfg.TelegramChatID,
			},
			Recurrence: recurrence.Options{Expand: cfg.RecurrenceExpand},
		},
		store,
		store,
		syncer,
		disp,
	).WithMetrics(sink)

	return a, nil
}

// connect loads and validates the configuration and opens the pool. A
// non-zero code means the command should exit with it.
func connect() (config.Config, *sql.DB, int) {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return cfg, nil, exitInvalidConfig
	}

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return cfg, nil, exitRuntimeError
	}
	return cfg, db, exitSuccess
}

// requireSchema reports whether the tables exist. A failing check is logged
// and treated as present; the store surfaces the real error on first use.
func requireSchema(db *sql.DB) bool {
	err := checkSchema(db)
	if errors.Is(err, sql.ErrNoRows) {
		fmt.Fprintln(os.Stderr, "database schema missing: run \"keepsake migrate\" first")
		return false
	}
	if err != nil {
		log.Printf("keepsake: schema check failed: %v", err)
	}
	return true
}

func runServe() int {
	cfg, db, code := connect()
	if code != exitSuccess {
		return code
	}
	defer db.Close()
	logConfigWarnings(&cfg)

	if !requireSchema(db) {
		return exitRuntimeError
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	mux := http.NewServeMux()

	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		if cfg.MetricsPort != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{
				Addr:    ":" + cfg.MetricsPort,
				Handler: metricsMux,
			}
			go func() {
				log.Printf("keepsake: metrics server listening on :%s%s", cfg.MetricsPort, cfg.MetricsPath)
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("keepsake: metrics server error: %v", err)
				}
			}()
		} else {
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
			log.Printf("keepsake: metrics enabled on %s%s", cfg.HTTPAddr, cfg.MetricsPath)
		}
	}

	a, err := buildApp(cfg, db, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise: %v\n", err)
		return exitRuntimeError
	}
	defer a.Close()

	apiHandler := api.NewHandler(a.store, a.scheduler).
		WithHealthChecker(db).
		WithRecurrence(recurrence.Options{Expand: cfg.RecurrenceExpand})
	if a.analytics != nil {
		apiHandler = apiHandler.WithSentCounter(a.analytics)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	analyticsCtx, cancelAnalytics := context.WithCancel(context.Background())
	defer cancelAnalytics()
	var analyticsWg sync.WaitGroup
	analyticsWg.Add(1)
	go func() {
		defer analyticsWg.Done()
		a.runAnalytics(analyticsCtx)
	}()

	var electorWg sync.WaitGroup
	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(db, leaderelection.Config{
			LockKey:           cfg.LeaderLockKey,
			RetryInterval:     cfg.LeaderRetryInterval,
			HeartbeatInterval: cfg.LeaderHeartbeatInterval,
		}, a.scheduler).WithMetrics(sink)
		apiHandler = apiHandler.WithLeader(elector)

		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(ctx)
		}()
		log.Printf("keepsake: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		a.scheduler.Start(ctx)
	}

	mux.Handle("/", apiHandler)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("keepsake: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("keepsake: http server error: %v", err)
		}
	}()

	log.Printf("keepsake: started (schedule=%q, http=%s)", cfg.CheckSchedule, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("keepsake: received signal %v, shutting down", received)

	// Phase 1: stop checks; an in-flight tick finishes first.
	log.Println("keepsake: stopping scheduler...")
	cancel()
	electorWg.Wait()
	a.scheduler.Stop()
	log.Println("keepsake: scheduler stopped")

	// Phase 2: flush buffered analytics
	cancelAnalytics()
	analyticsWg.Wait()

	// Phase 3: stop HTTP server with graceful shutdown
	log.Println("keepsake: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("keepsake: http server shutdown error: %v", err)
	}
	log.Println("keepsake: http server stopped")

	// Phase 4: stop metrics server if running (with same timeout)
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("keepsake: metrics server shutdown error: %v", err)
		}
		log.Println("keepsake: metrics server stopped")
	}

	log.Println("keepsake: stopped")
	return exitSuccess
}

func runCheck() int {
	cfg, db, code := connect()
	if code != exitSuccess {
		return code
	}
	defer db.Close()

	if !requireSchema(db) {
		return exitRuntimeError
	}

	a, err := buildApp(cfg, db, metrics.NewNoopSink())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise: %v\n", err)
		return exitRuntimeError
	}
	defer a.Close()

	report, err := a.scheduler.TriggerCheck(context.Background())

	// Flush whatever the check queued for analytics.
	flushCtx, flush := context.WithCancel(context.Background())
	flush()
	a.runAnalytics(flushCtx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
		return exitRuntimeError
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal report: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))

	if report.Failed > 0 {
		return exitRuntimeError
	}
	return exitSuccess
}

func runMigrate() int {
	cfg, db, code := connect()
	if code != exitSuccess {
		return code
	}
	defer db.Close()

	if err := postgres.New(db, cfg.DBOpTimeout).Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println("schema up to date")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("keepsake version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
