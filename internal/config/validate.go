package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/djlord-it/keepsake/internal/cron"
	"github.com/djlord-it/keepsake/internal/dispatcher"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.CheckSchedule != "" {
		if _, err := cron.NewParser().Parse(cfg.CheckSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "CHECK_SCHEDULE",
				Message: err.Error(),
			})
		}
	}

	positive := []struct {
		field string
		raw   string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"SEND_TIMEOUT", cfg.SendTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, p := range positive {
		if err := validatePositiveDuration(p.field, p.raw); err != nil {
			errs = append(errs, *err)
		}
	}

	// TELEGRAM_CHAT_ID without a token (or vice versa) is almost always a mistake.
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		errs = append(errs, ValidationError{
			Field:   "TELEGRAM_BOT_TOKEN",
			Message: "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together",
		})
	}

	if cfg.TelegramAPIURL != "" {
		u, err := url.Parse(cfg.TelegramAPIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "TELEGRAM_API_URL",
				Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.TelegramAPIURL),
			})
		}
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "CIRCUIT_BREAKER_THRESHOLD",
			Message: "must be >= 0 (0 disables the breaker)",
		})
	}

	if cfg.MessagesFile != "" {
		if err := validateMessagesFile(cfg.MessagesFile); err != nil {
			errs = append(errs, ValidationError{Field: "MESSAGES_FILE", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateMessagesFile loads and compiles the template overrides the same way
// serve does, so template errors surface before the first tick.
func validateMessagesFile(path string) error {
	msgs, err := dispatcher.LoadMessages(path)
	if err != nil {
		return err
	}
	_, err = dispatcher.NewRenderer(msgs)
	return err
}

func validatePositiveDuration(field, raw string) *ValidationError {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if d <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}
