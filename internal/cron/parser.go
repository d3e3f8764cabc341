// Package cron parses the scheduler's tick schedule.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule ticks once an hour.
const DefaultSchedule = "@every 1h"

// Schedule yields successive tick times.
type Schedule interface {
	Next(after time.Time) time.Time
}

type Parser struct {
	parser cron.Parser
}

// NewParser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 30m".
func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse evaluates expression in the process-local time zone.
func (p *Parser) Parse(expression string) (Schedule, error) {
	if expression == "" {
		expression = DefaultSchedule
	}
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse tick schedule %q: %w", expression, err)
	}
	return sched, nil
}

// Interval reports the gap between the two ticks following from. For
// irregular expressions it is only an approximation for display.
func Interval(s Schedule, from time.Time) time.Duration {
	first := s.Next(from)
	return s.Next(first).Sub(first)
}
