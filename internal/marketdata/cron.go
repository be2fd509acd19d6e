package marketdata

import (
	"fmt"
	"time"

	cron "github.com/netresearch/go-cron"
)

// Schedule is a parsed 5-field cron expression.
type Schedule struct {
	raw      string
	schedule cron.Schedule
}

// ParseSchedule parses a standard minute-resolution cron expression.
func ParseSchedule(expr string) (*Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse refresh cron %q: %w", expr, err)
	}
	return &Schedule{raw: expr, schedule: s}, nil
}

// Next returns the first activation after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Due reports whether t falls in the minute of an activation.
func (s *Schedule) Due(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return s.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

func (s *Schedule) String() string { return s.raw }
