// Package schedule runs orchestration jobs on fixed intervals or cron
// expressions.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is how a schedule computes its next run
type Kind string

const (
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Schedule is either a fixed interval or a five-field cron expression.
// Exactly one of Every and Expr is set.
type Schedule struct {
	Every time.Duration `json:"every,omitempty"`
	Expr  string        `json:"cron,omitempty"`
	TZ    string        `json:"tz,omitempty"`
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Kind reports which field drives s
func (s Schedule) Kind() Kind {
	if s.Expr != "" {
		return KindCron
	}
	return KindEvery
}

// Validate checks that s can produce run times
func (s Schedule) Validate() error {
	switch {
	case s.Every != 0 && s.Expr != "":
		return fmt.Errorf("schedule sets both every and cron")
	case s.Expr != "":
		if _, err := parser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		if s.TZ != "" {
			if _, err := time.LoadLocation(s.TZ); err != nil {
				return fmt.Errorf("invalid timezone: %w", err)
			}
		}
		return nil
	case s.Every > 0:
		if s.TZ != "" {
			return fmt.Errorf("tz only applies to cron schedules")
		}
		return nil
	case s.Every < 0:
		return fmt.Errorf("every must be positive, got %s", s.Every)
	default:
		return fmt.Errorf("schedule requires every or cron")
	}
}

// Next returns the first run strictly after now
func (s Schedule) Next(now time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}

	if s.Kind() == KindEvery {
		return now.Add(s.Every), nil
	}

	sched, err := parser.Parse(s.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	if s.TZ != "" {
		loc, err := time.LoadLocation(s.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}
	return sched.Next(now), nil
}

// String renders s the way it is configured
func (s Schedule) String() string {
	if s.Kind() == KindCron {
		if s.TZ != "" {
			return s.Expr + " (" + s.TZ + ")"
		}
		return s.Expr
	}
	return "every " + s.Every.String()
}
