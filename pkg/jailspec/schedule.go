package jailspec

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSchedule is a five-field cron schedule. Each field is copied
// verbatim into the cron entry.
type CronSchedule struct {
	Minute   string `yaml:"minute" toml:"minute" json:"minute"`
	Hour     string `yaml:"hour" toml:"hour" json:"hour"`
	MonthDay string `yaml:"monthday" toml:"monthday" json:"monthday"`
	Month    string `yaml:"month" toml:"month" json:"month"`
	WeekDay  string `yaml:"weekday" toml:"weekday" json:"weekday"`
}

// DefaultSchedule runs at midnight every day.
func DefaultSchedule() CronSchedule {
	return CronSchedule{Minute: "0", Hour: "0", MonthDay: "*", Month: "*", WeekDay: "*"}
}

// IsZero reports whether no field was set.
func (c CronSchedule) IsZero() bool {
	return c == CronSchedule{}
}

// WithDefaults fills empty fields from DefaultSchedule, so a manifest may
// set only the fields it cares about.
func (c CronSchedule) WithDefaults() CronSchedule {
	d := DefaultSchedule()
	if c.Minute == "" {
		c.Minute = d.Minute
	}
	if c.Hour == "" {
		c.Hour = d.Hour
	}
	if c.MonthDay == "" {
		c.MonthDay = d.MonthDay
	}
	if c.Month == "" {
		c.Month = d.Month
	}
	if c.WeekDay == "" {
		c.WeekDay = d.WeekDay
	}
	return c
}

func (c CronSchedule) fields() []string {
	return []string{c.Minute, c.Hour, c.MonthDay, c.Month, c.WeekDay}
}

// String renders the schedule as it appears in a crontab line.
func (c CronSchedule) String() string {
	return strings.Join(c.fields(), " ")
}

// Validate parses the schedule with a standard five-field cron parser.
func (c CronSchedule) Validate() error {
	for _, f := range c.fields() {
		if f == "" || strings.ContainsAny(f, " \t\n") {
			return fmt.Errorf("%w: cron schedule %q: every field must be a single non-empty expression", ErrInvalidSpec, c.String())
		}
	}
	if _, err := scheduleParser.Parse(c.String()); err != nil {
		return fmt.Errorf("%w: cron schedule %q: %v", ErrInvalidSpec, c.String(), err)
	}
	return nil
}
