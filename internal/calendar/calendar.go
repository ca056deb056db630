// Package calendar answers working-day questions for response deadlines.
package calendar

import (
	"fmt"
	"time"
)

// Calendar skips Saturdays, Sundays and the configured bank holidays.
type Calendar struct {
	holidays map[string]struct{}
}

// New builds a calendar from YYYY-MM-DD holiday dates.
func New(holidays []string) (Calendar, error) {
	c := Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		d, err := time.Parse(time.DateOnly, h)
		if err != nil {
			return Calendar{}, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[d.Format(time.DateOnly)] = struct{}{}
	}
	return c, nil
}

// IsBusinessDay reports whether t falls on a working day.
func (c Calendar) IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format(time.DateOnly)]
	return !holiday
}

// BusinessDaysAfter returns the date n working days after t. The time of day
// is dropped; n <= 0 returns t's own date.
func (c Calendar) BusinessDaysAfter(t time.Time, n int) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if c.IsBusinessDay(d) {
			n--
		}
	}
	return d
}
