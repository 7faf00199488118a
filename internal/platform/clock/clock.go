// Package clock pins every calendar computation to one business timezone.
// Dates are ISO "YYYY-MM-DD" strings and times of day are "HH:MM"; nothing
// else in the system derives "today" on its own.
package clock

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New loads the named IANA zone.
func New(tz string) (*Clock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// Fixed returns a clock frozen at t, for tests and tools.
func Fixed(loc *time.Location, t time.Time) *Clock {
	return &Clock{loc: loc, now: func() time.Time { return t }}
}

func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) Now() time.Time { return c.now().In(c.loc) }

// Today returns the current business date.
func (c *Clock) Today() string { return c.Now().Format(DateLayout) }

// AddDays shifts an ISO date by n calendar days.
func (c *Clock) AddDays(date string, n int) (string, error) {
	t, err := time.ParseInLocation(DateLayout, date, c.loc)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// ParseDate validates a strict ISO date and returns it unchanged.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t.Format(DateLayout), nil
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b string) (int, error) {
	ta, err := time.Parse(DateLayout, a)
	if err != nil {
		return 0, err
	}
	tb, err := time.Parse(DateLayout, b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// Weekday returns the weekday of an ISO date.
func Weekday(date string) (time.Weekday, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" in 24-hour form and returns the
// normalised "HH:MM". Seconds must be zero.
func ParseTimeOfDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	layout := TimeLayout
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if t.Second() != 0 {
		return "", fmt.Errorf("invalid time %q, seconds are not supported", s)
	}
	return t.Format(TimeLayout), nil
}

// Minutes converts a normalised "HH:MM" into minutes after midnight.
func Minutes(hhmm string) int {
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return -1
	}
	return t.Hour()*60 + t.Minute()
}
