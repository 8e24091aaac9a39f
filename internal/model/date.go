package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timeOfDayLayout = "15:04"
)

// Date is a calendar date in YYYY-MM-DD form. Zero padding makes string
// order match chronological order.
type Date string

// TimeOfDay is a wall-clock time in HH:MM form, zero padded.
type TimeOfDay string

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	// Accept full ISO timestamps as sent by browsers; keep the date part.
	if len(s) > len(dateLayout) && s[len(dateLayout)] == 'T' {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date(t.Format(dateLayout)), nil
}

// ParseTimeOfDay accepts HH:MM and HH:MM:SS; seconds are dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	layout := timeOfDayLayout
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return TimeOfDay(t.Format(timeOfDayLayout)), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// TimeOfDayOf returns the HH:MM of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Format(timeOfDayLayout))
}

// Time returns midnight UTC of d. The zero time is returned for malformed dates.
func (d Date) Time() time.Time {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) AddDays(n int) Date {
	return Date(d.Time().AddDate(0, 0, n).Format(dateLayout))
}

func (d Date) Before(o Date) bool { return d < o }

func (d Date) After(o Date) bool { return d > o }

func (d Date) String() string { return string(d) }

func (t TimeOfDay) String() string { return string(t) }
