// Package schedule implements recurrence matching for time-based grants.
package schedule

import "time"

// Schedule is a set of independent calendar constraints. An empty field
// imposes no restriction; all non-empty fields must hold simultaneously.
// Days are weekdays 0-6 (Sunday=0), hours 0-23, months 0-11 (January=0),
// days-of-month 1-31.
type Schedule struct {
	Days        []int `json:"days,omitempty"`
	Hours       []int `json:"hours,omitempty"`
	Months      []int `json:"months,omitempty"`
	DaysOfMonth []int `json:"daysOfMonth,omitempty"`
}

// FieldError reports an out-of-range schedule value.
type FieldError struct {
	Field string
	Value int
}

func (e *FieldError) Error() string {
	return "schedule: field " + e.Field + " has out-of-range value"
}

// Validate rejects out-of-range constraint values.
func (s *Schedule) Validate() error {
	if s == nil {
		return nil
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return &FieldError{Field: "days", Value: d}
		}
	}
	for _, h := range s.Hours {
		if h < 0 || h > 23 {
			return &FieldError{Field: "hours", Value: h}
		}
	}
	for _, m := range s.Months {
		if m < 0 || m > 11 {
			return &FieldError{Field: "months", Value: m}
		}
	}
	for _, d := range s.DaysOfMonth {
		if d < 1 || d > 31 {
			return &FieldError{Field: "daysOfMonth", Value: d}
		}
	}
	return nil
}

// IsZero reports whether the schedule carries no constraints at all.
func (s *Schedule) IsZero() bool {
	return s == nil || (len(s.Days) == 0 && len(s.Hours) == 0 && len(s.Months) == 0 && len(s.DaysOfMonth) == 0)
}

// Matches reports whether the instant satisfies every present constraint.
// A nil or empty schedule matches any instant.
func (s *Schedule) Matches(t time.Time) bool {
	if s == nil {
		return true
	}
	if len(s.Days) > 0 && !contains(s.Days, int(t.Weekday())) {
		return false
	}
	if len(s.Hours) > 0 && !contains(s.Hours, t.Hour()) {
		return false
	}
	if len(s.Months) > 0 && !contains(s.Months, int(t.Month())-1) {
		return false
	}
	if len(s.DaysOfMonth) > 0 && !contains(s.DaysOfMonth, t.Day()) {
		return false
	}
	return true
}

// BusinessHours reports whether the instant falls inside the fixed
// business-hours policy: Monday-Friday, 09:00-16:59 in t's location.
func BusinessHours(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := t.Hour()
	return h >= 9 && h < 17
}

func contains(values []int, v int) bool {
	for _, c := range values {
		if c == v {
			return true
		}
	}
	return false
}
