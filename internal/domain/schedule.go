package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const day = 24 * time.Hour

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// CourseSchedule describes which calendar days accept attendance.
type CourseSchedule struct {
	StartDate   time.Time      `json:"startDate"`
	TotalWeeks  int            `json:"totalWeeks"`
	DaysPerWeek int            `json:"daysPerWeek"`
	ValidDays   []time.Weekday `json:"validDays"`
}

// NewCourseSchedule builds a validated schedule. start is reduced to its
// canonical day.
func NewCourseSchedule(start time.Time, totalWeeks int, validDays []time.Weekday) (CourseSchedule, error) {
	days := append([]time.Weekday(nil), validDays...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	s := CourseSchedule{
		StartDate:   CanonicalDay(start),
		TotalWeeks:  totalWeeks,
		DaysPerWeek: len(days),
		ValidDays:   days,
	}
	if err := s.Validate(); err != nil {
		return CourseSchedule{}, err
	}
	return s, nil
}

func (s CourseSchedule) Validate() error {
	if s.StartDate.IsZero() {
		return ConfigurationError{Reason: "course start date is required"}
	}
	if s.TotalWeeks <= 0 {
		return ConfigurationError{Reason: "course must last at least one week"}
	}
	if len(s.ValidDays) == 0 {
		return ConfigurationError{Reason: "course needs at least one valid day"}
	}
	seen := make(map[time.Weekday]bool, len(s.ValidDays))
	for _, d := range s.ValidDays {
		if d < time.Sunday || d > time.Saturday {
			return ConfigurationError{Reason: fmt.Sprintf("weekday %d out of range", d)}
		}
		if seen[d] {
			return ConfigurationError{Reason: fmt.Sprintf("weekday %s listed twice", d)}
		}
		seen[d] = true
	}
	if s.DaysPerWeek != 0 && s.DaysPerWeek != len(s.ValidDays) {
		return ConfigurationError{Reason: fmt.Sprintf("daysPerWeek is %d but %d valid days are listed", s.DaysPerWeek, len(s.ValidDays))}
	}
	return nil
}

// End is the first canonical day after the course window.
func (s CourseSchedule) End() time.Time {
	return CanonicalDay(s.StartDate).Add(time.Duration(s.TotalWeeks*7) * day)
}

// DayNames lists the valid weekdays for display, Sunday first.
func (s CourseSchedule) DayNames() []string {
	days := append([]time.Weekday(nil), s.ValidDays...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, d.String())
	}
	return names
}

// IsValidAttendanceDay reports whether date is a class day inside the
// course window. Only the calendar day of date matters.
func IsValidAttendanceDay(s CourseSchedule, date time.Time) bool {
	if len(s.ValidDays) == 0 || s.TotalWeeks <= 0 {
		return false
	}
	d := CanonicalDay(date)
	start := CanonicalDay(s.StartDate)
	if d.Before(start) || !d.Before(s.End()) {
		return false
	}
	wd := d.Weekday()
	for _, v := range s.ValidDays {
		if v == wd {
			return true
		}
	}
	return false
}

// CanonicalDay returns midnight UTC of the calendar day t falls on in its
// own location. Two clients picking the same calendar date in different
// zones get the same instant.
func CanonicalDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CanonicalTimestamp is the epoch-seconds value sent to the ledger.
func CanonicalTimestamp(t time.Time) int64 {
	return CanonicalDay(t).Unix()
}

// ParseDate reads a YYYY-MM-DD date as a canonical day. Full RFC 3339
// timestamps are accepted and reduced to their calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ValidationError{Field: "date", Reason: "date is required"}
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return CanonicalDay(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ValidationError{Field: "date", Reason: fmt.Sprintf("cannot parse %q as a date", s)}
	}
	return CanonicalDay(t), nil
}

// ParseWeekdays converts weekday indices (0=Sunday) to time.Weekday.
func ParseWeekdays(indices []int) []time.Weekday {
	days := make([]time.Weekday, 0, len(indices))
	for _, i := range indices {
		days = append(days, time.Weekday(i))
	}
	return days
}
