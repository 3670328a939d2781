// Package model holds the bell schedule value types shared across layers.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Day names follow the appliance firmware convention: English weekday names
// plus the special "ExamDay" marker used for exam-mode schedules.
const (
	DayMonday    = "Monday"
	DayTuesday   = "Tuesday"
	DayWednesday = "Wednesday"
	DayThursday  = "Thursday"
	DayFriday    = "Friday"
	DaySaturday  = "Saturday"
	DaySunday    = "Sunday"
	DayExam      = "ExamDay"
)

// Bell duration bounds in seconds.
const (
	MinDuration = 1
	MaxDuration = 30
)

// Validation sentinels for stable error mapping at the HTTP layer.
var (
	ErrInvalidTimeRange = errors.New("start time must be before end time")
	ErrInvalidDuration  = errors.New("duration must be between 1 and 30 seconds")
	ErrMissingDay       = errors.New("day is required")
)

var validDays = map[string]bool{
	DayMonday:    true,
	DayTuesday:   true,
	DayWednesday: true,
	DayThursday:  true,
	DayFriday:    true,
	DaySaturday:  true,
	DaySunday:    true,
	DayExam:      true,
}

// ValidDay reports whether name is a recognized day value.
func ValidDay(name string) bool {
	return validDays[name]
}

// Period is one scheduled bell-ringing window within a day. StartTime and
// EndTime are fixed-width 24h wall-clock strings ("HH:MM"), so lexicographic
// comparison is chronological comparison.
type Period struct {
	Name      string `json:"name"`
	Day       string `json:"day"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Duration  int    `json:"duration"`
}

// Validate checks a single period against the schedule invariants.
func (p Period) Validate() error {
	if p.Day == "" {
		return fmt.Errorf("period %q: %w", p.Name, ErrMissingDay)
	}
	if !validDays[p.Day] {
		return fmt.Errorf("period %q: unknown day %q: %w", p.Name, p.Day, ErrMissingDay)
	}
	if err := parseWallClock(p.StartTime); err != nil {
		return fmt.Errorf("period %q: start time: %w", p.Name, err)
	}
	if err := parseWallClock(p.EndTime); err != nil {
		return fmt.Errorf("period %q: end time: %w", p.Name, err)
	}
	if p.StartTime >= p.EndTime {
		return fmt.Errorf("period %q: %w", p.Name, ErrInvalidTimeRange)
	}
	if p.Duration < MinDuration || p.Duration > MaxDuration {
		return fmt.Errorf("period %q: %w", p.Name, ErrInvalidDuration)
	}
	return nil
}

// DedupeKey is the identity of a period for last-write-wins merging.
func (p Period) DedupeKey() string {
	return p.Day + "|" + p.StartTime
}

// ValidateAll validates every period and reports the first failure.
func ValidateAll(periods []Period) error {
	for _, p := range periods {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Dedupe removes duplicate periods by key, keeping the first occurrence.
// Input order is preserved for the surviving entries.
func Dedupe(periods []Period) []Period {
	seen := make(map[string]bool, len(periods))
	out := make([]Period, 0, len(periods))
	for _, p := range periods {
		key := p.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// Schedule is one stored schedule row together with its delivery bookkeeping.
// Every row doubles as its own pending-delivery record: a row with
// Delivered=false and DeliveryAttempts below the retry ceiling is queued for
// reconciliation.
type Schedule struct {
	ID               string     `json:"scheduleId"`
	UserID           string     `json:"userId"`
	Periods          []Period   `json:"periods"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Delivered        bool       `json:"delivered"`
	DeliveryAttempts int        `json:"deliveryAttempts"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
}

// MaxDeliveryAttempts is the retry ceiling: a row that reaches it without a
// successful delivery is excluded from automatic reconciliation.
const MaxDeliveryAttempts = 5

// MergeAll flattens stored schedule rows into one logical period set,
// de-duplicated by key. Rows must be ordered most-recent first (the store's
// default sort), so the first occurrence of a key wins.
func MergeAll(schedules []Schedule) []Period {
	var all []Period
	for _, s := range schedules {
		all = append(all, s.Periods...)
	}
	merged := Dedupe(all)
	if merged == nil {
		merged = []Period{}
	}
	return merged
}

// DeliverablePeriods applies exam-mode suppression: when any period is an
// exam-day period, regular weekday periods are withheld from delivery. The
// stored schedule keeps them; only the wire payload is filtered.
func DeliverablePeriods(periods []Period) []Period {
	examMode := false
	for _, p := range periods {
		if p.Day == DayExam {
			examMode = true
			break
		}
	}
	if !examMode {
		return periods
	}
	out := make([]Period, 0, len(periods))
	for _, p := range periods {
		if p.Day == DayExam {
			out = append(out, p)
		}
	}
	return out
}

func parseWallClock(s string) error {
	if len(s) != 5 || s[2] != ':' {
		return fmt.Errorf("%q is not a HH:MM time: %w", s, ErrInvalidTimeRange)
	}
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("%q is not a HH:MM time: %w", s, ErrInvalidTimeRange)
	}
	return nil
}
