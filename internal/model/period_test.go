package model

import (
	"errors"
	"testing"
	"time"
)

func validPeriod() Period {
	return Period{
		Name:      "P1",
		Day:       DayMonday,
		StartTime: "08:00",
		EndTime:   "08:45",
		Duration:  5,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Period)
		wantErr error
	}{
		{"valid", func(p *Period) {}, nil},
		{"min duration", func(p *Period) { p.Duration = 1 }, nil},
		{"max duration", func(p *Period) { p.Duration = 30 }, nil},
		{"exam day", func(p *Period) { p.Day = DayExam }, nil},
		{"zero duration", func(p *Period) { p.Duration = 0 }, ErrInvalidDuration},
		{"excessive duration", func(p *Period) { p.Duration = 45 }, ErrInvalidDuration},
		{"negative duration", func(p *Period) { p.Duration = -3 }, ErrInvalidDuration},
		{"start equals end", func(p *Period) { p.EndTime = "08:00" }, ErrInvalidTimeRange},
		{"start after end", func(p *Period) { p.StartTime = "09:00" }, ErrInvalidTimeRange},
		{"missing day", func(p *Period) { p.Day = "" }, ErrMissingDay},
		{"unknown day", func(p *Period) { p.Day = "Funday" }, ErrMissingDay},
		{"malformed start", func(p *Period) { p.StartTime = "8:00" }, ErrInvalidTimeRange},
		{"malformed end", func(p *Period) { p.EndTime = "0845" }, ErrInvalidTimeRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPeriod()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateAllRejectsWholeSet(t *testing.T) {
	bad := validPeriod()
	bad.Duration = 99

	if err := ValidateAll([]Period{validPeriod(), bad}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if err := ValidateAll(nil); err != nil {
		t.Fatalf("empty set should validate, got %v", err)
	}
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	a := validPeriod()
	b := validPeriod()
	b.Name = "duplicate slot"
	c := validPeriod()
	c.StartTime = "10:00"
	c.EndTime = "10:45"

	out := Dedupe([]Period{a, b, c})
	if len(out) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(out))
	}
	if out[0].Name != "P1" {
		t.Errorf("expected first occurrence to win, got %q", out[0].Name)
	}
	if out[1].StartTime != "10:00" {
		t.Errorf("unexpected second period: %+v", out[1])
	}
}

func TestMergeAllLatestRowWins(t *testing.T) {
	older := validPeriod()
	older.Name = "old monday"
	newer := validPeriod()
	newer.Name = "new monday"

	// Rows arrive most-recent first, matching the store's default sort.
	schedules := []Schedule{
		{UpdatedAt: time.Now(), Periods: []Period{newer}},
		{UpdatedAt: time.Now().Add(-time.Hour), Periods: []Period{older}},
	}

	merged := MergeAll(schedules)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged period, got %d", len(merged))
	}
	if merged[0].Name != "new monday" {
		t.Errorf("expected period from most recent row, got %q", merged[0].Name)
	}
}

func TestMergeAllEmpty(t *testing.T) {
	merged := MergeAll(nil)
	if merged == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(merged) != 0 {
		t.Fatalf("expected empty merge, got %d periods", len(merged))
	}
}

func TestDeliverablePeriodsExamMode(t *testing.T) {
	regular := validPeriod()
	exam := validPeriod()
	exam.Name = "exam bell"
	exam.Day = DayExam
	exam.StartTime = "09:00"
	exam.EndTime = "11:00"

	out := DeliverablePeriods([]Period{regular, exam})
	if len(out) != 1 {
		t.Fatalf("expected only exam periods, got %d", len(out))
	}
	if out[0].Day != DayExam {
		t.Errorf("expected exam period, got %+v", out[0])
	}

	// Without an exam period the set passes through untouched.
	out = DeliverablePeriods([]Period{regular})
	if len(out) != 1 || out[0].Day != DayMonday {
		t.Fatalf("regular periods should pass through, got %+v", out)
	}
}
