package bus

import (
	"time"

	"github.com/example/bellgate/internal/model"
)

// Topics the appliance subscribes to.
const (
	TopicScheduleUpdate = "bell/schedule/update"
	TopicRingNow        = "bell/ring/now"
	TopicTimeSync       = "bell/time/sync"
	TopicTimeUpdate     = "bell/time/update"
)

// Message types carried in the "type" field of every payload.
const (
	TypeScheduleUpdate     = "schedule_update"
	TypeFullScheduleUpdate = "full_schedule_update"
	TypeManualRing         = "manual_ring"
	TypeTimeSync           = "time_sync"
)

// SchedulePayload is the periods envelope inside schedule messages.
type SchedulePayload struct {
	Periods []model.Period `json:"periods"`
}

// ScheduleUpdate is published on TopicScheduleUpdate. A live update carries
// the user; a reconciliation replay carries the schedule ID instead.
type ScheduleUpdate struct {
	Type        string          `json:"type"`
	Schedule    SchedulePayload `json:"schedule"`
	Timestamp   string          `json:"timestamp"`
	ScheduleID  string          `json:"scheduleId,omitempty"`
	User        string          `json:"user,omitempty"`
	PeriodCount int             `json:"periodCount"`
}

// ManualRing is published on TopicRingNow. Never persisted.
type ManualRing struct {
	Type      string `json:"type"`
	Duration  int    `json:"duration"`
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
}

// TimeSync is published on TopicTimeSync (user-triggered) and TopicTimeUpdate
// (periodic background sync). Never persisted.
type TimeSync struct {
	Type      string `json:"type"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	Second    int    `json:"second"`
	DayOfWeek string `json:"dayOfWeek,omitempty"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	User      string `json:"user,omitempty"`
	Manual    bool   `json:"manual,omitempty"`
}

// NewScheduleUpdate builds the live-delivery message for a user's schedule.
// Exam-mode suppression is applied to the wire payload.
func NewScheduleUpdate(user string, periods []model.Period) ScheduleUpdate {
	deliverable := model.DeliverablePeriods(periods)
	return ScheduleUpdate{
		Type:        TypeScheduleUpdate,
		Schedule:    SchedulePayload{Periods: deliverable},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		User:        user,
		PeriodCount: len(deliverable),
	}
}

// NewFullScheduleUpdate builds the reconciliation replay message for a stored
// schedule row.
func NewFullScheduleUpdate(s model.Schedule) ScheduleUpdate {
	deliverable := model.DeliverablePeriods(s.Periods)
	return ScheduleUpdate{
		Type:        TypeFullScheduleUpdate,
		Schedule:    SchedulePayload{Periods: deliverable},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		ScheduleID:  s.ID,
		PeriodCount: len(deliverable),
	}
}

// NewManualRing builds an immediate ring command.
func NewManualRing(user string, duration int) ManualRing {
	return ManualRing{
		Type:      TypeManualRing,
		Duration:  duration,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		User:      user,
	}
}
