// Package bell composes the store, delivery engine, and reconciler into the
// user-facing schedule and command operations.
package bell

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/bellgate/internal/bus"
	"github.com/example/bellgate/internal/model"
	"github.com/example/bellgate/internal/reconcile"
	"github.com/example/bellgate/internal/store"
	"github.com/example/bellgate/internal/timesource"
)

// globalScheduleLimit bounds the appliance pull path: the union of the most
// recent N schedule rows across all users.
const globalScheduleLimit = 10

// liveDeliveryRetries caps the immediate delivery attempt after a write.
// A failure here is not an error for the caller: the row is already pending
// and the reconciler owns queued redelivery.
const liveDeliveryRetries = 2

// Publisher is the delivery-engine surface the service depends on.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	PublishWithRetry(ctx context.Context, topic string, payload any, maxRetries int) error
}

// Clock resolves wall-clock time for sync messages.
type Clock interface {
	Now(ctx context.Context) timesource.Time
}

// Service is the command gateway over schedules and appliance commands.
type Service struct {
	schedules store.ScheduleRepository
	bus       Publisher
	clock     Clock
	log       *zap.Logger
}

// New wires the command gateway.
func New(schedules store.ScheduleRepository, publisher Publisher, clock Clock, log *zap.Logger) *Service {
	return &Service{schedules: schedules, bus: publisher, clock: clock, log: log}
}

// StoreResult reports the outcome of a schedule write.
type StoreResult struct {
	ScheduleID      string          `json:"scheduleId"`
	Stored          bool            `json:"stored"`
	PendingDelivery bool            `json:"pendingDelivery"`
	DeliveryStats   reconcile.Stats `json:"deliveryStats"`
	PeriodCount     int             `json:"periodCount"`
}

// StoreSchedule validates and persists a full schedule for the user, then
// attempts immediate delivery. Persistence is the authoritative action: a
// delivery failure leaves the row pending for reconciliation and the write
// still succeeds.
func (s *Service) StoreSchedule(ctx context.Context, userID string, periods []model.Period) (StoreResult, error) {
	if err := model.ValidateAll(periods); err != nil {
		return StoreResult{}, err
	}

	sched, err := s.schedules.Put(ctx, userID, periods)
	if err != nil {
		return StoreResult{}, err
	}

	result := StoreResult{
		ScheduleID:  sched.ID,
		Stored:      true,
		PeriodCount: len(sched.Periods),
	}

	msg := bus.NewScheduleUpdate(userID, sched.Periods)
	msg.ScheduleID = sched.ID
	if err := s.bus.PublishWithRetry(ctx, bus.TopicScheduleUpdate, msg, liveDeliveryRetries); err != nil {
		s.log.Warn("live schedule delivery failed, leaving pending",
			zap.String("scheduleId", sched.ID),
			zap.String("user", userID),
			zap.Error(err),
		)
		result.PendingDelivery = true
		result.DeliveryStats = reconcile.Stats{Failed: 1}
		if markErr := s.schedules.MarkAttemptFailed(ctx, sched.ID); markErr != nil {
			s.log.Error("failed to record live delivery attempt",
				zap.String("scheduleId", sched.ID), zap.Error(markErr))
		}
		return result, nil
	}

	result.DeliveryStats = reconcile.Stats{Delivered: 1}
	if err := s.schedules.MarkDelivered(ctx, sched.ID); err != nil {
		s.log.Error("failed to mark schedule delivered",
			zap.String("scheduleId", sched.ID), zap.Error(err))
		result.PendingDelivery = true
	}
	return result, nil
}

// MergedSchedule is the appliance-facing view of the schedule.
type MergedSchedule struct {
	Periods []model.Period `json:"periods"`
	Count   int            `json:"count"`
}

// GetSchedule returns the merged global schedule for the appliance pull path.
// The appliance carries no user context, so the most recent rows across all
// users are flattened and de-duplicated by (day, startTime).
func (s *Service) GetSchedule(ctx context.Context) (MergedSchedule, error) {
	rows, err := s.schedules.GetAllGlobal(ctx, globalScheduleLimit)
	if err != nil {
		return MergedSchedule{}, err
	}
	merged := model.MergeAll(rows)
	return MergedSchedule{Periods: merged, Count: len(merged)}, nil
}

// GetUserSchedules returns the user's own stored rows, most recent first.
func (s *Service) GetUserSchedules(ctx context.Context, userID string) ([]model.Schedule, error) {
	return s.schedules.GetAll(ctx, userID)
}

// ClearDay removes every period on the given day from the user's schedule.
func (s *Service) ClearDay(ctx context.Context, userID, day string) (bool, error) {
	if !model.ValidDay(day) {
		return false, fmt.Errorf("day %q: %w", day, model.ErrMissingDay)
	}
	return s.schedules.RemoveDayPeriods(ctx, userID, day)
}

// ClearAll deletes every schedule row for the user.
func (s *Service) ClearAll(ctx context.Context, userID string) (int64, error) {
	return s.schedules.ClearAll(ctx, userID)
}

// RingNow publishes an immediate ring command. Nothing is persisted, so a
// delivery failure surfaces directly to the caller.
func (s *Service) RingNow(ctx context.Context, userID string, duration int) error {
	if duration < model.MinDuration || duration > model.MaxDuration {
		return fmt.Errorf("ring duration %d: %w", duration, model.ErrInvalidDuration)
	}
	return s.bus.Publish(ctx, bus.TopicRingNow, bus.NewManualRing(userID, duration))
}

// ManualTime is a caller-supplied clock override for SyncTime.
type ManualTime struct {
	Hour   int
	Minute int
	Second int
}

// TimeResult reports the clock value that was pushed to the appliance.
type TimeResult struct {
	Time      string `json:"time"`
	Timestamp string `json:"timestamp"`
}

// SyncTime pushes the current (or overridden) wall-clock time to the
// appliance. Never persisted; delivery failures surface directly.
func (s *Service) SyncTime(ctx context.Context, userID string, manual *ManualTime) (TimeResult, error) {
	var msg bus.TimeSync
	if manual != nil {
		now := time.Now().UTC()
		msg = bus.TimeSync{
			Type:      bus.TypeTimeSync,
			Hour:      manual.Hour,
			Minute:    manual.Minute,
			Second:    manual.Second,
			Timestamp: now.Format(time.RFC3339),
			Source:    "web_app",
			User:      userID,
			Manual:    true,
		}
	} else {
		resolved := s.clock.Now(ctx)
		msg = bus.TimeSync{
			Type:      bus.TypeTimeSync,
			Hour:      resolved.Hour,
			Minute:    resolved.Minute,
			Second:    resolved.Second,
			DayOfWeek: resolved.DayOfWeek,
			Timestamp: resolved.Timestamp.Format(time.RFC3339),
			Source:    resolved.Source,
			User:      userID,
		}
	}

	if err := s.bus.Publish(ctx, bus.TopicTimeSync, msg); err != nil {
		return TimeResult{}, err
	}

	return TimeResult{
		Time:      fmt.Sprintf("%02d:%02d:%02d", msg.Hour, msg.Minute, msg.Second),
		Timestamp: msg.Timestamp,
	}, nil
}

// RunTimeSync periodically pushes resolved time to the appliance's time
// topic until the context is cancelled.
func (s *Service) RunTimeSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolved := s.clock.Now(ctx)
			msg := bus.TimeSync{
				Type:      bus.TypeTimeSync,
				Hour:      resolved.Hour,
				Minute:    resolved.Minute,
				Second:    resolved.Second,
				DayOfWeek: resolved.DayOfWeek,
				Timestamp: resolved.Timestamp.Format(time.RFC3339),
				Source:    resolved.Source,
			}
			if err := s.bus.Publish(ctx, bus.TopicTimeUpdate, msg); err != nil && ctx.Err() == nil {
				s.log.Warn("periodic time sync failed", zap.Error(err))
			}
		}
	}
}
