// Package reconcile drains undelivered schedule rows and replays them to the
// appliance, making delivery eventually consistent across appliance outages.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/bellgate/internal/bus"
	"github.com/example/bellgate/internal/metrics"
	"github.com/example/bellgate/internal/model"
)

// PendingStore is the slice of the schedule repository the reconciler needs.
type PendingStore interface {
	ListPending(ctx context.Context, maxAttempts int) ([]model.Schedule, error)
	MarkDelivered(ctx context.Context, scheduleID string) error
	MarkAttemptFailed(ctx context.Context, scheduleID string) error
}

// Publisher pushes one message to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Stats reports the outcome of one drain pass.
type Stats struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Reconciler replays pending schedules through the delivery engine.
type Reconciler struct {
	store PendingStore
	bus   Publisher
	log   *zap.Logger
}

// New builds a reconciler over the given store slice and publisher.
func New(store PendingStore, publisher Publisher, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, bus: publisher, log: log}
}

// Drain attempts delivery for every pending schedule below the retry ceiling.
// A single failure never aborts the batch. An empty pending set returns zero
// stats without touching the bus.
func (r *Reconciler) Drain(ctx context.Context) (Stats, error) {
	pending, err := r.store.ListPending(ctx, model.MaxDeliveryAttempts)
	if err != nil {
		return Stats{}, err
	}
	if len(pending) == 0 {
		return Stats{}, nil
	}

	r.log.Info("draining pending schedules", zap.Int("count", len(pending)))

	var stats Stats
	for _, sched := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		msg := bus.NewFullScheduleUpdate(sched)
		if err := r.bus.Publish(ctx, bus.TopicScheduleUpdate, msg); err != nil {
			stats.Failed++
			r.log.Warn("pending delivery failed",
				zap.String("scheduleId", sched.ID),
				zap.Int("attempts", sched.DeliveryAttempts),
				zap.Error(err),
			)
			if markErr := r.store.MarkAttemptFailed(ctx, sched.ID); markErr != nil {
				r.log.Error("failed to record delivery attempt",
					zap.String("scheduleId", sched.ID), zap.Error(markErr))
			}
			continue
		}

		stats.Delivered++
		if markErr := r.store.MarkDelivered(ctx, sched.ID); markErr != nil {
			// The message reached the bus; the row stays pending and will be
			// replayed, which QoS 1 semantics already allow.
			r.log.Error("failed to mark schedule delivered",
				zap.String("scheduleId", sched.ID), zap.Error(markErr))
		}
	}

	metrics.AddReconcileResult(stats.Delivered, stats.Failed)
	r.log.Info("drain complete",
		zap.Int("delivered", stats.Delivered),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// Run drives Drain on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}
