package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/bellgate/internal/bus"
	"github.com/example/bellgate/internal/model"
)

type stubStore struct {
	pending []model.Schedule
	listErr error

	delivered []string
	failed    []string
	markErr   error
}

func (s *stubStore) ListPending(ctx context.Context, maxAttempts int) ([]model.Schedule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Schedule
	for _, p := range s.pending {
		if !p.Delivered && p.DeliveryAttempts < maxAttempts {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) MarkDelivered(ctx context.Context, id string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.delivered = append(s.delivered, id)
	return nil
}

func (s *stubStore) MarkAttemptFailed(ctx context.Context, id string) error {
	s.failed = append(s.failed, id)
	return nil
}

type stubBus struct {
	published []any
	errFor    map[string]error // schedule ID -> publish error
	calls     int
}

func (b *stubBus) Publish(ctx context.Context, topic string, payload any) error {
	b.calls++
	msg := payload.(bus.ScheduleUpdate)
	if err, ok := b.errFor[msg.ScheduleID]; ok {
		return err
	}
	b.published = append(b.published, payload)
	return nil
}

func pendingSchedule(id string, attempts int) model.Schedule {
	return model.Schedule{
		ID:               id,
		UserID:           "u1",
		DeliveryAttempts: attempts,
		Periods: []model.Period{{
			Name: "P1", Day: model.DayMonday,
			StartTime: "08:00", EndTime: "08:45", Duration: 5,
		}},
	}
}

func TestDrainEmptyPendingSkipsBus(t *testing.T) {
	st := &stubStore{}
	b := &stubBus{}
	r := New(st, b, zap.NewNop())

	stats, err := r.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
	require.Zero(t, b.calls, "empty pending set must not open a bus connection")
}

func TestDrainDeliversAndMarks(t *testing.T) {
	st := &stubStore{pending: []model.Schedule{
		pendingSchedule("s1", 0),
		pendingSchedule("s2", 2),
	}}
	b := &stubBus{}
	r := New(st, b, zap.NewNop())

	stats, err := r.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Delivered: 2, Failed: 0}, stats)
	require.Equal(t, []string{"s1", "s2"}, st.delivered)

	msg := b.published[0].(bus.ScheduleUpdate)
	require.Equal(t, bus.TypeFullScheduleUpdate, msg.Type)
	require.Equal(t, "s1", msg.ScheduleID)
	require.Len(t, msg.Schedule.Periods, 1)
}

func TestDrainPartialFailureContinues(t *testing.T) {
	st := &stubStore{pending: []model.Schedule{
		pendingSchedule("s1", 0),
		pendingSchedule("s2", 0),
		pendingSchedule("s3", 0),
	}}
	b := &stubBus{errFor: map[string]error{"s2": bus.ErrPublishTimeout}}
	r := New(st, b, zap.NewNop())

	stats, err := r.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Delivered: 2, Failed: 1}, stats)
	require.Equal(t, []string{"s1", "s3"}, st.delivered)
	require.Equal(t, []string{"s2"}, st.failed)
}

func TestDrainRespectsRetryCeiling(t *testing.T) {
	st := &stubStore{pending: []model.Schedule{
		pendingSchedule("fresh", 0),
		pendingSchedule("exhausted", model.MaxDeliveryAttempts),
	}}
	b := &stubBus{}
	r := New(st, b, zap.NewNop())

	stats, err := r.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Delivered: 1}, stats)
	require.Equal(t, []string{"fresh"}, st.delivered)
}

func TestDrainListErrorPropagates(t *testing.T) {
	st := &stubStore{listErr: errors.New("store down")}
	r := New(st, &stubBus{}, zap.NewNop())

	_, err := r.Drain(context.Background())
	require.Error(t, err)
}

func TestDrainMarkDeliveredFailureStillCountsDelivery(t *testing.T) {
	st := &stubStore{
		pending: []model.Schedule{pendingSchedule("s1", 0)},
		markErr: errors.New("store down"),
	}
	b := &stubBus{}
	r := New(st, b, zap.NewNop())

	stats, err := r.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Delivered: 1}, stats)
}
