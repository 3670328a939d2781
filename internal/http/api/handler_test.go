package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/bellgate/internal/auth"
	"github.com/example/bellgate/internal/bell"
	"github.com/example/bellgate/internal/bus"
	"github.com/example/bellgate/internal/model"
	"github.com/example/bellgate/internal/reconcile"
	"github.com/example/bellgate/internal/timesource"
)

type stubRepo struct {
	schedules []model.Schedule
	putErr    error
	cleared   int64
}

func (s *stubRepo) Put(_ context.Context, userID string, periods []model.Period) (*model.Schedule, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	now := time.Now().UTC()
	return &model.Schedule{
		ID: "sched-1", UserID: userID, Periods: model.Dedupe(periods),
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *stubRepo) GetAll(_ context.Context, userID string) ([]model.Schedule, error) {
	var out []model.Schedule
	for _, sched := range s.schedules {
		if sched.UserID == userID {
			out = append(out, sched)
		}
	}
	return out, nil
}

func (s *stubRepo) GetAllGlobal(_ context.Context, limit int) ([]model.Schedule, error) {
	if len(s.schedules) > limit {
		return s.schedules[:limit], nil
	}
	return s.schedules, nil
}

func (s *stubRepo) RemoveDayPeriods(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (s *stubRepo) ClearAll(_ context.Context, _ string) (int64, error) {
	return s.cleared, nil
}

func (s *stubRepo) ListPending(_ context.Context, maxAttempts int) ([]model.Schedule, error) {
	var out []model.Schedule
	for _, sched := range s.schedules {
		if !sched.Delivered && sched.DeliveryAttempts < maxAttempts {
			out = append(out, sched)
		}
	}
	return out, nil
}

func (s *stubRepo) MarkDelivered(_ context.Context, _ string) error     { return nil }
func (s *stubRepo) MarkAttemptFailed(_ context.Context, _ string) error { return nil }

type stubBus struct {
	published []string
	err       error
}

func (b *stubBus) Publish(_ context.Context, topic string, _ any) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, topic)
	return nil
}

func (b *stubBus) PublishWithRetry(ctx context.Context, topic string, payload any, _ int) error {
	return b.Publish(ctx, topic, payload)
}

type stubClock struct{ t timesource.Time }

func (c stubClock) Now(_ context.Context) timesource.Time { return c.t }

func newTestHandler(repo *stubRepo, publisher *stubBus) *Handler {
	log := zap.NewNop()
	svc := bell.New(repo, publisher, stubClock{t: timesource.Time{
		Hour: 9, Minute: 30, Second: 0, DayOfWeek: "Tuesday",
		Source: "test", Timestamp: time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC),
	}}, log)
	return NewHandler(svc, reconcile.New(repo, publisher, log))
}

func authed(r *http.Request) *http.Request {
	return r.WithContext(auth.WithUser(r.Context(), "teacher@example.edu"))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestStoreScheduleRequiresAuthBeforeParsing(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	// Malformed body must not matter: the auth check runs first.
	req := httptest.NewRequest(http.MethodPost, "/api/schedule", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.StoreSchedule(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "Please login to access this feature", body["message"])
}

func TestStoreScheduleRejectsInvalidJSON(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule", strings.NewReader("{not json")))
	rec := httptest.NewRecorder()
	h.StoreSchedule(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreScheduleRejectsMissingPeriods(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule", strings.NewReader(`{}`)))
	rec := httptest.NewRecorder()
	h.StoreSchedule(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreScheduleRejectsBadDuration(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	payload := `{"periods":[{"name":"P1","day":"Monday","startTime":"08:00","endTime":"08:45","duration":99}]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule", strings.NewReader(payload)))
	rec := httptest.NewRecorder()
	h.StoreSchedule(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreScheduleDeliversLive(t *testing.T) {
	publisher := &stubBus{}
	h := newTestHandler(&stubRepo{}, publisher)

	payload := `{"periods":[{"name":"P1","day":"Monday","startTime":"08:00","endTime":"08:45","duration":5}]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule", strings.NewReader(payload)))
	rec := httptest.NewRecorder()
	h.StoreSchedule(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, true, body["stored"])
	require.Equal(t, false, body["pendingDelivery"])
	require.Equal(t, "sched-1", body["scheduleId"])
	require.Equal(t, float64(1), body["periodCount"])
	require.Equal(t, []string{bus.TopicScheduleUpdate}, publisher.published)
}

func TestStoreScheduleQueuesOnDeliveryFailure(t *testing.T) {
	publisher := &stubBus{err: bus.ErrPublishTimeout}
	h := newTestHandler(&stubRepo{}, publisher)

	payload := `{"periods":[{"name":"P1","day":"Monday","startTime":"08:00","endTime":"08:45","duration":5}]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule", strings.NewReader(payload)))
	rec := httptest.NewRecorder()
	h.StoreSchedule(rec, req)

	// The write succeeded; delivery is queued, not failed.
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["stored"])
	require.Equal(t, true, body["pendingDelivery"])
}

func TestGetScheduleMergesWithoutAuth(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{schedules: []model.Schedule{
		{ID: "s1", UserID: "u1", UpdatedAt: now, Periods: []model.Period{
			{Name: "New", Day: model.DayMonday, StartTime: "08:00", EndTime: "08:45", Duration: 5},
		}},
		{ID: "s2", UserID: "u2", UpdatedAt: now.Add(-time.Hour), Periods: []model.Period{
			{Name: "Old", Day: model.DayMonday, StartTime: "08:00", EndTime: "08:50", Duration: 7},
			{Name: "Late", Day: model.DayFriday, StartTime: "14:00", EndTime: "14:45", Duration: 5},
		}},
	}}
	h := newTestHandler(repo, &stubBus{})

	req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
	rec := httptest.NewRecorder()
	h.GetSchedule(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(2), body["count"])

	sched := body["schedule"].(map[string]any)
	periods := sched["periods"].([]any)
	require.Len(t, periods, 2)
	first := periods[0].(map[string]any)
	require.Equal(t, "New", first["name"])
}

func TestGetScheduleEmptyStore(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
	rec := httptest.NewRecorder()
	h.GetSchedule(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(0), body["count"])

	sched := body["schedule"].(map[string]any)
	require.NotNil(t, sched["periods"])
	require.Empty(t, sched["periods"])
}

func TestMySchedulesReturnsOwnRowsOnly(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{schedules: []model.Schedule{
		{ID: "s1", UserID: "teacher@example.edu", UpdatedAt: now},
		{ID: "s2", UserID: "someone-else@example.edu", UpdatedAt: now},
	}}
	h := newTestHandler(repo, &stubBus{})

	req := authed(httptest.NewRequest(http.MethodGet, "/api/schedule/mine", nil))
	rec := httptest.NewRecorder()
	h.MySchedules(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["count"])
	rows := body["schedules"].([]any)
	require.Len(t, rows, 1)
	require.Equal(t, "s1", rows[0].(map[string]any)["scheduleId"])
}

func TestClearDayValidatesDay(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule/day/clear", strings.NewReader(`{"day":"Caturday"}`)))
	rec := httptest.NewRecorder()
	h.ClearDay(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearDaySucceeds(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule/day/clear", strings.NewReader(`{"day":"Monday"}`)))
	rec := httptest.NewRecorder()
	h.ClearDay(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["updated"])
}

func TestClearAllReportsCount(t *testing.T) {
	h := newTestHandler(&stubRepo{cleared: 4}, &stubBus{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule/clear", nil))
	rec := httptest.NewRecorder()
	h.ClearAll(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(4), body["deletedCount"])
}

func TestRingNowDefaultsDuration(t *testing.T) {
	publisher := &stubBus{}
	h := newTestHandler(&stubRepo{}, publisher)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/ring", strings.NewReader(`{}`)))
	rec := httptest.NewRecorder()
	h.RingNow(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(5), body["duration"])
	require.Equal(t, []string{bus.TopicRingNow}, publisher.published)
}

func TestRingNowRejectsOutOfRangeDuration(t *testing.T) {
	publisher := &stubBus{}
	h := newTestHandler(&stubRepo{}, publisher)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/ring", strings.NewReader(`{"duration":31}`)))
	rec := httptest.NewRecorder()
	h.RingNow(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, publisher.published)
}

func TestRingNowSurfacesDeliveryFailure(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{err: bus.ErrConnectTimeout})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/ring", strings.NewReader(`{"duration":10}`)))
	rec := httptest.NewRecorder()
	h.RingNow(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	require.Contains(t, body["message"], "Failed to reach the bell system")
}

func TestSyncTimeUsesResolverByDefault(t *testing.T) {
	publisher := &stubBus{}
	h := newTestHandler(&stubRepo{}, publisher)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/time/sync", nil))
	rec := httptest.NewRecorder()
	h.SyncTime(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "09:30:00", body["time"])
	require.Equal(t, []string{bus.TopicTimeSync}, publisher.published)
}

func TestSyncTimeManualOverride(t *testing.T) {
	h := newTestHandler(&stubRepo{}, &stubBus{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/time/sync", strings.NewReader(`{"hour":14,"minute":5}`)))
	rec := httptest.NewRecorder()
	h.SyncTime(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "14:05:00", body["time"])
}

func TestReconcileDrainsPending(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{schedules: []model.Schedule{
		{ID: "s1", UserID: "u1", CreatedAt: now, UpdatedAt: now, Periods: []model.Period{
			{Name: "P1", Day: model.DayMonday, StartTime: "08:00", EndTime: "08:45", Duration: 5},
		}},
	}}
	publisher := &stubBus{}
	h := newTestHandler(repo, publisher)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/schedule/deliver", nil))
	rec := httptest.NewRecorder()
	h.Reconcile(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	stats := body["deliveryStats"].(map[string]any)
	require.Equal(t, float64(1), stats["delivered"])
	require.Equal(t, float64(0), stats["failed"])
	require.Equal(t, []string{bus.TopicScheduleUpdate}, publisher.published)
}
