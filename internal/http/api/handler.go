// Package api exposes the dashboard and appliance JSON endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/bellgate/internal/auth"
	"github.com/example/bellgate/internal/bell"
	"github.com/example/bellgate/internal/bus"
	httperrors "github.com/example/bellgate/internal/http/errors"
	"github.com/example/bellgate/internal/model"
	"github.com/example/bellgate/internal/reconcile"
	"github.com/example/bellgate/internal/store"
)

// Handler serves the schedule and command endpoints.
type Handler struct {
	svc        *bell.Service
	reconciler *reconcile.Reconciler
}

// NewHandler builds the API handler.
func NewHandler(svc *bell.Service, reconciler *reconcile.Reconciler) *Handler {
	return &Handler{svc: svc, reconciler: reconciler}
}

// StoreSchedule persists the caller's full schedule and reports delivery.
func (h *Handler) StoreSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, r, "Please login to access this feature")
		return
	}

	var body struct {
		Periods []model.Period `json:"periods"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequest(w, r, err, "Invalid JSON format")
		return
	}
	if body.Periods == nil {
		httperrors.BadRequest(w, r, fmt.Errorf("periods missing"), "Schedule data must contain a periods array")
		return
	}

	result, err := h.svc.StoreSchedule(r.Context(), userID, body.Periods)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Schedule stored successfully",
		"stored":          result.Stored,
		"scheduleId":      result.ScheduleID,
		"pendingDelivery": result.PendingDelivery,
		"deliveryStats":   result.DeliveryStats,
		"periodCount":     result.PeriodCount,
	})
}

// GetSchedule serves the merged global schedule for the appliance pull path.
// Unauthenticated: the appliance has no user context.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	merged, err := h.svc.GetSchedule(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schedule":  map[string]any{"periods": merged.Periods},
		"count":     merged.Count,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// MySchedules serves the caller's own stored rows for the dashboard,
// most recent first.
func (h *Handler) MySchedules(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, r, "Please login to access this feature")
		return
	}

	schedules, err := h.svc.GetUserSchedules(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if schedules == nil {
		schedules = []model.Schedule{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// ClearDay removes all periods for one day from the caller's schedule.
func (h *Handler) ClearDay(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, r, "Please login to access this feature")
		return
	}

	var body struct {
		Day string `json:"day"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequest(w, r, err, "Invalid JSON format")
		return
	}
	if body.Day == "" {
		httperrors.BadRequest(w, r, fmt.Errorf("day missing"), "Day is required")
		return
	}

	updated, err := h.svc.ClearDay(r.Context(), userID, body.Day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": updated,
		"message": fmt.Sprintf("Cleared periods for %s", body.Day),
	})
}

// ClearAll deletes every schedule row for the caller.
func (h *Handler) ClearAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, r, "Please login to access this feature")
		return
	}

	count, err := h.svc.ClearAll(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"deletedCount": count,
		"message":      "All schedules cleared",
	})
}

// RingNow publishes an immediate ring command.
func (h *Handler) RingNow(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, r, "Please login to access this feature")
		return
	}

	var body struct {
		Duration *int `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequest(w, r, err, "Invalid JSON format")
		return
	}

	duration := 5
	if body.Duration != nil {
		duration = *body.Duration
	}

	if err := h.svc.RingNow(r.Context(), userID, duration); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"duration":  duration,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"message":   fmt.Sprintf("Bell will ring for %d seconds", duration),
	})
}

// SyncTime pushes the current or caller-supplied time to the appliance.
func (h *Handler) SyncTime(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, r, "Please login to access this feature")
		return
	}

	var body struct {
		Hour   *int `json:"hour"`
		Minute *int `json:"minute"`
		Second *int `json:"second"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httperrors.BadRequest(w, r, err, "Invalid JSON format")
			return
		}
	}

	var manual *bell.ManualTime
	if body.Hour != nil && body.Minute != nil {
		manual = &bell.ManualTime{Hour: *body.Hour, Minute: *body.Minute}
		if body.Second != nil {
			manual.Second = *body.Second
		}
	}

	result, err := h.svc.SyncTime(r.Context(), userID, manual)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"time":      result.Time,
		"timestamp": result.Timestamp,
	})
}

// Reconcile triggers one on-demand drain of pending deliveries.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		httperrors.Unauthorized(w, r, "Please login to access this feature")
		return
	}

	stats, err := h.reconciler.Drain(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"deliveryStats": stats,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidDuration),
		errors.Is(err, model.ErrInvalidTimeRange),
		errors.Is(err, model.ErrMissingDay):
		httperrors.BadRequest(w, r, err, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		httperrors.Internal(w, r, err, "Storage is temporarily unavailable. Please try again.")
	case bus.IsDeliveryError(err):
		httperrors.Internal(w, r, err, "Failed to reach the bell system. Please try again in a moment.")
	default:
		httperrors.Internal(w, r, err, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
