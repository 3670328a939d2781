package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/bellgate/internal/model"
)

// ScheduleRepository is the single source of truth for persisted schedules.
// Every row doubles as its own pending-delivery record, so the pending-retry
// queries operate on the same table as the schedule reads.
type ScheduleRepository interface {
	// Put destructively replaces the user's schedule: all prior rows for the
	// user are deleted and a single new row is inserted with delivered=false
	// and a zeroed attempt counter. Periods are de-duplicated by
	// (day, startTime) before insert.
	Put(ctx context.Context, userID string, periods []model.Period) (*model.Schedule, error)

	// GetAll returns the user's schedule rows, most recent first.
	GetAll(ctx context.Context, userID string) ([]model.Schedule, error)

	// GetAllGlobal returns the most recent rows across all users, bounded by
	// limit. This backs the appliance pull path, which has no user context.
	GetAllGlobal(ctx context.Context, limit int) ([]model.Schedule, error)

	// RemoveDayPeriods filters out periods for the given day from every row
	// belonging to the user, persisting only rows that actually changed.
	RemoveDayPeriods(ctx context.Context, userID, day string) (bool, error)

	// ClearAll deletes every schedule row for the user and reports the count.
	ClearAll(ctx context.Context, userID string) (int64, error)

	// ListPending returns undelivered rows whose attempt counter is below
	// maxAttempts, oldest first.
	ListPending(ctx context.Context, maxAttempts int) ([]model.Schedule, error)

	// MarkDelivered records a successful delivery. Idempotent on the
	// delivered flag; the attempt counter increments on every call.
	MarkDelivered(ctx context.Context, scheduleID string) error

	// MarkAttemptFailed increments the attempt counter only.
	MarkAttemptFailed(ctx context.Context, scheduleID string) error
}

type scheduleRepo struct {
	pool PgxPool
}

const scheduleColumns = `id, user_id, periods, created_at, updated_at, delivered, delivery_attempts, delivered_at`

func (r *scheduleRepo) Put(ctx context.Context, userID string, periods []model.Period) (sched *model.Schedule, err error) {
	defer observeDB(ctx, "db.schedules.put")()

	deduped := model.Dedupe(periods)
	blob, err := json.Marshal(deduped)
	if err != nil {
		return nil, fmt.Errorf("encode periods: %w", err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, unavailable("put schedule", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = unavailable("put schedule", e)
			sched = nil
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM schedules WHERE user_id=$1`, userID); err != nil {
		return nil, unavailable("put schedule", err)
	}

	const ins = `INSERT INTO schedules (id, user_id, periods, created_at, updated_at, delivered, delivery_attempts)
VALUES ($1, $2, $3, $4, $4, false, 0)`
	if _, err = tx.Exec(ctx, ins, id, userID, blob, now); err != nil {
		return nil, unavailable("put schedule", err)
	}

	return &model.Schedule{
		ID:        id,
		UserID:    userID,
		Periods:   deduped,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *scheduleRepo) GetAll(ctx context.Context, userID string) ([]model.Schedule, error) {
	defer observeDB(ctx, "db.schedules.get_all")()

	const q = `SELECT ` + scheduleColumns + ` FROM schedules WHERE user_id=$1 ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, unavailable("get schedules", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (r *scheduleRepo) GetAllGlobal(ctx context.Context, limit int) ([]model.Schedule, error) {
	defer observeDB(ctx, "db.schedules.get_all_global")()

	const q = `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY updated_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, unavailable("get global schedules", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (r *scheduleRepo) RemoveDayPeriods(ctx context.Context, userID, day string) (changed bool, err error) {
	defer observeDB(ctx, "db.schedules.remove_day")()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, unavailable("remove day periods", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = unavailable("remove day periods", e)
			changed = false
		}
	}()

	const sel = `SELECT id, periods FROM schedules WHERE user_id=$1 FOR UPDATE`
	rows, err := tx.Query(ctx, sel, userID)
	if err != nil {
		return false, unavailable("remove day periods", err)
	}

	type update struct {
		id   string
		blob []byte
	}
	var updates []update
	for rows.Next() {
		var id string
		var blob []byte
		if err = rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return false, unavailable("remove day periods", err)
		}
		var periods []model.Period
		if err = json.Unmarshal(blob, &periods); err != nil {
			rows.Close()
			return false, fmt.Errorf("decode periods for %s: %w", id, err)
		}
		kept := periods[:0]
		for _, p := range periods {
			if p.Day != day {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(periods) {
			continue
		}
		var newBlob []byte
		if newBlob, err = json.Marshal(kept); err != nil {
			rows.Close()
			return false, fmt.Errorf("encode periods for %s: %w", id, err)
		}
		updates = append(updates, update{id: id, blob: newBlob})
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return false, unavailable("remove day periods", err)
	}

	const upd = `UPDATE schedules SET periods=$2, updated_at=$3 WHERE id=$1`
	now := time.Now().UTC()
	for _, u := range updates {
		if _, err = tx.Exec(ctx, upd, u.id, u.blob, now); err != nil {
			return false, unavailable("remove day periods", err)
		}
	}

	return len(updates) > 0, nil
}

func (r *scheduleRepo) ClearAll(ctx context.Context, userID string) (int64, error) {
	defer observeDB(ctx, "db.schedules.clear_all")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE user_id=$1`, userID)
	if err != nil {
		return 0, unavailable("clear schedules", err)
	}
	return tag.RowsAffected(), nil
}

func (r *scheduleRepo) ListPending(ctx context.Context, maxAttempts int) ([]model.Schedule, error) {
	defer observeDB(ctx, "db.schedules.list_pending")()

	const q = `SELECT ` + scheduleColumns + ` FROM schedules
WHERE delivered=false AND delivery_attempts < $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, maxAttempts)
	if err != nil {
		return nil, unavailable("list pending", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (r *scheduleRepo) MarkDelivered(ctx context.Context, scheduleID string) error {
	defer observeDB(ctx, "db.schedules.mark_delivered")()

	const q = `UPDATE schedules SET delivered=true, delivered_at=$2, delivery_attempts=delivery_attempts+1 WHERE id=$1`
	tag, err := r.pool.Exec(ctx, q, scheduleID, time.Now().UTC())
	if err != nil {
		return unavailable("mark delivered", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark delivered %s: %w", scheduleID, ErrNotFound)
	}
	return nil
}

func (r *scheduleRepo) MarkAttemptFailed(ctx context.Context, scheduleID string) error {
	defer observeDB(ctx, "db.schedules.mark_attempt_failed")()

	const q = `UPDATE schedules SET delivery_attempts=delivery_attempts+1 WHERE id=$1`
	tag, err := r.pool.Exec(ctx, q, scheduleID)
	if err != nil {
		return unavailable("mark attempt failed", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark attempt failed %s: %w", scheduleID, ErrNotFound)
	}
	return nil
}

func scanSchedules(rows pgx.Rows) ([]model.Schedule, error) {
	var out []model.Schedule
	for rows.Next() {
		var (
			s    model.Schedule
			blob []byte
		)
		if err := rows.Scan(&s.ID, &s.UserID, &blob, &s.CreatedAt, &s.UpdatedAt, &s.Delivered, &s.DeliveryAttempts, &s.DeliveredAt); err != nil {
			return nil, unavailable("scan schedule", err)
		}
		if err := json.Unmarshal(blob, &s.Periods); err != nil {
			return nil, fmt.Errorf("decode periods for %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan schedules", err)
	}
	return out, nil
}
