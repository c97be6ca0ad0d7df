package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

// scheduleQueries answers store.ScheduleReader against either the pool or an
// open transaction.
type scheduleQueries struct {
	db bun.IDB
}

func (q scheduleQueries) IsDateBlocked(ctx context.Context, date domain.Date) (bool, error) {
	return q.db.NewSelect().
		Model((*domain.BlockedDate)(nil)).
		Where("date = ?", date).
		Exists(ctx)
}

func (q scheduleQueries) BlockedWeekdays(ctx context.Context) (domain.WeekdaySet, error) {
	var setting domain.Setting
	err := q.db.NewSelect().
		Model(&setting).
		Where("key = ?", domain.SettingBlockedWeekdays).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var days domain.WeekdaySet
	if err := json.Unmarshal(setting.Value, &days); err != nil {
		return 0, fmt.Errorf("decode %s setting: %w", domain.SettingBlockedWeekdays, err)
	}
	return days, nil
}

func (q scheduleQueries) ListWindows(ctx context.Context, date domain.Date) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := q.db.NewSelect().
		Model(&rows).
		Where("date = ?", date).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (q scheduleQueries) ListActiveBookings(ctx context.Context, date domain.Date) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := q.db.NewSelect().
		Model(&rows).
		Where("appointment_date = ?", date).
		Where("status <> ?", domain.BookingStatusCancelled).
		OrderExpr("appointment_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type ScheduleRepo struct {
	scheduleQueries
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{scheduleQueries: scheduleQueries{db: db}, db: db}
}

var _ store.ScheduleRepository = (*ScheduleRepo)(nil)

func dateRange(q *bun.SelectQuery, column string, from, to domain.Date) *bun.SelectQuery {
	if !from.IsZero() {
		q = q.Where("? >= ?", bun.Ident(column), from)
	}
	if !to.IsZero() {
		q = q.Where("? <= ?", bun.Ident(column), to)
	}
	return q
}

func (r *ScheduleRepo) ListBlockedDates(ctx context.Context, from, to domain.Date) ([]domain.BlockedDate, error) {
	var rows []domain.BlockedDate
	q := r.db.NewSelect().Model(&rows)
	err := dateRange(q, "date", from, to).OrderExpr("date ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) BlockDate(ctx context.Context, blocked domain.BlockedDate) (domain.BlockedDate, error) {
	if _, err := r.db.NewInsert().Model(&blocked).Exec(ctx); err != nil {
		return domain.BlockedDate{}, mapWriteError(err)
	}
	return blocked, nil
}

func (r *ScheduleRepo) UnblockDate(ctx context.Context, date domain.Date) error {
	res, err := r.db.NewDelete().
		Model((*domain.BlockedDate)(nil)).
		Where("date = ?", date).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *ScheduleRepo) SetBlockedWeekdays(ctx context.Context, days domain.WeekdaySet) error {
	value, err := json.Marshal(days)
	if err != nil {
		return err
	}
	setting := domain.Setting{
		Key:       domain.SettingBlockedWeekdays,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = r.db.NewInsert().
		Model(&setting).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *ScheduleRepo) ListWindowsBetween(ctx context.Context, from, to domain.Date) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	q := r.db.NewSelect().Model(&rows)
	err := dateRange(q, "date", from, to).OrderExpr("date ASC, start_time ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertWindow is keyed by (date, start_time); an existing window keeps its id.
func (r *ScheduleRepo) UpsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	err := r.db.NewInsert().
		Model(&w).
		On("CONFLICT (date, start_time) DO UPDATE").
		Set("end_time = EXCLUDED.end_time").
		Set("is_available = EXCLUDED.is_available").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, mapWriteError(err)
	}
	return w, nil
}

func (r *ScheduleRepo) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.AvailabilityWindow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *ScheduleRepo) ListActiveBookingsBetween(ctx context.Context, from, to domain.Date) ([]domain.Booking, error) {
	var rows []domain.Booking
	q := r.db.NewSelect().
		Model(&rows).
		Where("status <> ?", domain.BookingStatusCancelled)
	err := dateRange(q, "appointment_date", from, to).
		OrderExpr("appointment_date ASC, appointment_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
