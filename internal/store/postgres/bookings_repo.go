package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

var _ store.BookingRepository = (*BookingRepo)(nil)

type bookingTx struct {
	scheduleQueries
	tx bun.Tx
}

// InDateTransaction serializes every booking write for one appointment date.
// The partial unique index on (appointment_date, appointment_time) still
// backs it up for writers that skip the lock.
func (r *BookingRepo) InDateTransaction(ctx context.Context, date domain.Date, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockBookingDate(ctx, tx, date); err != nil {
			return err
		}
		return fn(ctx, bookingTx{scheduleQueries: scheduleQueries{db: tx}, tx: tx})
	})
}

func lockBookingDate(ctx context.Context, tx bun.Tx, date domain.Date) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "bookings:"+date.String()).Exec(ctx)
	return err
}

func (t bookingTx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t bookingTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if _, err := t.tx.NewInsert().Model(&b).Exec(ctx); err != nil {
		return domain.Booking{}, mapWriteError(err)
	}
	return b, nil
}

func (r *BookingRepo) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, r.db, id)
}

func getBooking(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := db.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, mapReadError(err)
	}
	return b, nil
}

func (r *BookingRepo) ListBookings(ctx context.Context, filter store.BookingFilter) ([]domain.Booking, error) {
	var rows []domain.Booking
	q := r.db.NewSelect().Model(&rows)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.PaymentStatus != "" {
		q = q.Where("payment_status = ?", filter.PaymentStatus)
	}
	q = dateRange(q, "appointment_date", filter.From, filter.To)

	err := q.OrderExpr("appointment_date DESC, appointment_time DESC").
		Limit(clampLimit(filter.Limit)).
		Offset(max(filter.Offset, 0)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	return compareAndSetBooking(ctx, r.db, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", to).Where("status = ?", from)
	})
}

func (r *BookingRepo) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus) (domain.Booking, error) {
	return compareAndSetBooking(ctx, r.db, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("payment_status = ?", to).Where("payment_status = ?", from)
	})
}

func (r *BookingRepo) SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (domain.Booking, error) {
	return compareAndSetBooking(ctx, r.db, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("payment_reference = ?", reference)
	})
}

func (r *BookingRepo) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Booking)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// compareAndSetBooking runs a single conditional UPDATE ... RETURNING. When no
// row matches it tells a missing booking (ErrNotFound) apart from one whose
// state moved on (ErrConflict).
func compareAndSetBooking(ctx context.Context, db bun.IDB, id uuid.UUID, apply func(*bun.UpdateQuery) *bun.UpdateQuery) (domain.Booking, error) {
	var out domain.Booking
	q := db.NewUpdate().
		Model(&out).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	err := apply(q).Returning("*").Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		exists, existsErr := db.NewSelect().
			Model((*domain.Booking)(nil)).
			Where("id = ?", id).
			Exists(ctx)
		if existsErr != nil {
			return domain.Booking{}, existsErr
		}
		if !exists {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, store.ErrConflict
	}
	if err != nil {
		return domain.Booking{}, mapWriteError(err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
