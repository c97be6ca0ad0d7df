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

type PaymentRepo struct {
	db *bun.DB
}

func NewPaymentRepo(db *bun.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

var (
	_ store.PaymentRepository     = (*PaymentRepo)(nil)
	_ store.TransactionRepository = (*PaymentRepo)(nil)
)

type paymentTx struct {
	tx bun.Tx
}

func (r *PaymentRepo) InPaymentTransaction(ctx context.Context, fn func(ctx context.Context, tx store.PaymentTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, paymentTx{tx: tx})
	})
}

func (p paymentTx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, p.tx, id)
}

func (p paymentTx) FindBookingByReference(ctx context.Context, reference string) (domain.Booking, error) {
	var b domain.Booking
	err := p.tx.NewSelect().
		Model(&b).
		Where("payment_reference = ?", reference).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, mapReadError(err)
	}
	return b, nil
}

func (p paymentTx) MarkPaid(ctx context.Context, id uuid.UUID, reference string) (domain.Booking, bool, error) {
	var out domain.Booking
	err := p.tx.NewUpdate().
		Model(&out).
		Set("payment_status = ?", domain.PaymentStatusPaid).
		Set("status = CASE WHEN status IN (?, ?) THEN status ELSE ? END",
			domain.BookingStatusCancelled, domain.BookingStatusCompleted, domain.BookingStatusConfirmed).
		Set("payment_reference = ?", reference).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("payment_status IN (?, ?)", domain.PaymentStatusPending, domain.PaymentStatusFailed).
		Returning("*").
		Scan(ctx)
	return p.settle(ctx, id, out, err)
}

func (p paymentTx) MarkFailed(ctx context.Context, id uuid.UUID, reference string) (domain.Booking, bool, error) {
	var out domain.Booking
	err := p.tx.NewUpdate().
		Model(&out).
		Set("payment_status = ?", domain.PaymentStatusFailed).
		Set("payment_reference = COALESCE(payment_reference, ?)", reference).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("payment_status = ?", domain.PaymentStatusPending).
		Returning("*").
		Scan(ctx)
	return p.settle(ctx, id, out, err)
}

// settle turns a conditional update result into (booking, transitioned). A
// miss re-reads the row so callers always see the current state.
func (p paymentTx) settle(ctx context.Context, id uuid.UUID, updated domain.Booking, err error) (domain.Booking, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := p.GetBooking(ctx, id)
		if getErr != nil {
			return domain.Booking{}, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, err
	}
	return updated, true, nil
}

func (p paymentTx) InsertTransactionIfAbsent(ctx context.Context, t domain.Transaction) (domain.Transaction, bool, error) {
	return insertTransactionIfAbsent(ctx, p.tx, t)
}

func (r *PaymentRepo) InsertTransactionIfAbsent(ctx context.Context, t domain.Transaction) (domain.Transaction, bool, error) {
	return insertTransactionIfAbsent(ctx, r.db, t)
}

func insertTransactionIfAbsent(ctx context.Context, db bun.IDB, t domain.Transaction) (domain.Transaction, bool, error) {
	res, err := db.NewInsert().
		Model(&t).
		On("CONFLICT (reference) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Transaction{}, false, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if affected == 1 {
		return t, true, nil
	}
	existing, err := transactionByReference(ctx, db, t.Reference)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	return existing, false, nil
}

func (r *PaymentRepo) GetTransactionByReference(ctx context.Context, reference string) (domain.Transaction, error) {
	return transactionByReference(ctx, r.db, reference)
}

func transactionByReference(ctx context.Context, db bun.IDB, reference string) (domain.Transaction, error) {
	var t domain.Transaction
	err := db.NewSelect().
		Model(&t).
		Where("reference = ?", reference).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Transaction{}, mapReadError(err)
	}
	return t, nil
}

func (r *PaymentRepo) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	var rows []domain.Transaction
	q := r.db.NewSelect().Model(&rows)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.BookingID != uuid.Nil {
		q = q.Where("booking_id = ?", filter.BookingID)
	}
	err := q.OrderExpr("created_at DESC").
		Limit(clampLimit(filter.Limit)).
		Offset(max(filter.Offset, 0)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
