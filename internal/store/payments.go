package store

import (
	"context"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
)

type TransactionWriter interface {
	// InsertTransactionIfAbsent stores t unless a row with the same reference
	// exists, in which case the existing row is returned with created=false.
	InsertTransactionIfAbsent(ctx context.Context, t domain.Transaction) (out domain.Transaction, created bool, err error)
}

type PaymentTx interface {
	TransactionWriter

	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	FindBookingByReference(ctx context.Context, reference string) (domain.Booking, error)

	// MarkPaid sets payment_status=paid only if the booking is still pending or
	// failed. Status becomes confirmed unless the booking was cancelled.
	// transitioned is false when another signal got there first.
	MarkPaid(ctx context.Context, id uuid.UUID, reference string) (b domain.Booking, transitioned bool, err error)
	// MarkFailed sets payment_status=failed only if it is still pending.
	MarkFailed(ctx context.Context, id uuid.UUID, reference string) (b domain.Booking, transitioned bool, err error)
}

type PaymentRepository interface {
	InPaymentTransaction(ctx context.Context, fn func(ctx context.Context, tx PaymentTx) error) error
}

type TransactionFilter struct {
	Status    domain.TransactionStatus
	BookingID uuid.UUID
	Limit     int
	Offset    int
}

type TransactionRepository interface {
	TransactionWriter

	GetTransactionByReference(ctx context.Context, reference string) (domain.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
}
