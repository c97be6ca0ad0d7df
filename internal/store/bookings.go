package store

import (
	"context"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
)

type CatalogRepository interface {
	GetService(ctx context.Context, id uuid.UUID) (domain.Service, error)
	ListActiveServices(ctx context.Context) ([]domain.Service, error)
}

// ScheduleReader is everything the slot calculator needs to know about one
// date.
type ScheduleReader interface {
	IsDateBlocked(ctx context.Context, date domain.Date) (bool, error)
	BlockedWeekdays(ctx context.Context) (domain.WeekdaySet, error)
	ListWindows(ctx context.Context, date domain.Date) ([]domain.AvailabilityWindow, error)
	ListActiveBookings(ctx context.Context, date domain.Date) ([]domain.Booking, error)
}

// BookingTx is the storage view inside a per-date critical section. No other
// booking for the same date can be inserted until the transaction ends.
type BookingTx interface {
	ScheduleReader
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
}

type BookingFilter struct {
	Status        domain.BookingStatus
	PaymentStatus domain.PaymentStatus
	From          domain.Date
	To            domain.Date
	Limit         int
	Offset        int
}

type BookingRepository interface {
	InDateTransaction(ctx context.Context, date domain.Date, fn func(ctx context.Context, tx BookingTx) error) error

	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]domain.Booking, error)

	// UpdateStatus moves the booking from one status to another and returns
	// ErrConflict if it was no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus) (domain.Booking, error)
	SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (domain.Booking, error)
	DeleteBooking(ctx context.Context, id uuid.UUID) error
}
