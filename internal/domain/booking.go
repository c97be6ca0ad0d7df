package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether an admin may move a booking from s to next.
// Completed and cancelled bookings are terminal.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Booking is one customer appointment. Service name, price and duration are
// copied from the service when the booking is created so later catalogue edits
// do not rewrite history.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID               uuid.UUID       `bun:"id,pk,type:uuid"`
	ServiceID        uuid.UUID       `bun:"service_id,notnull,type:uuid"`
	ServiceName      string          `bun:"service_name,notnull"`
	Price            decimal.Decimal `bun:"price,notnull,type:numeric(12,2)"`
	DurationMinutes  int             `bun:"duration_minutes,notnull"`
	CustomerName     string          `bun:"customer_name,notnull"`
	CustomerEmail    string          `bun:"customer_email,notnull"`
	CustomerPhone    string          `bun:"customer_phone,notnull"`
	AppointmentDate  Date            `bun:"appointment_date,notnull,type:date"`
	AppointmentTime  ClockTime       `bun:"appointment_time,notnull"`
	Status           BookingStatus   `bun:"status,notnull"`
	PaymentStatus    PaymentStatus   `bun:"payment_status,notnull"`
	PaymentReference *string         `bun:"payment_reference"`
	Notes            *string         `bun:"notes"`
	CreatedAt        time.Time       `bun:"created_at,notnull"`
	UpdatedAt        time.Time       `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// Occupies returns the minutes of the day the appointment blocks.
func (b Booking) Occupies() Interval {
	start := int(b.AppointmentTime)
	return Interval{Start: start, End: start + b.DurationMinutes}
}

// ShortReference is the human-facing booking code used in emails.
func (b Booking) ShortReference() string {
	return strings.ToUpper(b.ID.String()[:8])
}

func (b Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentStatusPaid
}
