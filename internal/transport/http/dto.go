package http

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/payments"
)

type serviceResponse struct {
	ID              uuid.UUID       `json:"id"`
	CategoryID      *uuid.UUID      `json:"category_id,omitempty"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
	Popular         bool            `json:"popular"`
}

func toServiceResponse(s domain.Service) serviceResponse {
	return serviceResponse{
		ID:              s.ID,
		CategoryID:      s.CategoryID,
		Name:            s.Name,
		Description:     s.Description,
		Price:           s.Price,
		DurationMinutes: s.Duration(),
		Popular:         s.Popular,
	}
}

type bookingResponse struct {
	ID               uuid.UUID            `json:"id"`
	Reference        string               `json:"reference"`
	ServiceID        uuid.UUID            `json:"service_id"`
	ServiceName      string               `json:"service_name"`
	Price            decimal.Decimal      `json:"price"`
	DurationMinutes  int                  `json:"duration_minutes"`
	CustomerName     string               `json:"customer_name"`
	CustomerEmail    string               `json:"customer_email"`
	CustomerPhone    string               `json:"customer_phone"`
	AppointmentDate  domain.Date          `json:"appointment_date"`
	AppointmentTime  domain.ClockTime     `json:"appointment_time"`
	Status           domain.BookingStatus `json:"status"`
	PaymentStatus    domain.PaymentStatus `json:"payment_status"`
	PaymentReference *string              `json:"payment_reference"`
	Notes            *string              `json:"notes"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:               b.ID,
		Reference:        b.ShortReference(),
		ServiceID:        b.ServiceID,
		ServiceName:      b.ServiceName,
		Price:            b.Price,
		DurationMinutes:  b.DurationMinutes,
		CustomerName:     b.CustomerName,
		CustomerEmail:    b.CustomerEmail,
		CustomerPhone:    b.CustomerPhone,
		AppointmentDate:  b.AppointmentDate,
		AppointmentTime:  b.AppointmentTime,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		PaymentReference: b.PaymentReference,
		Notes:            b.Notes,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func toBookingResponses(in []domain.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(in))
	for _, b := range in {
		out = append(out, toBookingResponse(b))
	}
	return out
}

type createBookingResponse struct {
	Booking      bookingResponse    `json:"booking"`
	Payment      *payments.Checkout `json:"payment,omitempty"`
	PaymentError string             `json:"payment_error,omitempty"`
}

type slotsResponse struct {
	Date     domain.Date              `json:"date"`
	Duration int                      `json:"duration"`
	Slots    []domain.ClockTime       `json:"slots"`
	Blocked  bool                     `json:"blocked"`
	Reason   availability.BlockReason `json:"reason,omitempty"`
}

type verifyResponse struct {
	Verified      bool                     `json:"verified"`
	Status        domain.TransactionStatus `json:"status"`
	BookingID     uuid.UUID                `json:"booking_id"`
	PaymentStatus domain.PaymentStatus     `json:"payment_status"`
	Amount        decimal.Decimal          `json:"amount"`
	Currency      string                   `json:"currency"`
}

type blockedDateResponse struct {
	ID        uuid.UUID   `json:"id"`
	Date      domain.Date `json:"date"`
	Reason    *string     `json:"reason"`
	CreatedAt time.Time   `json:"created_at"`
}

func toBlockedDateResponse(b domain.BlockedDate) blockedDateResponse {
	return blockedDateResponse{ID: b.ID, Date: b.Date, Reason: b.Reason, CreatedAt: b.CreatedAt}
}

type windowResponse struct {
	ID          uuid.UUID        `json:"id"`
	Date        domain.Date      `json:"date"`
	StartTime   domain.ClockTime `json:"start_time"`
	EndTime     domain.ClockTime `json:"end_time"`
	IsAvailable bool             `json:"is_available"`
}

func toWindowResponse(w domain.AvailabilityWindow) windowResponse {
	return windowResponse{ID: w.ID, Date: w.Date, StartTime: w.StartTime, EndTime: w.EndTime, IsAvailable: w.IsAvailable}
}

type transactionResponse struct {
	ID            uuid.UUID                `json:"id"`
	BookingID     *uuid.UUID               `json:"booking_id"`
	Reference     string                   `json:"reference"`
	Amount        decimal.Decimal          `json:"amount"`
	Currency      string                   `json:"currency"`
	Status        domain.TransactionStatus `json:"status"`
	CustomerEmail string                   `json:"customer_email"`
	ServiceName   string                   `json:"service_name"`
	Payload       json.RawMessage          `json:"payload,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
}

func toTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		BookingID:     t.BookingID,
		Reference:     t.Reference,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        t.Status,
		CustomerEmail: t.CustomerEmail,
		ServiceName:   t.ServiceName,
		Payload:       t.Payload,
		CreatedAt:     t.CreatedAt,
	}
}

type statusRequest struct {
	Status domain.BookingStatus `json:"status"`
}

type blockDateRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type weekdaysRequest struct {
	Weekdays []int `json:"weekdays"`
}

type windowRequest struct {
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable *bool  `json:"is_available"`
}

type initializeRequest struct {
	BookingID string `json:"booking_id"`
}

type verifyRequest struct {
	Reference string `json:"reference"`
	BookingID string `json:"booking_id"`
}
