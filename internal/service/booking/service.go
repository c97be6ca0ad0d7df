// Package booking owns the booking ledger: it accepts new bookings against
// the slot calculator and moves existing ones through their lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/store"
	"salonbook/backend/internal/validation"
)

var tracer = otel.Tracer("salonbook/service/booking")

const (
	msgDateUnavailable = "This date is not available for bookings"
	msgSlotUnavailable = "This time slot is no longer available"
)

// Slots is the part of the availability service the ledger depends on.
type Slots interface {
	Evaluate(ctx context.Context, r store.ScheduleReader, date domain.Date, duration int) (availability.Result, error)
	InvalidateCalendar(ctx context.Context)
	Location() *time.Location
}

type Notifier interface {
	BookingReceived(ctx context.Context, b domain.Booking)
}

type Service struct {
	bookings store.BookingRepository
	catalog  store.CatalogRepository
	slots    Slots
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(bookings store.BookingRepository, catalog store.CatalogRepository, slots Slots, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		bookings: bookings,
		catalog:  catalog,
		slots:    slots,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With("component", "booking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	ServiceID       string `json:"service_id" validate:"required,uuid"`
	CustomerName    string `json:"customer_name" validate:"required,max=120"`
	CustomerEmail   string `json:"customer_email" validate:"required,email,max=254"`
	CustomerPhone   string `json:"customer_phone" validate:"required,min=7,max=20"`
	AppointmentDate string `json:"appointment_date" validate:"required"`
	AppointmentTime string `json:"appointment_time" validate:"required"`
	Notes           string `json:"notes" validate:"max=1000"`
	// IdempotencyKey makes retried submissions return the booking created by
	// the first attempt.
	IdempotencyKey string `json:"-" validate:"max=256"`
}

func (in *CreateInput) normalize() {
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerEmail = strings.ToLower(strings.TrimSpace(in.CustomerEmail))
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.AppointmentDate = strings.TrimSpace(in.AppointmentDate)
	in.AppointmentTime = strings.TrimSpace(in.AppointmentTime)
	in.Notes = strings.TrimSpace(in.Notes)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
}

// Create books a slot. The availability check and the insert run inside one
// per-date critical section so two customers can never hold the same slot.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.Create")
	defer span.End()

	in.normalize()
	if err := validation.Struct(in); err != nil {
		return domain.Booking{}, err
	}
	serviceID, err := uuid.Parse(in.ServiceID)
	if err != nil {
		return domain.Booking{}, failure.Validation("service_id must be a valid id")
	}
	date, err := domain.ParseDate(in.AppointmentDate)
	if err != nil {
		return domain.Booking{}, failure.Validation("appointment_date must be YYYY-MM-DD")
	}
	at, err := domain.ParseClockTime(in.AppointmentTime)
	if err != nil {
		return domain.Booking{}, failure.Validation("appointment_time must be HH:MM")
	}
	span.SetAttributes(
		attribute.String("appointment.date", date.String()),
		attribute.String("appointment.time", at.String()),
	)

	loc := s.slots.Location()
	if !date.At(at, loc).After(s.now()) {
		return domain.Booking{}, failure.Validation("appointment must be in the future")
	}

	svc, err := s.catalog.GetService(ctx, serviceID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !svc.Active) {
		return domain.Booking{}, failure.NotFound("service")
	}
	if err != nil {
		return domain.Booking{}, failure.Internal(err)
	}

	b := domain.Booking{
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		Price:           svc.Price,
		DurationMinutes: svc.Duration(),
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		CustomerPhone:   in.CustomerPhone,
		AppointmentDate: date,
		AppointmentTime: at,
		Status:          domain.BookingStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
	}
	if in.Notes != "" {
		notes := in.Notes
		b.Notes = &notes
	}
	if in.IdempotencyKey != "" {
		b.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("salonbook:create_booking:"+in.CustomerEmail+":"+in.IdempotencyKey))
		existing, err := s.bookings.GetBooking(ctx, b.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, failure.Internal(err)
		}
	}

	var (
		created  domain.Booking
		replayed bool
	)
	err = s.bookings.InDateTransaction(ctx, date, func(ctx context.Context, tx store.BookingTx) error {
		// A retry that waited on the date lock behind its first attempt must
		// see that booking before the slot check counts it as taken.
		if in.IdempotencyKey != "" {
			existing, err := tx.GetBooking(ctx, b.ID)
			if err == nil {
				created, replayed = existing, true
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		res, err := s.slots.Evaluate(ctx, tx, date, b.DurationMinutes)
		if err != nil {
			return err
		}
		if res.Blocked {
			if res.Reason == availability.ReasonPast {
				return failure.Validation("appointment must be in the future")
			}
			return failure.Conflict(msgDateUnavailable)
		}
		if !res.Contains(at) {
			return failure.Conflict(msgSlotUnavailable)
		}
		created, err = tx.InsertBooking(ctx, b)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSlotTaken):
		return domain.Booking{}, failure.Conflict(msgSlotUnavailable)
	case errors.Is(err, store.ErrDuplicate) && in.IdempotencyKey != "":
		existing, getErr := s.bookings.GetBooking(ctx, b.ID)
		if getErr != nil {
			return domain.Booking{}, failure.Internal(getErr)
		}
		return existing, nil
	case failure.KindOf(err) != failure.KindInternal:
		return domain.Booking{}, err
	default:
		return domain.Booking{}, failure.Internal(err)
	}
	if replayed {
		return created, nil
	}

	s.logger.Info("booking created",
		"booking_id", created.ID,
		"service", created.ServiceName,
		"date", created.AppointmentDate.String(),
		"time", created.AppointmentTime.String(),
	)
	s.slots.InvalidateCalendar(ctx)
	if s.notifier != nil {
		s.notifier.BookingReceived(ctx, created)
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, failure.Validation("booking id is required")
	}
	b, err := s.bookings.GetBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, failure.NotFound("booking")
	}
	if err != nil {
		return domain.Booking{}, failure.Internal(err)
	}
	return b, nil
}

type ListInput struct {
	Status        string `json:"status" validate:"omitempty,oneof=pending confirmed completed cancelled"`
	PaymentStatus string `json:"payment_status" validate:"omitempty,oneof=pending paid failed refunded"`
	From          string `json:"from"`
	To            string `json:"to"`
	Limit         int    `json:"limit" validate:"gte=0,lte=500"`
	Offset        int    `json:"offset" validate:"gte=0"`
}

// List returns bookings newest appointment first.
func (s *Service) List(ctx context.Context, in ListInput) ([]domain.Booking, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	filter := store.BookingFilter{
		Status:        domain.BookingStatus(in.Status),
		PaymentStatus: domain.PaymentStatus(in.PaymentStatus),
		Limit:         in.Limit,
		Offset:        in.Offset,
	}
	var err error
	if in.From != "" {
		if filter.From, err = domain.ParseDate(in.From); err != nil {
			return nil, failure.Validation("from must be YYYY-MM-DD")
		}
	}
	if in.To != "" {
		if filter.To, err = domain.ParseDate(in.To); err != nil {
			return nil, failure.Validation("to must be YYYY-MM-DD")
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, failure.Validation("to must not be before from")
	}

	out, err := s.bookings.ListBookings(ctx, filter)
	if err != nil {
		return nil, failure.Internal(err)
	}
	return out, nil
}

// UpdateStatus applies an administrator status change. Setting the current
// status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to domain.BookingStatus) (domain.Booking, error) {
	if !to.Valid() {
		return domain.Booking{}, failure.Validation("status must be one of pending confirmed completed cancelled")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if current.Status == to {
		return current, nil
	}
	if !current.Status.CanTransitionTo(to) {
		return domain.Booking{}, failure.Conflict(fmt.Sprintf("cannot change booking status from %s to %s", current.Status, to))
	}

	updated, err := s.bookings.UpdateStatus(ctx, id, current.Status, to)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Booking{}, failure.NotFound("booking")
	case errors.Is(err, store.ErrConflict):
		return domain.Booking{}, failure.Conflict("booking was changed by another request, reload and retry")
	case err != nil:
		return domain.Booking{}, failure.Internal(err)
	}

	s.logger.Info("booking status changed", "booking_id", id, "from", current.Status, "to", to)
	if to == domain.BookingStatusCancelled {
		s.slots.InvalidateCalendar(ctx)
	}
	return updated, nil
}

// MarkRefunded records a refund made outside the system. Only paid bookings
// can be refunded.
func (s *Service) MarkRefunded(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if current.PaymentStatus == domain.PaymentStatusRefunded {
		return current, nil
	}
	if current.PaymentStatus != domain.PaymentStatusPaid {
		return domain.Booking{}, failure.Conflict("only paid bookings can be refunded")
	}

	updated, err := s.bookings.UpdatePaymentStatus(ctx, id, domain.PaymentStatusPaid, domain.PaymentStatusRefunded)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Booking{}, failure.NotFound("booking")
	case errors.Is(err, store.ErrConflict):
		return domain.Booking{}, failure.Conflict("booking was changed by another request, reload and retry")
	case err != nil:
		return domain.Booking{}, failure.Internal(err)
	}
	s.logger.Info("booking refunded", "booking_id", id)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return failure.Validation("booking id is required")
	}
	err := s.bookings.DeleteBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return failure.NotFound("booking")
	}
	if err != nil {
		return failure.Internal(err)
	}
	s.logger.Info("booking deleted", "booking_id", id)
	s.slots.InvalidateCalendar(ctx)
	return nil
}
