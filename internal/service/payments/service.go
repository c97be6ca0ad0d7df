// Package payments starts checkouts with the payment provider and reconciles
// provider outcomes onto bookings.
//
// Customer verify calls and provider webhooks are two producers of the same
// Signal. Both end in Reconcile, which re-verifies the reference with the
// provider and applies the outcome with a conditional update, so any number of
// duplicate signals confirm a booking at most once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/paystack"
	"salonbook/backend/internal/service/transactions"
	"salonbook/backend/internal/store"
)

var tracer = otel.Tracer("salonbook/service/payments")

type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (paystack.Transaction, error)
}

type Recorder interface {
	RecordWith(ctx context.Context, w store.TransactionWriter, e transactions.Entry) (domain.Transaction, bool, error)
}

type Notifier interface {
	BookingConfirmed(ctx context.Context, b domain.Booking)
}

type Config struct {
	Currency       string
	CallbackURL    string
	DepositPercent decimal.Decimal
	VerifyTimeout  time.Duration
	WebhookSecret  string
	Now            func() time.Time
}

type Service struct {
	bookings store.BookingRepository
	payments store.PaymentRepository
	gateway  Gateway
	recorder Recorder
	notifier Notifier
	sink     SignalSink
	cfg      Config
	logger   *slog.Logger
}

func NewService(bookings store.BookingRepository, payments store.PaymentRepository, gateway Gateway, recorder Recorder, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "GHS"
	}
	if cfg.DepositPercent.IsZero() {
		cfg.DepositPercent = decimal.NewFromInt(100)
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		bookings: bookings,
		payments: payments,
		gateway:  gateway,
		recorder: recorder,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "payments"),
	}
	s.sink = DirectSink{Service: s}
	return s
}

// SetSink routes webhook signals through sink instead of reconciling inline.
func (s *Service) SetSink(sink SignalSink) {
	if sink == nil {
		sink = DirectSink{Service: s}
	}
	s.sink = sink
}

// ExpectedAmount is the amount in minor units the customer is asked to pay.
func (s *Service) ExpectedAmount(b domain.Booking) int64 {
	return domain.MinorUnits(domain.Deposit(b.Price, s.cfg.DepositPercent))
}

type Checkout struct {
	BookingID        uuid.UUID `json:"booking_id"`
	Reference        string    `json:"reference"`
	AuthorizationURL string    `json:"authorization_url"`
	AccessCode       string    `json:"access_code"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
}

// Initialize opens a provider checkout for the booking and stores the new
// reference on it.
func (s *Service) Initialize(ctx context.Context, bookingID uuid.UUID) (Checkout, error) {
	ctx, span := tracer.Start(ctx, "payments.Initialize")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID.String()))

	if bookingID == uuid.Nil {
		return Checkout{}, failure.Validation("booking_id is required")
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return Checkout{}, failure.NotFound("booking")
	}
	if err != nil {
		return Checkout{}, failure.Internal(err)
	}
	switch {
	case b.PaymentStatus == domain.PaymentStatusPaid || b.PaymentStatus == domain.PaymentStatusRefunded:
		return Checkout{}, failure.Conflict("booking is already paid")
	case b.Status == domain.BookingStatusCancelled:
		return Checkout{}, failure.Conflict("booking is cancelled")
	}
	amount := s.ExpectedAmount(b)
	if amount <= 0 {
		return Checkout{}, failure.Conflict("booking has nothing to pay")
	}

	reference := fmt.Sprintf("booking_%s_%d", b.ID, s.cfg.Now().UnixMilli())
	req := paystack.InitializeRequest{
		Email:       b.CustomerEmail,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Reference:   reference,
		CallbackURL: callbackURL(s.cfg.CallbackURL, b.ID),
		Metadata: map[string]any{
			"booking_id":       b.ID.String(),
			"service_id":       b.ServiceID.String(),
			"service_name":     b.ServiceName,
			"customer_name":    b.CustomerName,
			"customer_phone":   b.CustomerPhone,
			"appointment_date": b.AppointmentDate.String(),
			"appointment_time": b.AppointmentTime.String(),
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()
	res, err := s.gateway.Initialize(callCtx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "payment initialization failed", "booking_id", b.ID, "err", err)
		return Checkout{}, failure.Upstream("payment initialization failed", paystack.IsTemporary(err), err)
	}
	if res.Reference != "" {
		reference = res.Reference
	}

	if _, err := s.bookings.SetPaymentReference(ctx, b.ID, reference); err != nil {
		return Checkout{}, failure.Internal(err)
	}
	s.logger.InfoContext(ctx, "payment initialized", "booking_id", b.ID, "reference", reference, "amount", amount)

	return Checkout{
		BookingID:        b.ID,
		Reference:        reference,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Amount:           amount,
		Currency:         s.cfg.Currency,
	}, nil
}

func callbackURL(base string, bookingID uuid.UUID) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("bookingId", bookingID.String())
	u.RawQuery = q.Encode()
	return u.String()
}

type Source string

const (
	SourceVerify  Source = "verify"
	SourceWebhook Source = "webhook"
)

// Signal says a reference may have settled. Its content is never trusted:
// the outcome always comes from the provider.
type Signal struct {
	Reference string    `json:"reference"`
	BookingID uuid.UUID `json:"booking_id"`
	Source    Source    `json:"source"`
}

type Outcome struct {
	Booking      domain.Booking           `json:"-"`
	Status       domain.TransactionStatus `json:"status"`
	Transitioned bool                     `json:"transitioned"`
	Amount       decimal.Decimal          `json:"amount"`
	Currency     string                   `json:"currency"`
	Reason       string                   `json:"reason,omitempty"`
}

// Reconcile verifies sig.Reference with the provider and applies the
// outcome. It is safe to call any number of times for the same reference.
func (s *Service) Reconcile(ctx context.Context, sig Signal) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "payments.Reconcile")
	defer span.End()

	sig.Reference = strings.TrimSpace(sig.Reference)
	if sig.Reference == "" {
		return Outcome{}, failure.Validation("reference is required")
	}
	span.SetAttributes(
		attribute.String("payment.reference", sig.Reference),
		attribute.String("payment.source", string(sig.Source)),
	)
	logger := s.logger.With("reference", sig.Reference, "source", sig.Source)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	verified, err := s.gateway.Verify(callCtx, sig.Reference)
	cancel()
	if err != nil {
		logger.WarnContext(ctx, "payment verification failed", "err", err)
		return Outcome{}, failure.Upstream("payment verification failed", paystack.IsTemporary(err), err)
	}
	if verified.Reference != "" && verified.Reference != sig.Reference {
		return Outcome{}, failure.Upstream("payment provider returned a different reference", false, nil)
	}

	bookingID, err := resolveBookingID(sig, verified)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		Status:   classify(verified.Status),
		Amount:   domain.FromMinorUnits(verified.Amount),
		Currency: strings.ToUpper(verified.Currency),
	}

	err = s.payments.InPaymentTransaction(ctx, func(ctx context.Context, tx store.PaymentTx) error {
		var b domain.Booking
		var err error
		if bookingID != uuid.Nil {
			b, err = tx.GetBooking(ctx, bookingID)
		} else {
			b, err = tx.FindBookingByReference(ctx, sig.Reference)
		}
		if err != nil {
			return err
		}
		out.Booking = b

		if out.Status == domain.TransactionStatusSuccess {
			if reason := s.checkAmount(b, verified); reason != "" {
				logger.WarnContext(ctx, "verified payment does not cover booking",
					"booking_id", b.ID,
					"amount", verified.Amount,
					"currency", verified.Currency,
					"expected", s.ExpectedAmount(b),
				)
				out.Status = domain.TransactionStatusFailed
				out.Reason = reason
			}
		}

		switch out.Status {
		case domain.TransactionStatusSuccess:
			out.Booking, out.Transitioned, err = tx.MarkPaid(ctx, b.ID, sig.Reference)
		case domain.TransactionStatusFailed:
			out.Booking, out.Transitioned, err = tx.MarkFailed(ctx, b.ID, sig.Reference)
		default:
			return nil
		}
		if err != nil {
			return err
		}

		_, _, err = s.recorder.RecordWith(ctx, tx, transactions.Entry{
			BookingID:     b.ID,
			Reference:     sig.Reference,
			Amount:        out.Amount,
			Currency:      out.Currency,
			Status:        out.Status,
			CustomerEmail: firstNonEmpty(verified.Customer.Email, b.CustomerEmail),
			ServiceName:   firstNonEmpty(verified.MetadataString("service_name"), b.ServiceName),
			Payload:       verified.Raw,
		})
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		logger.WarnContext(ctx, "payment reference has no booking", "booking_id", bookingID)
		return Outcome{}, failure.NotFound("booking")
	case failure.KindOf(err) != failure.KindInternal:
		return Outcome{}, err
	default:
		return Outcome{}, failure.Internal(err)
	}

	span.SetAttributes(
		attribute.String("payment.status", string(out.Status)),
		attribute.Bool("payment.transitioned", out.Transitioned),
	)
	logger.InfoContext(ctx, "payment reconciled",
		"booking_id", out.Booking.ID,
		"status", out.Status,
		"transitioned", out.Transitioned,
	)

	if out.Transitioned && out.Status == domain.TransactionStatusSuccess &&
		out.Booking.Status == domain.BookingStatusConfirmed && s.notifier != nil {
		s.notifier.BookingConfirmed(ctx, out.Booking)
	}
	return out, nil
}

func (s *Service) checkAmount(b domain.Booking, verified paystack.Transaction) string {
	if verified.Currency != "" && !strings.EqualFold(verified.Currency, s.cfg.Currency) {
		return "currency_mismatch"
	}
	if verified.Amount < s.ExpectedAmount(b) {
		return "amount_mismatch"
	}
	return ""
}

// resolveBookingID prefers the booking id the provider echoes back in
// metadata. A caller-supplied id must agree with it.
func resolveBookingID(sig Signal, verified paystack.Transaction) (uuid.UUID, error) {
	var fromMeta uuid.UUID
	if raw := verified.MetadataString("booking_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err == nil {
			fromMeta = id
		}
	}
	switch {
	case fromMeta != uuid.Nil && sig.BookingID != uuid.Nil && fromMeta != sig.BookingID:
		return uuid.Nil, failure.Validation("reference does not belong to this booking")
	case fromMeta != uuid.Nil:
		return fromMeta, nil
	default:
		return sig.BookingID, nil
	}
}

func classify(status string) domain.TransactionStatus {
	switch strings.ToLower(status) {
	case paystack.StatusSuccess:
		return domain.TransactionStatusSuccess
	case paystack.StatusFailed, paystack.StatusReversed:
		return domain.TransactionStatusFailed
	default:
		return domain.TransactionStatusPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
