// Package http exposes the booking API over chi.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/auth"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/booking"
	"salonbook/backend/internal/service/payments"
	"salonbook/backend/internal/service/transactions"
)

type CatalogService interface {
	ListActiveServices(ctx context.Context) ([]domain.Service, error)
}

type AvailabilityService interface {
	Slots(ctx context.Context, q availability.SlotQuery) (availability.Result, error)
	Calendar(ctx context.Context, from, to domain.Date) (availability.CalendarView, error)
	ListBlockedDates(ctx context.Context, from, to domain.Date) ([]domain.BlockedDate, error)
	BlockDate(ctx context.Context, date domain.Date, reason string) (domain.BlockedDate, error)
	UnblockDate(ctx context.Context, date domain.Date) error
	BlockedWeekdays(ctx context.Context) (domain.WeekdaySet, error)
	SetBlockedWeekdays(ctx context.Context, days []int) (domain.WeekdaySet, error)
	ListWindows(ctx context.Context, from, to domain.Date) ([]domain.AvailabilityWindow, error)
	UpsertWindow(ctx context.Context, in availability.WindowInput) (domain.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, id uuid.UUID) error
}

type BookingService interface {
	Create(ctx context.Context, in booking.CreateInput) (domain.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	List(ctx context.Context, in booking.ListInput) ([]domain.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to domain.BookingStatus) (domain.Booking, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type PaymentService interface {
	Initialize(ctx context.Context, bookingID uuid.UUID) (payments.Checkout, error)
	Reconcile(ctx context.Context, sig payments.Signal) (payments.Outcome, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

type TransactionService interface {
	List(ctx context.Context, in transactions.ListInput) ([]domain.Transaction, error)
}

type Authenticator interface {
	TokenVerifier
	Login(ctx context.Context, in auth.LoginInput) (auth.Token, error)
}

type Services struct {
	Catalog      CatalogService
	Availability AvailabilityService
	Bookings     BookingService
	Payments     PaymentService
	Transactions TransactionService
	Auth         Authenticator
}

type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For/X-Real-IP.
	// Without it the rate limiter keys on the TCP peer.
	TrustProxyHeaders bool

	// Ready backs /readyz. Nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

type handler struct {
	svc    Services
	ready  func(ctx context.Context) error
	logger *slog.Logger
}

func NewRouter(svc Services, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, ready: opts.Ready, logger: logger.With("component", "http")}
	limiter := newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.readiness)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/services", h.listServices)
		r.Get("/availability/slots", h.slots)
		r.Get("/availability/calendar", h.calendar)

		r.With(limiter.middleware).Post("/bookings", h.createBooking)
		r.With(limiter.middleware).Post("/payments/initialize", h.initializePayment)
		r.With(limiter.middleware).Post("/payments/verify", h.verifyPayment)
		r.Post("/webhooks/paystack", h.paystackWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.With(limiter.middleware).Post("/login", h.login)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin(svc.Auth))

				r.Get("/bookings", h.listBookings)
				r.Get("/bookings/{id}", h.getBooking)
				r.Patch("/bookings/{id}/status", h.updateBookingStatus)
				r.Post("/bookings/{id}/refund", h.refundBooking)
				r.Delete("/bookings/{id}", h.deleteBooking)

				r.Get("/blocked-dates", h.listBlockedDates)
				r.Post("/blocked-dates", h.blockDate)
				r.Delete("/blocked-dates/{date}", h.unblockDate)

				r.Get("/blocked-weekdays", h.blockedWeekdays)
				r.Put("/blocked-weekdays", h.setBlockedWeekdays)

				r.Get("/availability", h.listWindows)
				r.Put("/availability", h.upsertWindow)
				r.Delete("/availability/{id}", h.deleteWindow)

				r.Get("/transactions", h.listTransactions)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WithMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WithMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	WithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "err", err)
			WithMessage(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	WithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
