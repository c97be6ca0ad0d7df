package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/paystack"
	"salonbook/backend/internal/service/auth"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/booking"
	"salonbook/backend/internal/service/payments"
)

const maxBodyBytes = 1 << 20

// fail logs err at a level matching its kind and writes the error envelope.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch failure.KindOf(err) {
	case failure.KindInternal, failure.KindUpstream:
		h.logger.ErrorContext(r.Context(), msg, "err", err)
	default:
		h.logger.DebugContext(r.Context(), msg, "err", err)
	}
	WithError(w, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return failure.Validation("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return failure.Validation("request body too large")
		}
		return failure.Validation("request body must be valid JSON")
	}
	return nil
}

func dateParam(raw, name string) (domain.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Date{}, nil
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return domain.Date{}, failure.Validation(name + " must be YYYY-MM-DD")
	}
	return d, nil
}

func intParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, failure.Validation(name + " must be a number")
	}
	return n, nil
}

func uuidParam(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, failure.Validation(name + " must be a valid id")
	}
	return id, nil
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Catalog.ListActiveServices(r.Context())
	if err != nil {
		h.fail(w, r, "list services failed", failure.Internal(err))
		return
	}
	out := make([]serviceResponse, 0, len(rows))
	for _, s := range rows {
		out = append(out, toServiceResponse(s))
	}
	WithJSON(w, http.StatusOK, out)
}

func (h *handler) slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := dateParam(q.Get("date"), "date")
	if err != nil {
		h.fail(w, r, "invalid slot query", err)
		return
	}
	duration, err := intParam(q.Get("duration"), "duration")
	if err != nil {
		h.fail(w, r, "invalid slot query", err)
		return
	}
	query := availability.SlotQuery{Date: date, Duration: duration}
	if raw := q.Get("service_id"); raw != "" {
		if query.ServiceID, err = uuidParam(raw, "service_id"); err != nil {
			h.fail(w, r, "invalid slot query", err)
			return
		}
	}

	res, err := h.svc.Availability.Slots(r.Context(), query)
	if err != nil {
		h.fail(w, r, "slot query failed", err)
		return
	}
	if duration <= 0 {
		duration = domain.DefaultServiceDurationMinutes
	}
	WithJSON(w, http.StatusOK, slotsResponse{
		Date:     date,
		Duration: duration,
		Slots:    res.Slots,
		Blocked:  res.Blocked,
		Reason:   res.Reason,
	})
}

func (h *handler) calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := dateParam(q.Get("from"), "from")
	if err != nil {
		h.fail(w, r, "invalid calendar query", err)
		return
	}
	to, err := dateParam(q.Get("to"), "to")
	if err != nil {
		h.fail(w, r, "invalid calendar query", err)
		return
	}
	view, err := h.svc.Availability.Calendar(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "calendar query failed", err)
		return
	}
	WithJSON(w, http.StatusOK, view)
}

// createBooking stores the booking and then tries to open a checkout. A
// provider failure is reported next to the booking, never instead of it.
func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var in booking.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, "invalid booking request", err)
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	b, err := h.svc.Bookings.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create booking failed", err)
		return
	}

	resp := createBookingResponse{Booking: toBookingResponse(b)}
	if b.PaymentStatus == domain.PaymentStatusPending && b.Status != domain.BookingStatusCancelled {
		checkout, err := h.svc.Payments.Initialize(r.Context(), b.ID)
		if err != nil {
			h.logger.WarnContext(r.Context(), "payment initialization after booking failed", "booking_id", b.ID, "err", err)
			resp.PaymentError = failure.PublicMessage(err)
		} else {
			resp.Payment = &checkout
		}
	}
	WithJSON(w, http.StatusCreated, resp)
}

func (h *handler) initializePayment(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "invalid initialize request", err)
		return
	}
	if strings.TrimSpace(req.BookingID) == "" {
		h.fail(w, r, "invalid initialize request", failure.Validation("booking_id is required"))
		return
	}
	id, err := uuidParam(req.BookingID, "booking_id")
	if err != nil {
		h.fail(w, r, "invalid initialize request", err)
		return
	}
	checkout, err := h.svc.Payments.Initialize(r.Context(), id)
	if err != nil {
		h.fail(w, r, "initialize payment failed", err)
		return
	}
	WithJSON(w, http.StatusOK, checkout)
}

func (h *handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "invalid verify request", err)
		return
	}
	sig := payments.Signal{Reference: req.Reference, Source: payments.SourceVerify}
	if strings.TrimSpace(req.BookingID) != "" {
		id, err := uuidParam(req.BookingID, "booking_id")
		if err != nil {
			h.fail(w, r, "invalid verify request", err)
			return
		}
		sig.BookingID = id
	}

	out, err := h.svc.Payments.Reconcile(r.Context(), sig)
	if err != nil {
		h.fail(w, r, "verify payment failed", err)
		return
	}
	resp := verifyResponse{
		Verified:      out.Status == domain.TransactionStatusSuccess,
		Status:        out.Status,
		BookingID:     out.Booking.ID,
		PaymentStatus: out.Booking.PaymentStatus,
		Amount:        out.Amount,
		Currency:      out.Currency,
	}
	switch out.Status {
	case domain.TransactionStatusFailed:
		WithError(w, failure.Validation("Payment verification failed"))
	case domain.TransactionStatusPending:
		WithJSON(w, http.StatusAccepted, resp)
	default:
		WithJSON(w, http.StatusOK, resp)
	}
}

func (h *handler) paystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, "read webhook body", failure.Validation("request body too large"))
		return
	}
	if err := h.svc.Payments.HandleWebhook(r.Context(), body, r.Header.Get(paystack.SignatureHeader)); err != nil {
		h.fail(w, r, "webhook rejected", err)
		return
	}
	WithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, "invalid login request", err)
		return
	}
	tok, err := h.svc.Auth.Login(r.Context(), in)
	if err != nil {
		h.fail(w, r, "login failed", err)
		return
	}
	WithJSON(w, http.StatusOK, tok)
}

func idParam(r *http.Request) (uuid.UUID, error) {
	return uuidParam(chi.URLParam(r, "id"), "id")
}
