package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/booking"
	"salonbook/backend/internal/service/transactions"
)

func (h *handler) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		h.fail(w, r, "invalid booking filter", err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		h.fail(w, r, "invalid booking filter", err)
		return
	}
	rows, err := h.svc.Bookings.List(r.Context(), booking.ListInput{
		Status:        q.Get("status"),
		PaymentStatus: q.Get("payment_status"),
		From:          q.Get("from"),
		To:            q.Get("to"),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		h.fail(w, r, "list bookings failed", err)
		return
	}
	WithJSON(w, http.StatusOK, toBookingResponses(rows))
}

func (h *handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "invalid booking id", err)
		return
	}
	b, err := h.svc.Bookings.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get booking failed", err)
		return
	}
	WithJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handler) updateBookingStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "invalid booking id", err)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "invalid status request", err)
		return
	}
	b, err := h.svc.Bookings.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, r, "update booking status failed", err)
		return
	}
	h.logger.InfoContext(r.Context(), "admin changed booking status", "admin", adminFrom(r.Context()), "booking_id", id, "status", b.Status)
	WithJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handler) refundBooking(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "invalid booking id", err)
		return
	}
	b, err := h.svc.Bookings.MarkRefunded(r.Context(), id)
	if err != nil {
		h.fail(w, r, "refund booking failed", err)
		return
	}
	h.logger.InfoContext(r.Context(), "admin marked booking refunded", "admin", adminFrom(r.Context()), "booking_id", id)
	WithJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handler) deleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "invalid booking id", err)
		return
	}
	if err := h.svc.Bookings.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete booking failed", err)
		return
	}
	h.logger.InfoContext(r.Context(), "admin deleted booking", "admin", adminFrom(r.Context()), "booking_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listBlockedDates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := dateParam(q.Get("from"), "from")
	if err != nil {
		h.fail(w, r, "invalid blocked date filter", err)
		return
	}
	to, err := dateParam(q.Get("to"), "to")
	if err != nil {
		h.fail(w, r, "invalid blocked date filter", err)
		return
	}
	rows, err := h.svc.Availability.ListBlockedDates(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "list blocked dates failed", err)
		return
	}
	out := make([]blockedDateResponse, 0, len(rows))
	for _, b := range rows {
		out = append(out, toBlockedDateResponse(b))
	}
	WithJSON(w, http.StatusOK, out)
}

func (h *handler) blockDate(w http.ResponseWriter, r *http.Request) {
	var req blockDateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "invalid block date request", err)
		return
	}
	date, err := dateParam(req.Date, "date")
	if err == nil && date.IsZero() {
		err = failure.Validation("date is required")
	}
	if err != nil {
		h.fail(w, r, "invalid block date request", err)
		return
	}
	b, err := h.svc.Availability.BlockDate(r.Context(), date, req.Reason)
	if err != nil {
		h.fail(w, r, "block date failed", err)
		return
	}
	WithJSON(w, http.StatusCreated, toBlockedDateResponse(b))
}

func (h *handler) unblockDate(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(chi.URLParam(r, "date"), "date")
	if err == nil && date.IsZero() {
		err = failure.Validation("date is required")
	}
	if err != nil {
		h.fail(w, r, "invalid unblock request", err)
		return
	}
	if err := h.svc.Availability.UnblockDate(r.Context(), date); err != nil {
		h.fail(w, r, "unblock date failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) blockedWeekdays(w http.ResponseWriter, r *http.Request) {
	set, err := h.svc.Availability.BlockedWeekdays(r.Context())
	if err != nil {
		h.fail(w, r, "load blocked weekdays failed", err)
		return
	}
	WithJSON(w, http.StatusOK, weekdaysRequest{Weekdays: set.Ints()})
}

func (h *handler) setBlockedWeekdays(w http.ResponseWriter, r *http.Request) {
	var req weekdaysRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "invalid weekdays request", err)
		return
	}
	set, err := h.svc.Availability.SetBlockedWeekdays(r.Context(), req.Weekdays)
	if err != nil {
		h.fail(w, r, "set blocked weekdays failed", err)
		return
	}
	WithJSON(w, http.StatusOK, weekdaysRequest{Weekdays: set.Ints()})
}

func (h *handler) listWindows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := dateParam(q.Get("from"), "from")
	if err != nil {
		h.fail(w, r, "invalid availability filter", err)
		return
	}
	to, err := dateParam(q.Get("to"), "to")
	if err != nil {
		h.fail(w, r, "invalid availability filter", err)
		return
	}
	rows, err := h.svc.Availability.ListWindows(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "list availability failed", err)
		return
	}
	out := make([]windowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toWindowResponse(row))
	}
	WithJSON(w, http.StatusOK, out)
}

func (h *handler) upsertWindow(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "invalid availability request", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "invalid availability request", err)
		return
	}
	row, err := h.svc.Availability.UpsertWindow(r.Context(), in)
	if err != nil {
		h.fail(w, r, "save availability failed", err)
		return
	}
	WithJSON(w, http.StatusOK, toWindowResponse(row))
}

func (req windowRequest) input() (availability.WindowInput, error) {
	date, err := dateParam(req.Date, "date")
	if err != nil {
		return availability.WindowInput{}, err
	}
	start, err := domain.ParseClockTime(req.StartTime)
	if err != nil {
		return availability.WindowInput{}, failure.Validation("start_time must be HH:MM")
	}
	end, err := domain.ParseClockTime(req.EndTime)
	if err != nil {
		return availability.WindowInput{}, failure.Validation("end_time must be HH:MM")
	}
	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}
	return availability.WindowInput{Date: date, StartTime: start, EndTime: end, IsAvailable: available}, nil
}

func (h *handler) deleteWindow(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "invalid availability id", err)
		return
	}
	if err := h.svc.Availability.DeleteWindow(r.Context(), id); err != nil {
		h.fail(w, r, "delete availability failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		h.fail(w, r, "invalid transaction filter", err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		h.fail(w, r, "invalid transaction filter", err)
		return
	}
	rows, err := h.svc.Transactions.List(r.Context(), transactions.ListInput{
		Status:    q.Get("status"),
		BookingID: q.Get("booking_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.fail(w, r, "list transactions failed", err)
		return
	}
	out := make([]transactionResponse, 0, len(rows))
	for _, t := range rows {
		out = append(out, toTransactionResponse(t))
	}
	WithJSON(w, http.StatusOK, out)
}
