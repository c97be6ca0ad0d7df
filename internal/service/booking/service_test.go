package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/store"
)

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeBookings struct {
	inDateTx            func(ctx context.Context, date domain.Date, fn func(ctx context.Context, tx store.BookingTx) error) error
	getFn               func(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	listFn              func(ctx context.Context, filter store.BookingFilter) ([]domain.Booking, error)
	updateStatusFn      func(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error)
	updatePaymentStatus func(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus) (domain.Booking, error)
	deleteFn            func(ctx context.Context, id uuid.UUID) error
}

func (f *fakeBookings) InDateTransaction(ctx context.Context, date domain.Date, fn func(ctx context.Context, tx store.BookingTx) error) error {
	if f.inDateTx == nil {
		panic("InDateTransaction not configured")
	}
	return f.inDateTx(ctx, date, fn)
}

func (f *fakeBookings) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if f.getFn == nil {
		panic("GetBooking not configured")
	}
	return f.getFn(ctx, id)
}

func (f *fakeBookings) ListBookings(ctx context.Context, filter store.BookingFilter) ([]domain.Booking, error) {
	if f.listFn == nil {
		panic("ListBookings not configured")
	}
	return f.listFn(ctx, filter)
}

func (f *fakeBookings) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	if f.updateStatusFn == nil {
		panic("UpdateStatus not configured")
	}
	return f.updateStatusFn(ctx, id, from, to)
}

func (f *fakeBookings) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus) (domain.Booking, error) {
	if f.updatePaymentStatus == nil {
		panic("UpdatePaymentStatus not configured")
	}
	return f.updatePaymentStatus(ctx, id, from, to)
}

func (f *fakeBookings) SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (domain.Booking, error) {
	panic("SetPaymentReference not configured")
}

func (f *fakeBookings) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	if f.deleteFn == nil {
		panic("DeleteBooking not configured")
	}
	return f.deleteFn(ctx, id)
}

// memoryLedger is a serialised in-memory BookingTx shared by every date.
type memoryLedger struct {
	mu       sync.Mutex
	blocked  map[string]bool
	weekdays domain.WeekdaySet
	windows  []domain.AvailabilityWindow
	bookings []domain.Booking
}

func (m *memoryLedger) IsDateBlocked(ctx context.Context, date domain.Date) (bool, error) {
	return m.blocked[date.String()], nil
}

func (m *memoryLedger) BlockedWeekdays(ctx context.Context) (domain.WeekdaySet, error) {
	return m.weekdays, nil
}

func (m *memoryLedger) ListWindows(ctx context.Context, date domain.Date) ([]domain.AvailabilityWindow, error) {
	var out []domain.AvailabilityWindow
	for _, w := range m.windows {
		if w.Date.Equal(date) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memoryLedger) ListActiveBookings(ctx context.Context, date domain.Date) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.AppointmentDate.Equal(date) && b.Status != domain.BookingStatusCancelled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryLedger) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	for _, b := range m.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.Booking{}, store.ErrNotFound
}

func (m *memoryLedger) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	for _, existing := range m.bookings {
		if existing.ID == b.ID {
			return domain.Booking{}, store.ErrDuplicate
		}
	}
	b.CreatedAt = fixedNow
	b.UpdatedAt = fixedNow
	m.bookings = append(m.bookings, b)
	return b, nil
}

func (m *memoryLedger) repo() *fakeBookings {
	return &fakeBookings{
		inDateTx: func(ctx context.Context, date domain.Date, fn func(ctx context.Context, tx store.BookingTx) error) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			snapshot := len(m.bookings)
			if err := fn(ctx, m); err != nil {
				m.bookings = m.bookings[:snapshot]
				return err
			}
			return nil
		},
		getFn: func(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, b := range m.bookings {
				if b.ID == id {
					return b, nil
				}
			}
			return domain.Booking{}, store.ErrNotFound
		},
	}
}

type fakeCatalog struct {
	services map[uuid.UUID]domain.Service
}

func (f *fakeCatalog) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return domain.Service{}, store.ErrNotFound
	}
	return svc, nil
}

func (f *fakeCatalog) ListActiveServices(ctx context.Context) ([]domain.Service, error) {
	panic("ListActiveServices not configured")
}

type recordingNotifier struct {
	mu       sync.Mutex
	received []domain.Booking
}

func (r *recordingNotifier) BookingReceived(ctx context.Context, b domain.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, b)
}

var (
	braidsID = uuid.MustParse("0190a1b2-0000-7000-8000-000000000001")
	colourID = uuid.MustParse("0190a1b2-0000-7000-8000-000000000002")
)

type harness struct {
	ledger   *memoryLedger
	repo     *fakeBookings
	notifier *recordingNotifier
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ledger := &memoryLedger{blocked: map[string]bool{}}
	catalog := &fakeCatalog{services: map[uuid.UUID]domain.Service{
		braidsID: {ID: braidsID, Name: "Knotless braids", Price: decimal.RequireFromString("350"), DurationMinutes: 120, Active: true},
		colourID: {ID: colourID, Name: "Colour", Price: decimal.RequireFromString("200"), DurationMinutes: 60, Active: false},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slots := availability.NewService(nil, nil, nil, availability.Config{
		Now: func() time.Time { return fixedNow },
	}, logger)
	repo := ledger.repo()
	notifier := &recordingNotifier{}
	return &harness{
		ledger:   ledger,
		repo:     repo,
		notifier: notifier,
		svc:      NewService(repo, catalog, slots, notifier, logger, WithClock(func() time.Time { return fixedNow })),
	}
}

func validInput() CreateInput {
	return CreateInput{
		ServiceID:       braidsID.String(),
		CustomerName:    "  Ama Mensah ",
		CustomerEmail:   "Ama@Example.com",
		CustomerPhone:   "0240000000",
		AppointmentDate: "2025-06-02",
		AppointmentTime: "10:00",
	}
}

func wantKind(t *testing.T, err error, kind failure.Kind, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error", kind)
	}
	if got := failure.KindOf(err); got != kind {
		t.Fatalf("kind = %s, want %s (err=%v)", got, kind, err)
	}
	if msg != "" && failure.PublicMessage(err) != msg {
		t.Fatalf("message = %q, want %q", failure.PublicMessage(err), msg)
	}
}

func TestCreate_SnapshotsServiceAndStartsPending(t *testing.T) {
	h := newHarness(t)

	b, err := h.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if b.ServiceName != "Knotless braids" || !b.Price.Equal(decimal.RequireFromString("350")) || b.DurationMinutes != 120 {
		t.Fatalf("service snapshot = %q %s %d", b.ServiceName, b.Price, b.DurationMinutes)
	}
	if b.Status != domain.BookingStatusPending || b.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("status = %s/%s, want pending/pending", b.Status, b.PaymentStatus)
	}
	if b.CustomerName != "Ama Mensah" || b.CustomerEmail != "ama@example.com" {
		t.Fatalf("customer not normalised: %q %q", b.CustomerName, b.CustomerEmail)
	}
	if b.Notes != nil {
		t.Fatalf("empty notes should be stored as nil")
	}
	if len(h.notifier.received) != 1 || h.notifier.received[0].ID != b.ID {
		t.Fatalf("notifier received %d bookings", len(h.notifier.received))
	}
}

func TestCreate_MissingFields(t *testing.T) {
	h := newHarness(t)
	in := validInput()
	in.CustomerPhone = ""

	_, err := h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindValidation, "customer_phone is required")
	if _, ok := failure.FieldsOf(err)["customer_phone"]; !ok {
		t.Fatalf("fields = %v, want customer_phone", failure.FieldsOf(err))
	}
}

func TestCreate_RejectsMalformedDateAndTime(t *testing.T) {
	h := newHarness(t)

	in := validInput()
	in.AppointmentDate = "02/06/2025"
	_, err := h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindValidation, "appointment_date must be YYYY-MM-DD")

	in = validInput()
	in.AppointmentTime = "10am"
	_, err = h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindValidation, "appointment_time must be HH:MM")
}

func TestCreate_UnknownOrInactiveService(t *testing.T) {
	h := newHarness(t)

	in := validInput()
	in.ServiceID = uuid.NewString()
	_, err := h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindNotFound, "service not found")

	in.ServiceID = colourID.String()
	_, err = h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindNotFound, "service not found")
}

func TestCreate_PastAppointment(t *testing.T) {
	h := newHarness(t)
	in := validInput()
	in.AppointmentDate = "2025-06-01"
	in.AppointmentTime = "07:00"

	_, err := h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindValidation, "appointment must be in the future")
}

func TestCreate_BlockedDateAndWeekday(t *testing.T) {
	h := newHarness(t)
	h.ledger.blocked["2025-06-02"] = true

	_, err := h.svc.Create(context.Background(), validInput())
	wantKind(t, err, failure.KindConflict, msgDateUnavailable)

	h.ledger.blocked = map[string]bool{}
	h.ledger.weekdays = domain.NewWeekdaySet(time.Monday)
	_, err = h.svc.Create(context.Background(), validInput())
	wantKind(t, err, failure.KindConflict, msgDateUnavailable)

	if len(h.notifier.received) != 0 {
		t.Fatalf("no emails expected for rejected bookings")
	}
}

func TestCreate_SlotTakenAndOverlap(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("first Create error: %v", err)
	}

	_, err := h.svc.Create(context.Background(), validInput())
	wantKind(t, err, failure.KindConflict, msgSlotUnavailable)

	// 11:00 falls inside the 10:00-12:00 braids appointment.
	in := validInput()
	in.AppointmentTime = "11:00"
	_, err = h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindConflict, msgSlotUnavailable)

	in.AppointmentTime = "12:00"
	if _, err := h.svc.Create(context.Background(), in); err != nil {
		t.Fatalf("adjacent slot should be bookable: %v", err)
	}
}

func TestCreate_TimeOutsideTemplate(t *testing.T) {
	h := newHarness(t)
	in := validInput()
	in.AppointmentTime = "10:30"

	_, err := h.svc.Create(context.Background(), in)
	wantKind(t, err, failure.KindConflict, msgSlotUnavailable)
}

func TestCreate_CancelledBookingFreesSlot(t *testing.T) {
	h := newHarness(t)
	first, err := h.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	h.ledger.bookings[0].Status = domain.BookingStatusCancelled

	second, err := h.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("rebooking a cancelled slot: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a new booking")
	}
}

func TestCreate_StoreSlotConflictIsMapped(t *testing.T) {
	h := newHarness(t)
	h.repo.inDateTx = func(ctx context.Context, date domain.Date, fn func(ctx context.Context, tx store.BookingTx) error) error {
		return store.ErrSlotTaken
	}

	_, err := h.svc.Create(context.Background(), validInput())
	wantKind(t, err, failure.KindConflict, msgSlotUnavailable)
}

func TestCreate_StorageFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.repo.inDateTx = func(ctx context.Context, date domain.Date, fn func(ctx context.Context, tx store.BookingTx) error) error {
		return errors.New("connection reset")
	}

	_, err := h.svc.Create(context.Background(), validInput())
	wantKind(t, err, failure.KindInternal, "internal error")
}

func TestCreate_IdempotencyKeyReturnsFirstBooking(t *testing.T) {
	h := newHarness(t)
	in := validInput()
	in.IdempotencyKey = "checkout-42"

	first, err := h.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("first Create error: %v", err)
	}
	again, err := h.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("replayed Create error: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("replay id = %s, want %s", again.ID, first.ID)
	}
	if len(h.ledger.bookings) != 1 {
		t.Fatalf("bookings = %d, want 1", len(h.ledger.bookings))
	}
	if len(h.notifier.received) != 1 {
		t.Fatalf("replay should not send another email")
	}
}

func TestCreate_IdempotentRetryWaitingOnDateLock(t *testing.T) {
	h := newHarness(t)
	// Both lookups outside the lock miss, as when the retry arrives while the
	// first attempt is still inside its transaction.
	h.repo.getFn = func(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
		return domain.Booking{}, store.ErrNotFound
	}
	in := validInput()
	in.IdempotencyKey = "checkout-42"

	first, err := h.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("first Create error: %v", err)
	}
	again, err := h.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("retried Create error: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("retry id = %s, want %s", again.ID, first.ID)
	}
	if len(h.ledger.bookings) != 1 {
		t.Fatalf("bookings = %d, want 1", len(h.ledger.bookings))
	}
	if len(h.notifier.received) != 1 {
		t.Fatalf("retry should not send another email")
	}

	other := validInput()
	other.IdempotencyKey = "checkout-43"
	_, err = h.svc.Create(context.Background(), other)
	wantKind(t, err, failure.KindConflict, msgSlotUnavailable)
}

func TestCreate_ConcurrentRequestsForOneSlot(t *testing.T) {
	h := newHarness(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Create(context.Background(), validInput())
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		wantKind(t, err, failure.KindConflict, msgSlotUnavailable)
	}
	if ok != 1 {
		t.Fatalf("successful bookings = %d, want 1", ok)
	}
}

func TestUpdateStatus(t *testing.T) {
	id := uuid.New()
	current := domain.Booking{ID: id, Status: domain.BookingStatusPending}

	tests := []struct {
		name     string
		to       domain.BookingStatus
		storeErr error
		wantKind failure.Kind
		wantCall bool
	}{
		{name: "confirm", to: domain.BookingStatusConfirmed, wantCall: true},
		{name: "same status is a no-op", to: domain.BookingStatusPending},
		{name: "pending cannot complete", to: domain.BookingStatusCompleted, wantKind: failure.KindConflict},
		{name: "unknown status", to: "archived", wantKind: failure.KindValidation},
		{name: "lost race", to: domain.BookingStatusCancelled, storeErr: store.ErrConflict, wantKind: failure.KindConflict, wantCall: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			called := false
			h.repo.getFn = func(ctx context.Context, got uuid.UUID) (domain.Booking, error) {
				return current, nil
			}
			h.repo.updateStatusFn = func(ctx context.Context, got uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
				called = true
				if from != domain.BookingStatusPending {
					t.Fatalf("from = %s, want pending", from)
				}
				if tt.storeErr != nil {
					return domain.Booking{}, tt.storeErr
				}
				out := current
				out.Status = to
				return out, nil
			}

			b, err := h.svc.UpdateStatus(context.Background(), id, tt.to)
			if called != tt.wantCall {
				t.Fatalf("store called = %v, want %v", called, tt.wantCall)
			}
			if tt.wantKind != failure.KindInternal {
				wantKind(t, err, tt.wantKind, "")
				return
			}
			if err != nil {
				t.Fatalf("UpdateStatus error: %v", err)
			}
			if b.Status != tt.to {
				t.Fatalf("status = %s, want %s", b.Status, tt.to)
			}
		})
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.UpdateStatus(context.Background(), uuid.New(), domain.BookingStatusConfirmed)
	wantKind(t, err, failure.KindNotFound, "booking not found")
}

func TestMarkRefunded(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	current := domain.Booking{ID: id, Status: domain.BookingStatusConfirmed, PaymentStatus: domain.PaymentStatusPending}
	h.repo.getFn = func(ctx context.Context, got uuid.UUID) (domain.Booking, error) { return current, nil }
	h.repo.updatePaymentStatus = func(ctx context.Context, got uuid.UUID, from, to domain.PaymentStatus) (domain.Booking, error) {
		if from != domain.PaymentStatusPaid || to != domain.PaymentStatusRefunded {
			t.Fatalf("transition %s -> %s", from, to)
		}
		out := current
		out.PaymentStatus = to
		return out, nil
	}

	_, err := h.svc.MarkRefunded(context.Background(), id)
	wantKind(t, err, failure.KindConflict, "only paid bookings can be refunded")

	current.PaymentStatus = domain.PaymentStatusPaid
	b, err := h.svc.MarkRefunded(context.Background(), id)
	if err != nil {
		t.Fatalf("MarkRefunded error: %v", err)
	}
	if b.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("payment status = %s", b.PaymentStatus)
	}
}

func TestList_ValidatesFilters(t *testing.T) {
	h := newHarness(t)
	var got store.BookingFilter
	h.repo.listFn = func(ctx context.Context, filter store.BookingFilter) ([]domain.Booking, error) {
		got = filter
		return nil, nil
	}

	_, err := h.svc.List(context.Background(), ListInput{Status: "archived"})
	wantKind(t, err, failure.KindValidation, "")

	_, err = h.svc.List(context.Background(), ListInput{From: "2025-06-10", To: "2025-06-01"})
	wantKind(t, err, failure.KindValidation, "to must not be before from")

	if _, err := h.svc.List(context.Background(), ListInput{Status: "confirmed", From: "2025-06-01", Limit: 20}); err != nil {
		t.Fatalf("List error: %v", err)
	}
	if got.Status != domain.BookingStatusConfirmed || got.From.String() != "2025-06-01" || !got.To.IsZero() || got.Limit != 20 {
		t.Fatalf("filter = %+v", got)
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	h.repo.deleteFn = func(ctx context.Context, id uuid.UUID) error { return store.ErrNotFound }

	err := h.svc.Delete(context.Background(), uuid.New())
	wantKind(t, err, failure.KindNotFound, "booking not found")

	err = h.svc.Delete(context.Background(), uuid.Nil)
	wantKind(t, err, failure.KindValidation, "booking id is required")
}
