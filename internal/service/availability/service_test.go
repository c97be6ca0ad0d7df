package availability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/store"
)

type fakeSchedule struct {
	blockedDates    map[string]bool
	weekdays        domain.WeekdaySet
	windows         []domain.AvailabilityWindow
	bookings        []domain.Booking
	blockDateFn     func(ctx context.Context, b domain.BlockedDate) (domain.BlockedDate, error)
	unblockDateFn   func(ctx context.Context, date domain.Date) error
	setWeekdaysFn   func(ctx context.Context, days domain.WeekdaySet) error
	upsertWindowFn  func(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	deleteWindowFn  func(ctx context.Context, id uuid.UUID) error
	bookingsBetween int
	// onBookingsBetween runs while a calendar is being built.
	onBookingsBetween func()
}

func (f *fakeSchedule) IsDateBlocked(ctx context.Context, date domain.Date) (bool, error) {
	return f.blockedDates[date.String()], nil
}

func (f *fakeSchedule) BlockedWeekdays(ctx context.Context) (domain.WeekdaySet, error) {
	return f.weekdays, nil
}

func (f *fakeSchedule) ListWindows(ctx context.Context, date domain.Date) ([]domain.AvailabilityWindow, error) {
	var out []domain.AvailabilityWindow
	for _, w := range f.windows {
		if w.Date.Equal(date) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeSchedule) ListActiveBookings(ctx context.Context, date domain.Date) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.AppointmentDate.Equal(date) && b.Status != domain.BookingStatusCancelled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeSchedule) ListBlockedDates(ctx context.Context, from, to domain.Date) ([]domain.BlockedDate, error) {
	var out []domain.BlockedDate
	for _, d := range domain.DatesBetween(from, to) {
		if f.blockedDates[d.String()] {
			out = append(out, domain.BlockedDate{Date: d})
		}
	}
	return out, nil
}

func (f *fakeSchedule) BlockDate(ctx context.Context, b domain.BlockedDate) (domain.BlockedDate, error) {
	if f.blockDateFn == nil {
		panic("BlockDate not configured")
	}
	return f.blockDateFn(ctx, b)
}

func (f *fakeSchedule) UnblockDate(ctx context.Context, date domain.Date) error {
	if f.unblockDateFn == nil {
		panic("UnblockDate not configured")
	}
	return f.unblockDateFn(ctx, date)
}

func (f *fakeSchedule) SetBlockedWeekdays(ctx context.Context, days domain.WeekdaySet) error {
	if f.setWeekdaysFn == nil {
		panic("SetBlockedWeekdays not configured")
	}
	return f.setWeekdaysFn(ctx, days)
}

func (f *fakeSchedule) ListWindowsBetween(ctx context.Context, from, to domain.Date) ([]domain.AvailabilityWindow, error) {
	return f.windows, nil
}

func (f *fakeSchedule) UpsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	if f.upsertWindowFn == nil {
		panic("UpsertWindow not configured")
	}
	return f.upsertWindowFn(ctx, w)
}

func (f *fakeSchedule) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	if f.deleteWindowFn == nil {
		panic("DeleteWindow not configured")
	}
	return f.deleteWindowFn(ctx, id)
}

func (f *fakeSchedule) ListActiveBookingsBetween(ctx context.Context, from, to domain.Date) ([]domain.Booking, error) {
	f.bookingsBetween++
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.Status != domain.BookingStatusCancelled && !b.AppointmentDate.Before(from) && !b.AppointmentDate.After(to) {
			out = append(out, b)
		}
	}
	if f.onBookingsBetween != nil {
		f.onBookingsBetween()
	}
	return out, nil
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
	var out []domain.Service
	for _, s := range f.services {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

// memoryCache keys views by generation the same way the redis cache does.
type memoryCache struct {
	generation  int64
	views       map[string]CalendarView
	invalidated int
}

func memoryCacheKey(generation int64, from, to domain.Date) string {
	return fmt.Sprintf("%d|%s|%s", generation, from, to)
}

func (m *memoryCache) GetCalendar(ctx context.Context, from, to domain.Date) (CalendarView, int64, bool, error) {
	v, ok := m.views[memoryCacheKey(m.generation, from, to)]
	return v, m.generation, ok, nil
}

func (m *memoryCache) PutCalendar(ctx context.Context, generation int64, view CalendarView) error {
	if m.views == nil {
		m.views = map[string]CalendarView{}
	}
	m.views[memoryCacheKey(generation, view.From, view.To)] = view
	return nil
}

func (m *memoryCache) Invalidate(ctx context.Context) error {
	m.invalidated++
	m.generation++
	return nil
}

// fixedNow is 2025-06-01 08:00 in UTC, a Sunday.
func fixedNow() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }

func newTestService(schedule *fakeSchedule, catalog *fakeCatalog, cache CalendarCache) *Service {
	if catalog == nil {
		catalog = &fakeCatalog{}
	}
	return NewService(schedule, catalog, cache, Config{Location: time.UTC, Now: fixedNow}, nil)
}

func TestSlots_BookedSlotDisappears(t *testing.T) {
	date := domain.NewDate(2025, 6, 1)
	schedule := &fakeSchedule{bookings: []domain.Booking{{
		AppointmentDate: date,
		AppointmentTime: domain.NewClockTime(10, 0),
		DurationMinutes: 60,
		Status:          domain.BookingStatusPending,
	}}}
	svc := newTestService(schedule, nil, nil)

	res, err := svc.Slots(context.Background(), SlotQuery{Date: date, Duration: 60})
	require.NoError(t, err)
	assert.False(t, res.Contains(domain.NewClockTime(10, 0)))
	assert.True(t, res.Contains(domain.NewClockTime(9, 0)))
}

func TestSlots_BlockedHoliday(t *testing.T) {
	date := domain.NewDate(2025, 6, 2)
	svc := newTestService(&fakeSchedule{blockedDates: map[string]bool{"2025-06-02": true}}, nil, nil)

	res, err := svc.Slots(context.Background(), SlotQuery{Date: date})
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, ReasonBlockedDate, res.Reason)
	assert.Empty(t, res.Slots)
}

func TestSlots_PastDateIsBlocked(t *testing.T) {
	svc := newTestService(&fakeSchedule{}, nil, nil)

	res, err := svc.Slots(context.Background(), SlotQuery{Date: domain.NewDate(2025, 5, 31)})
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, ReasonPast, res.Reason)
}

func TestSlots_TodayDropsElapsedSlots(t *testing.T) {
	svc := NewService(&fakeSchedule{}, &fakeCatalog{}, nil, Config{
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC) },
	}, nil)

	res, err := svc.Slots(context.Background(), SlotQuery{Date: domain.NewDate(2025, 6, 1), Duration: 60})
	require.NoError(t, err)
	require.NotEmpty(t, res.Slots)
	assert.Equal(t, "14:00", res.Slots[0].String())
}

func TestSlots_ByServiceUsesServiceDuration(t *testing.T) {
	date := domain.NewDate(2025, 6, 3)
	long := domain.Service{ID: uuid.New(), Name: "Locs", DurationMinutes: 180, Active: true}
	schedule := &fakeSchedule{bookings: []domain.Booking{{
		AppointmentDate: date,
		AppointmentTime: domain.NewClockTime(12, 0),
		DurationMinutes: 60,
		Status:          domain.BookingStatusConfirmed,
	}}}
	svc := newTestService(schedule, &fakeCatalog{services: map[uuid.UUID]domain.Service{long.ID: long}}, nil)

	res, err := svc.Slots(context.Background(), SlotQuery{Date: date, ServiceID: long.ID})
	require.NoError(t, err)
	assert.Equal(t, "09:00", res.Slots[0].String())
	assert.False(t, res.Contains(domain.NewClockTime(10, 0)), "10:00-13:00 overlaps the noon booking")
	assert.True(t, res.Contains(domain.NewClockTime(13, 0)))
}

func TestSlots_UnknownOrInactiveService(t *testing.T) {
	inactive := domain.Service{ID: uuid.New(), Active: false}
	svc := newTestService(&fakeSchedule{}, &fakeCatalog{services: map[uuid.UUID]domain.Service{inactive.ID: inactive}}, nil)

	_, err := svc.Slots(context.Background(), SlotQuery{Date: domain.NewDate(2025, 6, 3), ServiceID: inactive.ID})
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))

	_, err = svc.Slots(context.Background(), SlotQuery{Date: domain.NewDate(2025, 6, 3), ServiceID: uuid.New()})
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
}

func TestCalendar_FullyBookedAndCounts(t *testing.T) {
	full := domain.NewDate(2025, 6, 3)
	partial := domain.NewDate(2025, 6, 4)
	var bookings []domain.Booking
	for h := 9; h <= 17; h++ {
		bookings = append(bookings, domain.Booking{
			AppointmentDate: full,
			AppointmentTime: domain.NewClockTime(h, 0),
			DurationMinutes: 60,
			Status:          domain.BookingStatusConfirmed,
		})
	}
	bookings = append(bookings, domain.Booking{
		AppointmentDate: partial,
		AppointmentTime: domain.NewClockTime(9, 0),
		DurationMinutes: 60,
		Status:          domain.BookingStatusPending,
	})
	schedule := &fakeSchedule{
		bookings:     bookings,
		blockedDates: map[string]bool{"2025-06-05": true},
		weekdays:     domain.NewWeekdaySet(time.Sunday),
	}
	cache := &memoryCache{}
	svc := newTestService(schedule, nil, cache)

	view, err := svc.Calendar(context.Background(), domain.NewDate(2025, 6, 1), domain.NewDate(2025, 6, 7))
	require.NoError(t, err)

	require.Len(t, view.FullyBookedDates, 1)
	assert.Equal(t, "2025-06-03", view.FullyBookedDates[0].String())
	require.Len(t, view.BlockedDates, 1)
	assert.Equal(t, "2025-06-05", view.BlockedDates[0].String())
	assert.Equal(t, 9, view.BookingCounts["2025-06-03"])
	assert.Equal(t, 1, view.BookingCounts["2025-06-04"])
	assert.Equal(t, []int{0}, view.BlockedWeekdays.Ints())

	_, err = svc.Calendar(context.Background(), domain.NewDate(2025, 6, 1), domain.NewDate(2025, 6, 7))
	require.NoError(t, err)
	assert.Equal(t, 1, schedule.bookingsBetween, "second call should be served from cache")
}

func TestCalendar_InvalidateDuringBuildDropsStaleView(t *testing.T) {
	date := domain.NewDate(2025, 6, 3)
	schedule := &fakeSchedule{}
	cache := &memoryCache{}
	svc := newTestService(schedule, nil, cache)

	// A booking lands while the first calendar is being read from storage.
	schedule.onBookingsBetween = func() {
		schedule.onBookingsBetween = nil
		schedule.bookings = append(schedule.bookings, domain.Booking{
			AppointmentDate: date,
			AppointmentTime: domain.NewClockTime(9, 0),
			DurationMinutes: 60,
			Status:          domain.BookingStatusPending,
		})
		svc.InvalidateCalendar(context.Background())
	}

	stale, err := svc.Calendar(context.Background(), date, date)
	require.NoError(t, err)
	assert.Empty(t, stale.BookingCounts)

	fresh, err := svc.Calendar(context.Background(), date, date)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.BookingCounts["2025-06-03"])
	assert.Equal(t, 2, schedule.bookingsBetween, "view built before the invalidation must not be served")
}

func TestCalendar_TodayWithOnlyElapsedSlotsIsFullyBooked(t *testing.T) {
	today := domain.NewDate(2025, 6, 2)
	now := func() time.Time { return time.Date(2025, 6, 2, 17, 30, 0, 0, time.UTC) }
	svc := NewService(&fakeSchedule{}, &fakeCatalog{}, nil, Config{Location: time.UTC, Now: now}, nil)

	view, err := svc.Calendar(context.Background(), today, today.AddDays(1))
	require.NoError(t, err)
	require.Len(t, view.FullyBookedDates, 1)
	assert.Equal(t, "2025-06-02", view.FullyBookedDates[0].String())

	res, err := svc.Slots(context.Background(), SlotQuery{Date: today, Duration: 60})
	require.NoError(t, err)
	assert.Empty(t, res.Slots)
}

func TestCalendar_DefaultsToHorizon(t *testing.T) {
	svc := newTestService(&fakeSchedule{}, nil, nil)

	view, err := svc.Calendar(context.Background(), domain.Date{}, domain.Date{})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", view.From.String())
	assert.Equal(t, "2025-08-30", view.To.String())
}

func TestCalendar_RejectsInvertedRange(t *testing.T) {
	svc := newTestService(&fakeSchedule{}, nil, nil)

	_, err := svc.Calendar(context.Background(), domain.NewDate(2025, 6, 7), domain.NewDate(2025, 6, 1))
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
}

func TestBlockDate_DuplicateIsConflictAndWritesInvalidate(t *testing.T) {
	cache := &memoryCache{}
	schedule := &fakeSchedule{
		blockDateFn: func(ctx context.Context, b domain.BlockedDate) (domain.BlockedDate, error) {
			if b.Date.String() == "2025-12-25" {
				return domain.BlockedDate{}, store.ErrDuplicate
			}
			require.NotNil(t, b.Reason)
			assert.Equal(t, "Holiday", *b.Reason)
			return b, nil
		},
	}
	svc := newTestService(schedule, nil, cache)

	_, err := svc.BlockDate(context.Background(), domain.NewDate(2025, 6, 2), "  Holiday ")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidated)

	_, err = svc.BlockDate(context.Background(), domain.NewDate(2025, 12, 25), "")
	assert.Equal(t, failure.KindConflict, failure.KindOf(err))
	assert.Equal(t, 1, cache.invalidated)
}

func TestUnblockDate_NotFound(t *testing.T) {
	svc := newTestService(&fakeSchedule{
		unblockDateFn: func(ctx context.Context, date domain.Date) error { return store.ErrNotFound },
	}, nil, nil)

	err := svc.UnblockDate(context.Background(), domain.NewDate(2025, 6, 2))
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
}

func TestSetBlockedWeekdays(t *testing.T) {
	var saved domain.WeekdaySet
	svc := newTestService(&fakeSchedule{
		setWeekdaysFn: func(ctx context.Context, days domain.WeekdaySet) error {
			saved = days
			return nil
		},
	}, nil, nil)

	set, err := svc.SetBlockedWeekdays(context.Background(), []int{0, 6})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 6}, set.Ints())
	assert.Equal(t, set, saved)

	_, err = svc.SetBlockedWeekdays(context.Background(), []int{9})
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
}

func TestUpsertWindow_Validates(t *testing.T) {
	svc := newTestService(&fakeSchedule{
		upsertWindowFn: func(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
			return w, nil
		},
	}, nil, nil)

	_, err := svc.UpsertWindow(context.Background(), WindowInput{
		Date:      domain.NewDate(2025, 6, 2),
		StartTime: domain.NewClockTime(12, 0),
		EndTime:   domain.NewClockTime(10, 0),
	})
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))

	w, err := svc.UpsertWindow(context.Background(), WindowInput{
		Date:        domain.NewDate(2025, 6, 2),
		StartTime:   domain.NewClockTime(10, 0),
		EndTime:     domain.NewClockTime(12, 0),
		IsAvailable: true,
	})
	require.NoError(t, err)
	assert.True(t, w.IsAvailable)
}

func TestDeleteWindow_StoreError(t *testing.T) {
	svc := newTestService(&fakeSchedule{
		deleteWindowFn: func(ctx context.Context, id uuid.UUID) error { return errors.New("db down") },
	}, nil, nil)

	err := svc.DeleteWindow(context.Background(), uuid.New())
	assert.Equal(t, failure.KindInternal, failure.KindOf(err))
	assert.Equal(t, "internal error", failure.PublicMessage(err))
}
