package availability

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
	"salonbook/backend/internal/store"
)

var tracer = otel.Tracer("salonbook/service/availability")

const maxCalendarDays = 366

// CalendarCache keeps rendered calendar views until the schedule changes.
// GetCalendar reports the generation it looked under; a view built after a
// miss is stored with PutCalendar under that same generation so a concurrent
// Invalidate orphans it.
type CalendarCache interface {
	GetCalendar(ctx context.Context, from, to domain.Date) (view CalendarView, generation int64, ok bool, err error)
	PutCalendar(ctx context.Context, generation int64, view CalendarView) error
	Invalidate(ctx context.Context) error
}

type Config struct {
	Template    Template
	Location    *time.Location
	HorizonDays int
	Now         func() time.Time
}

type Service struct {
	schedule store.ScheduleRepository
	catalog  store.CatalogRepository
	cache    CalendarCache
	cfg      Config
	logger   *slog.Logger
}

func NewService(schedule store.ScheduleRepository, catalog store.CatalogRepository, cache CalendarCache, cfg Config, logger *slog.Logger) *Service {
	if cfg.Template == (Template{}) {
		cfg.Template = DefaultTemplate()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 90
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cache == nil {
		cache = noopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		schedule: schedule,
		catalog:  catalog,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With("component", "availability"),
	}
}

// Today is the current date in the business time zone.
func (s *Service) Today() domain.Date {
	return domain.Today(s.cfg.Now(), s.cfg.Location)
}

// Location is the business time zone appointment times are expressed in.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

type SlotQuery struct {
	Date      domain.Date
	Duration  int
	ServiceID uuid.UUID
}

func (s *Service) Slots(ctx context.Context, q SlotQuery) (Result, error) {
	ctx, span := tracer.Start(ctx, "availability.Slots")
	defer span.End()
	span.SetAttributes(attribute.String("date", q.Date.String()))

	if q.Date.IsZero() {
		return Result{}, failure.Validation("date is required")
	}
	duration := q.Duration
	if q.ServiceID != uuid.Nil {
		svc, err := s.catalog.GetService(ctx, q.ServiceID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !svc.Active) {
			return Result{}, failure.NotFound("service")
		}
		if err != nil {
			return Result{}, failure.Internal(err)
		}
		duration = svc.Duration()
	}
	if duration < 0 || duration > minutesPerDay {
		return Result{}, failure.Validation("duration must be between 1 and 1440 minutes")
	}

	res, err := s.Evaluate(ctx, s.schedule, q.Date, duration)
	if err != nil {
		return Result{}, failure.Internal(err)
	}
	return res, nil
}

// Evaluate computes slots for date from r, which may be a transaction. Past
// dates come back blocked; for today only slots after the current minute are
// offered.
func (s *Service) Evaluate(ctx context.Context, r store.ScheduleReader, date domain.Date, duration int) (Result, error) {
	now := s.cfg.Now().In(s.cfg.Location)
	today := domain.DateOf(now)
	if date.Before(today) {
		return Result{Slots: []domain.ClockTime{}, Blocked: true, Reason: ReasonPast}, nil
	}

	blocked, err := r.IsDateBlocked(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("check blocked date: %w", err)
	}
	if blocked {
		return Calculate(Input{Date: date, DateBlocked: true}), nil
	}
	weekdays, err := r.BlockedWeekdays(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load blocked weekdays: %w", err)
	}
	if weekdays.Contains(date.Weekday()) {
		return Calculate(Input{Date: date, BlockedWeekdays: weekdays}), nil
	}
	windows, err := r.ListWindows(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("load availability windows: %w", err)
	}
	bookings, err := r.ListActiveBookings(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("load bookings: %w", err)
	}

	in := Input{
		Date:            date,
		Duration:        duration,
		BlockedWeekdays: weekdays,
		Windows:         windows,
		Bookings:        bookings,
		Template:        s.cfg.Template,
	}
	if date.Equal(today) {
		in.NotBefore = domain.NewClockTime(now.Hour(), now.Minute()).Add(1)
	}
	return Calculate(in), nil
}

type CalendarView struct {
	From             domain.Date       `json:"from"`
	To               domain.Date       `json:"to"`
	BlockedDates     []domain.Date     `json:"blocked_dates"`
	BlockedWeekdays  domain.WeekdaySet `json:"blocked_weekdays"`
	FullyBookedDates []domain.Date     `json:"fully_booked_dates"`
	BookingCounts    map[string]int    `json:"booking_counts"`
}

// Calendar summarizes [from, to]. Zero bounds default to today and today plus
// the booking horizon. A date is fully booked when not even the shortest
// active service fits anywhere in it.
func (s *Service) Calendar(ctx context.Context, from, to domain.Date) (CalendarView, error) {
	ctx, span := tracer.Start(ctx, "availability.Calendar")
	defer span.End()

	if from.IsZero() {
		from = s.Today()
	}
	if to.IsZero() {
		to = from.AddDays(s.cfg.HorizonDays)
	}
	if to.Before(from) {
		return CalendarView{}, failure.Validation("to must not be before from")
	}
	if len(domain.DatesBetween(from, to)) > maxCalendarDays {
		return CalendarView{}, failure.Validation("date range too large")
	}
	span.SetAttributes(attribute.String("from", from.String()), attribute.String("to", to.String()))

	cached, gen, ok, err := s.cache.GetCalendar(ctx, from, to)
	if err != nil {
		s.logger.WarnContext(ctx, "calendar cache read failed", "err", err)
	} else if ok {
		return cached, nil
	}
	cacheable := err == nil

	view, err := s.buildCalendar(ctx, from, to)
	if err != nil {
		return CalendarView{}, failure.Internal(err)
	}
	if cacheable {
		if err := s.cache.PutCalendar(ctx, gen, view); err != nil {
			s.logger.WarnContext(ctx, "calendar cache write failed", "err", err)
		}
	}
	return view, nil
}

func (s *Service) buildCalendar(ctx context.Context, from, to domain.Date) (CalendarView, error) {
	blockedRows, err := s.schedule.ListBlockedDates(ctx, from, to)
	if err != nil {
		return CalendarView{}, fmt.Errorf("list blocked dates: %w", err)
	}
	weekdays, err := s.schedule.BlockedWeekdays(ctx)
	if err != nil {
		return CalendarView{}, fmt.Errorf("load blocked weekdays: %w", err)
	}
	windows, err := s.schedule.ListWindowsBetween(ctx, from, to)
	if err != nil {
		return CalendarView{}, fmt.Errorf("list windows: %w", err)
	}
	bookings, err := s.schedule.ListActiveBookingsBetween(ctx, from, to)
	if err != nil {
		return CalendarView{}, fmt.Errorf("list bookings: %w", err)
	}
	services, err := s.catalog.ListActiveServices(ctx)
	if err != nil {
		return CalendarView{}, fmt.Errorf("list services: %w", err)
	}

	shortest := 0
	for _, svc := range services {
		if d := svc.Duration(); shortest == 0 || d < shortest {
			shortest = d
		}
	}
	if shortest == 0 {
		shortest = s.cfg.Template.step()
	}

	blocked := map[string]bool{}
	view := CalendarView{
		From:             from,
		To:               to,
		BlockedDates:     make([]domain.Date, 0, len(blockedRows)),
		BlockedWeekdays:  weekdays,
		FullyBookedDates: []domain.Date{},
		BookingCounts:    map[string]int{},
	}
	for _, b := range blockedRows {
		blocked[b.Date.String()] = true
		view.BlockedDates = append(view.BlockedDates, b.Date)
	}

	windowsByDate := map[string][]domain.AvailabilityWindow{}
	for _, w := range windows {
		windowsByDate[w.Date.String()] = append(windowsByDate[w.Date.String()], w)
	}
	bookingsByDate := map[string][]domain.Booking{}
	for _, b := range bookings {
		key := b.AppointmentDate.String()
		bookingsByDate[key] = append(bookingsByDate[key], b)
		view.BookingCounts[key]++
	}

	now := s.cfg.Now().In(s.cfg.Location)
	today := domain.DateOf(now)
	for _, d := range domain.DatesBetween(from, to) {
		key := d.String()
		if blocked[key] || weekdays.Contains(d.Weekday()) {
			continue
		}
		if len(bookingsByDate[key]) == 0 && !d.Equal(today) {
			continue
		}
		in := Input{
			Date:     d,
			Duration: shortest,
			Windows:  windowsByDate[key],
			Bookings: bookingsByDate[key],
			Template: s.cfg.Template,
		}
		if d.Equal(today) {
			in.NotBefore = domain.NewClockTime(now.Hour(), now.Minute()).Add(1)
		}
		if res := Calculate(in); len(res.Slots) == 0 {
			view.FullyBookedDates = append(view.FullyBookedDates, d)
		}
	}
	return view, nil
}

// InvalidateCalendar drops cached calendar views. Failures are logged only.
func (s *Service) InvalidateCalendar(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "calendar cache invalidation failed", "err", err)
	}
}

func (s *Service) ListBlockedDates(ctx context.Context, from, to domain.Date) ([]domain.BlockedDate, error) {
	rows, err := s.schedule.ListBlockedDates(ctx, from, to)
	if err != nil {
		return nil, failure.Internal(err)
	}
	return rows, nil
}

func (s *Service) BlockDate(ctx context.Context, date domain.Date, reason string) (domain.BlockedDate, error) {
	if date.IsZero() {
		return domain.BlockedDate{}, failure.Validation("date is required")
	}
	row := domain.BlockedDate{Date: date}
	if r := strings.TrimSpace(reason); r != "" {
		row.Reason = &r
	}
	out, err := s.schedule.BlockDate(ctx, row)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.BlockedDate{}, failure.Conflict("date is already blocked")
	}
	if err != nil {
		return domain.BlockedDate{}, failure.Internal(err)
	}
	s.InvalidateCalendar(ctx)
	return out, nil
}

func (s *Service) UnblockDate(ctx context.Context, date domain.Date) error {
	err := s.schedule.UnblockDate(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return failure.NotFound("blocked date")
	}
	if err != nil {
		return failure.Internal(err)
	}
	s.InvalidateCalendar(ctx)
	return nil
}

func (s *Service) BlockedWeekdays(ctx context.Context) (domain.WeekdaySet, error) {
	days, err := s.schedule.BlockedWeekdays(ctx)
	if err != nil {
		return 0, failure.Internal(err)
	}
	return days, nil
}

func (s *Service) SetBlockedWeekdays(ctx context.Context, days []int) (domain.WeekdaySet, error) {
	set, err := domain.WeekdaySetFromInts(days)
	if err != nil {
		return 0, failure.Validation(err.Error())
	}
	if err := s.schedule.SetBlockedWeekdays(ctx, set); err != nil {
		return 0, failure.Internal(err)
	}
	s.InvalidateCalendar(ctx)
	return set, nil
}

func (s *Service) ListWindows(ctx context.Context, from, to domain.Date) ([]domain.AvailabilityWindow, error) {
	rows, err := s.schedule.ListWindowsBetween(ctx, from, to)
	if err != nil {
		return nil, failure.Internal(err)
	}
	return rows, nil
}

type WindowInput struct {
	Date        domain.Date
	StartTime   domain.ClockTime
	EndTime     domain.ClockTime
	IsAvailable bool
}

func (s *Service) UpsertWindow(ctx context.Context, in WindowInput) (domain.AvailabilityWindow, error) {
	if in.Date.IsZero() {
		return domain.AvailabilityWindow{}, failure.Validation("date is required")
	}
	if !in.StartTime.Valid() || !in.EndTime.Valid() || in.EndTime <= in.StartTime {
		return domain.AvailabilityWindow{}, failure.Validation("end_time must be after start_time")
	}
	w, err := s.schedule.UpsertWindow(ctx, domain.AvailabilityWindow{
		Date:        in.Date,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		IsAvailable: in.IsAvailable,
	})
	if err != nil {
		return domain.AvailabilityWindow{}, failure.Internal(err)
	}
	s.InvalidateCalendar(ctx)
	return w, nil
}

func (s *Service) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return failure.Validation("id is required")
	}
	err := s.schedule.DeleteWindow(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return failure.NotFound("availability window")
	}
	if err != nil {
		return failure.Internal(err)
	}
	s.InvalidateCalendar(ctx)
	return nil
}

type noopCache struct{}

func (noopCache) GetCalendar(context.Context, domain.Date, domain.Date) (CalendarView, int64, bool, error) {
	return CalendarView{}, 0, false, nil
}
func (noopCache) PutCalendar(context.Context, int64, CalendarView) error { return nil }
func (noopCache) Invalidate(context.Context) error                       { return nil }
