package store

import (
	"context"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
)

// ScheduleRepository manages the admin-controlled opening calendar. Zero
// from/to dates leave that side of a range open.
type ScheduleRepository interface {
	ScheduleReader

	ListBlockedDates(ctx context.Context, from, to domain.Date) ([]domain.BlockedDate, error)
	BlockDate(ctx context.Context, blocked domain.BlockedDate) (domain.BlockedDate, error)
	UnblockDate(ctx context.Context, date domain.Date) error

	SetBlockedWeekdays(ctx context.Context, days domain.WeekdaySet) error

	ListWindowsBetween(ctx context.Context, from, to domain.Date) ([]domain.AvailabilityWindow, error)
	UpsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, id uuid.UUID) error

	ListActiveBookingsBetween(ctx context.Context, from, to domain.Date) ([]domain.Booking, error)
}
