package availability

import (
	"sort"

	"salonbook/backend/internal/domain"
)

const minutesPerDay = 24 * 60

// Template is the default day when no availability windows are set: slots
// from First to Last, both inclusive, every Step minutes.
type Template struct {
	First domain.ClockTime
	Last  domain.ClockTime
	Step  int
}

func DefaultTemplate() Template {
	return Template{
		First: domain.NewClockTime(9, 0),
		Last:  domain.NewClockTime(17, 0),
		Step:  60,
	}
}

func (t Template) step() int {
	if t.Step <= 0 {
		return 60
	}
	return t.Step
}

func (t Template) slots() []domain.ClockTime {
	var out []domain.ClockTime
	for m := t.First; m <= t.Last; m = m.Add(t.step()) {
		out = append(out, m)
	}
	return out
}

type BlockReason string

const (
	ReasonNone           BlockReason = ""
	ReasonBlockedDate    BlockReason = "blocked_date"
	ReasonBlockedWeekday BlockReason = "blocked_weekday"
	ReasonPast           BlockReason = "past"
)

type Input struct {
	Date            domain.Date
	Duration        int
	DateBlocked     bool
	BlockedWeekdays domain.WeekdaySet
	Windows         []domain.AvailabilityWindow
	Bookings        []domain.Booking
	Template        Template
	// NotBefore drops candidates that start earlier. The zero value keeps the
	// whole day.
	NotBefore domain.ClockTime
}

type Result struct {
	Slots   []domain.ClockTime
	Blocked bool
	Reason  BlockReason
}

func (r Result) Contains(t domain.ClockTime) bool {
	i := sort.Search(len(r.Slots), func(i int) bool { return r.Slots[i] >= t })
	return i < len(r.Slots) && r.Slots[i] == t
}

// Calculate returns the start times a booking of in.Duration minutes can take
// on in.Date. Each existing booking occupies its own duration, and a candidate
// is rejected if [M, M+Duration) overlaps any of them.
func Calculate(in Input) Result {
	if in.DateBlocked {
		return Result{Slots: []domain.ClockTime{}, Blocked: true, Reason: ReasonBlockedDate}
	}
	if in.BlockedWeekdays.Contains(in.Date.Weekday()) {
		return Result{Slots: []domain.ClockTime{}, Blocked: true, Reason: ReasonBlockedWeekday}
	}

	duration := in.Duration
	if duration <= 0 {
		duration = domain.DefaultServiceDurationMinutes
	}

	occupied := make([]domain.Interval, 0, len(in.Bookings))
	for _, b := range in.Bookings {
		if b.Status == domain.BookingStatusCancelled {
			continue
		}
		if b.DurationMinutes <= 0 {
			b.DurationMinutes = domain.DefaultServiceDurationMinutes
		}
		occupied = append(occupied, b.Occupies())
	}

	slots := make([]domain.ClockTime, 0, 16)
	for _, m := range candidates(in) {
		if m < in.NotBefore {
			continue
		}
		want := domain.Interval{Start: int(m), End: int(m) + duration}
		if want.End > minutesPerDay {
			continue
		}
		free := true
		for _, o := range occupied {
			if want.Overlaps(o) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, m)
		}
	}
	return Result{Slots: slots}
}

// candidates walks every available window's [start, end) by the template step.
// Without an available window the default template applies.
func candidates(in Input) []domain.ClockTime {
	tmpl := in.Template
	if tmpl == (Template{}) {
		tmpl = DefaultTemplate()
	}
	step := tmpl.step()
	seen := map[domain.ClockTime]bool{}
	var out []domain.ClockTime
	for _, w := range in.Windows {
		if !w.IsAvailable {
			continue
		}
		for m := w.StartTime; m < w.EndTime; m = m.Add(step) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	if len(seen) == 0 {
		return tmpl.slots()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
