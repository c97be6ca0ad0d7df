package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/service/availability"
)

type fakeAvailabilityService struct {
	slotsFn    func(ctx context.Context, q availability.SlotQuery) (availability.Result, error)
	calendarFn func(ctx context.Context, from, to domain.Date) (availability.CalendarView, error)
}

func (f *fakeAvailabilityService) Slots(ctx context.Context, q availability.SlotQuery) (availability.Result, error) {
	if f.slotsFn == nil {
		panic("Slots not configured")
	}
	return f.slotsFn(ctx, q)
}

func (f *fakeAvailabilityService) Calendar(ctx context.Context, from, to domain.Date) (availability.CalendarView, error) {
	if f.calendarFn == nil {
		panic("Calendar not configured")
	}
	return f.calendarFn(ctx, from, to)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestGetSlots_RejectsBadDate(t *testing.T) {
	srv := NewAvailabilityServer(&fakeAvailabilityService{}, slog.Default())

	_, err := srv.GetSlots(context.Background(), mustStruct(t, map[string]any{"date": "02/06/2025"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}

	_, err = srv.GetSlots(context.Background(), nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("nil request code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestGetSlots_RejectsBadServiceID(t *testing.T) {
	srv := NewAvailabilityServer(&fakeAvailabilityService{}, slog.Default())

	_, err := srv.GetSlots(context.Background(), mustStruct(t, map[string]any{"date": "2025-06-02", "service_id": "nope"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestGetSlots_PassesQueryAndEncodesSlots(t *testing.T) {
	serviceID := uuid.MustParse("00000000-0000-0000-0000-000000000042")
	var got availability.SlotQuery

	srv := NewAvailabilityServer(&fakeAvailabilityService{
		slotsFn: func(ctx context.Context, q availability.SlotQuery) (availability.Result, error) {
			got = q
			return availability.Result{Slots: []domain.ClockTime{domain.NewClockTime(9, 0), domain.NewClockTime(10, 30)}}, nil
		},
	}, slog.Default())

	out, err := srv.GetSlots(context.Background(), mustStruct(t, map[string]any{
		"date":       "2025-06-02",
		"duration":   90,
		"service_id": serviceID.String(),
	}))
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	if got.Date != domain.NewDate(2025, 6, 2) || got.Duration != 90 || got.ServiceID != serviceID {
		t.Fatalf("query = %+v", got)
	}

	m := out.AsMap()
	slots, _ := m["slots"].([]any)
	if len(slots) != 2 || slots[0] != "09:00" || slots[1] != "10:30" {
		t.Fatalf("slots = %v", m["slots"])
	}
	if m["duration"] != float64(90) {
		t.Fatalf("duration = %v, want 90", m["duration"])
	}
	if m["blocked"] != false {
		t.Fatalf("blocked = %v, want false", m["blocked"])
	}
}

func TestGetSlots_MapsFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", failure.Validation("date is required"), codes.InvalidArgument},
		{"not found", failure.NotFound("service"), codes.NotFound},
		{"conflict", failure.Conflict("taken"), codes.FailedPrecondition},
		{"upstream", failure.Upstream("cache unavailable", true, errors.New("dial")), codes.Unavailable},
		{"internal", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewAvailabilityServer(&fakeAvailabilityService{
				slotsFn: func(ctx context.Context, q availability.SlotQuery) (availability.Result, error) {
					return availability.Result{}, tt.err
				},
			}, slog.Default())

			_, err := srv.GetSlots(context.Background(), mustStruct(t, map[string]any{"date": "2025-06-02"}))
			if status.Code(err) != tt.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tt.want)
			}
			if tt.want == codes.Internal {
				if msg := status.Convert(err).Message(); msg != "internal error" {
					t.Fatalf("message = %q, want internal error", msg)
				}
			}
		})
	}
}

func TestGetCalendar_EncodesView(t *testing.T) {
	srv := NewAvailabilityServer(&fakeAvailabilityService{
		calendarFn: func(ctx context.Context, from, to domain.Date) (availability.CalendarView, error) {
			if from != domain.NewDate(2025, 6, 1) || !to.IsZero() {
				t.Fatalf("bounds = %s..%s", from, to)
			}
			return availability.CalendarView{
				From:             from,
				To:               from.AddDays(30),
				BlockedDates:     []domain.Date{domain.NewDate(2025, 6, 10)},
				FullyBookedDates: []domain.Date{},
				BookingCounts:    map[string]int{"2025-06-02": 3},
			}, nil
		},
	}, slog.Default())

	out, err := srv.GetCalendar(context.Background(), mustStruct(t, map[string]any{"from": "2025-06-01"}))
	if err != nil {
		t.Fatalf("GetCalendar error: %v", err)
	}
	m := out.AsMap()
	if m["to"] != "2025-07-01" {
		t.Fatalf("to = %v", m["to"])
	}
	blocked, _ := m["blocked_dates"].([]any)
	if len(blocked) != 1 || blocked[0] != "2025-06-10" {
		t.Fatalf("blocked_dates = %v", m["blocked_dates"])
	}
	counts, _ := m["booking_counts"].(map[string]any)
	if counts["2025-06-02"] != float64(3) {
		t.Fatalf("booking_counts = %v", m["booking_counts"])
	}
}

func TestServiceDesc_RoundTripOverBufconn(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	Register(s, NewAvailabilityServer(&fakeAvailabilityService{
		slotsFn: func(ctx context.Context, q availability.SlotQuery) (availability.Result, error) {
			return availability.Result{Slots: []domain.ClockTime{}, Blocked: true, Reason: availability.ReasonBlockedDate}, nil
		},
	}, slog.Default()))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+ServiceName+"/GetSlots", mustStruct(t, map[string]any{"date": "2025-06-02"}), out)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	m := out.AsMap()
	if m["blocked"] != true || m["reason"] != "blocked_date" {
		t.Fatalf("reply = %v", m)
	}
	if slots, _ := m["slots"].([]any); len(slots) != 0 {
		t.Fatalf("slots = %v, want empty", m["slots"])
	}

	err = conn.Invoke(context.Background(), "/"+ServiceName+"/GetSlots", mustStruct(t, map[string]any{"date": "bad"}), out)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}
