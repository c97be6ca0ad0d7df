// Package grpc serves read-only availability queries to internal callers
// such as the storefront renderer.
package grpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/service/availability"
)

const ServiceName = "salonbook.v1.AvailabilityService"

type availabilityService interface {
	Slots(ctx context.Context, q availability.SlotQuery) (availability.Result, error)
	Calendar(ctx context.Context, from, to domain.Date) (availability.CalendarView, error)
}

// availabilityRPC is the handler contract registered in ServiceDesc.
type availabilityRPC interface {
	GetSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCalendar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type AvailabilityServer struct {
	svc availabilityService
	log *slog.Logger
}

func NewAvailabilityServer(svc availabilityService, log *slog.Logger) *AvailabilityServer {
	if log == nil {
		log = slog.Default()
	}
	return &AvailabilityServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.availability")),
	}
}

// ServiceDesc takes and returns google.protobuf.Struct for every method.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*availabilityRPC)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSlots", Handler: unaryHandler("GetSlots", availabilityRPC.GetSlots)},
		{MethodName: "GetCalendar", Handler: unaryHandler("GetCalendar", availabilityRPC.GetCalendar)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "salonbook/v1/availability.proto",
}

func Register(s grpc.ServiceRegistrar, srv *AvailabilityServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(availabilityRPC, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(availabilityRPC), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(availabilityRPC), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *AvailabilityServer) GetSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetSlots"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	fields := req.GetFields()

	date, err := domain.ParseDate(stringField(fields, "date"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"))
		return nil, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}
	q := availability.SlotQuery{Date: date, Duration: int(fields["duration"].GetNumberValue())}
	if raw := stringField(fields, "service_id"); raw != "" {
		if q.ServiceID, err = uuid.Parse(raw); err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
			return nil, status.Error(codes.InvalidArgument, "service_id must be a UUID")
		}
	}

	res, err := s.svc.Slots(ctx, q)
	if err != nil {
		return nil, s.statusError(log, "slot query failed", err, slog.String("date", date.String()))
	}

	slots := make([]any, 0, len(res.Slots))
	for _, c := range res.Slots {
		slots = append(slots, c.String())
	}
	duration := q.Duration
	if duration <= 0 {
		duration = domain.DefaultServiceDurationMinutes
	}
	out, err := structpb.NewStruct(map[string]any{
		"date":     date.String(),
		"duration": duration,
		"slots":    slots,
		"blocked":  res.Blocked,
		"reason":   string(res.Reason),
	})
	if err != nil {
		log.Error("encode slots failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	log.Debug("slots listed", slog.String("date", date.String()), slog.Int("count", len(slots)), slog.Bool("blocked", res.Blocked))
	return out, nil
}

func (s *AvailabilityServer) GetCalendar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetCalendar"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	fields := req.GetFields()

	var from, to domain.Date
	var err error
	if raw := stringField(fields, "from"); raw != "" {
		if from, err = domain.ParseDate(raw); err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_from"))
			return nil, status.Error(codes.InvalidArgument, "from must be YYYY-MM-DD")
		}
	}
	if raw := stringField(fields, "to"); raw != "" {
		if to, err = domain.ParseDate(raw); err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_to"))
			return nil, status.Error(codes.InvalidArgument, "to must be YYYY-MM-DD")
		}
	}

	view, err := s.svc.Calendar(ctx, from, to)
	if err != nil {
		return nil, s.statusError(log, "calendar query failed", err)
	}

	raw, err := json.Marshal(view)
	if err != nil {
		log.Error("encode calendar failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		log.Error("encode calendar failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	log.Debug("calendar listed", slog.String("from", view.From.String()), slog.String("to", view.To.String()))
	return out, nil
}

// statusError maps a service failure onto a gRPC status, logging at the
// level the HTTP layer would use for the same kind.
func (s *AvailabilityServer) statusError(log *slog.Logger, msg string, err error, args ...any) error {
	code := codeFor(err)
	args = append(args, slog.Any("err", err))
	switch code {
	case codes.Internal, codes.Unavailable:
		log.Error(msg, args...)
	default:
		log.Info(msg, args...)
	}
	return status.Error(code, failure.PublicMessage(err))
}

func codeFor(err error) codes.Code {
	switch failure.KindOf(err) {
	case failure.KindValidation:
		return codes.InvalidArgument
	case failure.KindNotFound:
		return codes.NotFound
	case failure.KindConflict:
		return codes.FailedPrecondition
	case failure.KindUpstream:
		return codes.Unavailable
	case failure.KindAuth:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}

func stringField(fields map[string]*structpb.Value, key string) string {
	return strings.TrimSpace(fields[key].GetStringValue())
}
