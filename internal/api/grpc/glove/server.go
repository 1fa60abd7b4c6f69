package glove

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/safeglove/internal/bus"
	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
	"github.com/oshokin/safeglove/internal/wire"
)

// ActorMetadataKey carries the operator identity of control requests.
const ActorMetadataKey = "x-safeglove-actor"

// Service abstracts the session operations the transport layer depends on.
type Service interface {
	Publish(ctx context.Context, ev threat.SignalEvent) error
	Status(ctx context.Context) threat.Snapshot
	RestartSession(ctx context.Context) (threat.Snapshot, error)
	SetAutoResponse(ctx context.Context, enabled bool) (threat.Snapshot, error)
	TestSystems(ctx context.Context) []threat.SystemCheck
}

// Server implements the GloveService gRPC API.
type Server struct {
	// service runs the session behind the transport.
	service Service
}

var _ GloveServiceServer = (*Server)(nil)

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Emit decodes a producer event and publishes it.
func (s *Server) Emit(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	ev, err := wire.EventFromStruct(req)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	if err = s.service.Publish(ctx, ev); err != nil {
		return nil, toStatus(ctx, err)
	}

	return new(emptypb.Empty), nil
}

// GetStatus returns the session snapshot.
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return snapshotResponse(ctx, s.service.Status(ctx), nil)
}

// RestartSession resets the session to Safe and returns the new snapshot.
func (s *Server) RestartSession(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	logger.InfoKV(ctx, "Session restart requested", "requested_by", requestedBy(ctx))

	snapshot, err := s.service.RestartSession(ctx)

	return snapshotResponse(ctx, snapshot, err)
}

// SetAutoResponse toggles SMS and authority-contact actions.
func (s *Server) SetAutoResponse(ctx context.Context, req *wrapperspb.BoolValue) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	logger.InfoKV(ctx, "Automatic response change requested",
		"enabled", req.GetValue(),
		"requested_by", requestedBy(ctx))

	snapshot, err := s.service.SetAutoResponse(ctx, req.GetValue())

	return snapshotResponse(ctx, snapshot, err)
}

// TestSystems probes every action executor.
func (s *Server) TestSystems(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	response, err := wire.ChecksToStruct(s.service.TestSystems(ctx))
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return response, nil
}

func snapshotResponse(ctx context.Context, snapshot threat.Snapshot, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	response, err := wire.SnapshotToStruct(snapshot)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return response, nil
}

// requestedBy returns the actor sent by the client, if any.
func requestedBy(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "unknown"
	}

	if values := md.Get(ActorMetadataKey); len(values) > 0 {
		return values[0]
	}

	return "unknown"
}

// toStatus maps service errors onto gRPC status codes.
func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, threat.ErrInvalidEvent):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, bus.ErrBusFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, bus.ErrBusClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		logger.ErrorKV(ctx, "Request failed", "error", err)

		return status.Error(codes.Internal, "internal error")
	}
}
