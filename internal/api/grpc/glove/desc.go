package glove

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "safeglove.v1.GloveService"

// Full method names of GloveService.
const (
	EmitMethod            = "/" + ServiceName + "/Emit"
	GetStatusMethod       = "/" + ServiceName + "/GetStatus"
	RestartSessionMethod  = "/" + ServiceName + "/RestartSession"
	SetAutoResponseMethod = "/" + ServiceName + "/SetAutoResponse"
	TestSystemsMethod     = "/" + ServiceName + "/TestSystems"
)

// GloveServiceServer is the server API for GloveService.
type GloveServiceServer interface {
	// Emit publishes one signal event onto the bus.
	Emit(ctx context.Context, event *structpb.Struct) (*emptypb.Empty, error)
	// GetStatus returns the session snapshot.
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// RestartSession starts a fresh session at Safe.
	RestartSession(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// SetAutoResponse toggles SMS and authority-contact actions.
	SetAutoResponse(ctx context.Context, enabled *wrapperspb.BoolValue) (*structpb.Struct, error)
	// TestSystems probes every action executor.
	TestSystems(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc is the grpc.ServiceDesc for GloveService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GloveServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Emit", Handler: emitHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "RestartSession", Handler: restartSessionHandler},
		{MethodName: "SetAutoResponse", Handler: setAutoResponseHandler},
		{MethodName: "TestSystems", Handler: testSystemsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "safeglove/v1/glove.proto",
}

// RegisterGloveServiceServer registers srv on the given registrar.
func RegisterGloveServiceServer(registrar grpc.ServiceRegistrar, srv GloveServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func emitHandler(
	srv any,
	ctx context.Context, //nolint:revive // grpc handler signature.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	server := srv.(GloveServiceServer) //nolint:forcetypeassert // guaranteed by HandlerType.
	if interceptor == nil {
		return server.Emit(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return server.Emit(ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(
	srv any,
	ctx context.Context, //nolint:revive // grpc handler signature.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	return emptyHandler(srv, ctx, dec, interceptor, GetStatusMethod, GloveServiceServer.GetStatus)
}

func restartSessionHandler(
	srv any,
	ctx context.Context, //nolint:revive // grpc handler signature.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	return emptyHandler(srv, ctx, dec, interceptor, RestartSessionMethod, GloveServiceServer.RestartSession)
}

func testSystemsHandler(
	srv any,
	ctx context.Context, //nolint:revive // grpc handler signature.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	return emptyHandler(srv, ctx, dec, interceptor, TestSystemsMethod, GloveServiceServer.TestSystems)
}

func setAutoResponseHandler(
	srv any,
	ctx context.Context, //nolint:revive // grpc handler signature.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(wrapperspb.BoolValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	server := srv.(GloveServiceServer) //nolint:forcetypeassert // guaranteed by HandlerType.
	if interceptor == nil {
		return server.SetAutoResponse(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SetAutoResponseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return server.SetAutoResponse(ctx, req.(*wrapperspb.BoolValue)) //nolint:forcetypeassert // decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

// emptyHandler serves the methods that take no arguments and return a Struct.
func emptyHandler(
	srv any,
	ctx context.Context, //nolint:revive // grpc handler signature.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
	method string,
	call func(GloveServiceServer, context.Context, *emptypb.Empty) (*structpb.Struct, error),
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	server := srv.(GloveServiceServer) //nolint:forcetypeassert // guaranteed by HandlerType.
	if interceptor == nil {
		return call(server, ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(server, ctx, req.(*emptypb.Empty)) //nolint:forcetypeassert // decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

// GloveServiceClient is the client API for GloveService.
type GloveServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewGloveServiceClient wraps a client connection.
func NewGloveServiceClient(cc grpc.ClientConnInterface) *GloveServiceClient {
	return &GloveServiceClient{cc: cc}
}

// Emit publishes one signal event.
func (c *GloveServiceClient) Emit(ctx context.Context, event *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, EmitMethod, event, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// GetStatus returns the session snapshot.
func (c *GloveServiceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeEmpty(ctx, GetStatusMethod, opts...)
}

// RestartSession starts a fresh session.
func (c *GloveServiceClient) RestartSession(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeEmpty(ctx, RestartSessionMethod, opts...)
}

// SetAutoResponse toggles automatic responses.
func (c *GloveServiceClient) SetAutoResponse(
	ctx context.Context,
	enabled bool,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SetAutoResponseMethod, wrapperspb.Bool(enabled), out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// TestSystems probes every action executor.
func (c *GloveServiceClient) TestSystems(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeEmpty(ctx, TestSystemsMethod, opts...)
}

func (c *GloveServiceClient) invokeEmpty(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
