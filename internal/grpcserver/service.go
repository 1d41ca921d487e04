package grpcserver

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/admission-service/internal/logging"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jobmate.admission.v1.AdmissionService"

// AdmissionServer is the server API of the AdmissionService.
type AdmissionServer interface {
	ChangeStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJobStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the AdmissionService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdmissionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ChangeStatus",
			Handler:    unary("ChangeStatus", AdmissionServer.ChangeStatus),
		},
		{
			MethodName: "GetJobStats",
			Handler:    unary("GetJobStats", AdmissionServer.GetJobStats),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobmate/admission/v1/admission.proto",
}

func unary(method string, call func(AdmissionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdmissionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdmissionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ─── Client ──────────────────────────────────────────────────────────────────

// Client calls a remote AdmissionService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ChangeStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ChangeStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetJobStats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetJobStats", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ─── Interceptors ────────────────────────────────────────────────────────────

// LoggingInterceptor carries the caller's x-request-id into the context and
// logs failed calls.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	id := logging.NewRequestID()
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := first(md, logging.RequestIDHeader); v != "" {
			id = v
		}
	}
	ctx = logging.WithRequestID(ctx, id)

	resp, err := handler(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "grpc call failed", "method", info.FullMethod, "err", err)
	}
	return resp, err
}
