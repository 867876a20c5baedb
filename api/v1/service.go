package lockv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "flowkey.v1.LockService"

const (
	AcquireMethod = "/" + ServiceName + "/Acquire"
	ReleaseMethod = "/" + ServiceName + "/Release"
	RenewMethod   = "/" + ServiceName + "/Renew"
	StatusMethod  = "/" + ServiceName + "/Status"
	JoinMethod    = "/" + ServiceName + "/Join"
)

// LockServiceServer is the server API for the lock service.
type LockServiceServer interface {
	Acquire(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Release(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Renew(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Join(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterLockServiceServer(s grpc.ServiceRegistrar, srv LockServiceServer) {
	s.RegisterService(&LockService_ServiceDesc, srv)
}

type unaryCall func(LockServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LockServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LockServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

var LockService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Acquire", Handler: handler(AcquireMethod, LockServiceServer.Acquire)},
		{MethodName: "Release", Handler: handler(ReleaseMethod, LockServiceServer.Release)},
		{MethodName: "Renew", Handler: handler(RenewMethod, LockServiceServer.Renew)},
		{MethodName: "Status", Handler: handler(StatusMethod, LockServiceServer.Status)},
		{MethodName: "Join", Handler: handler(JoinMethod, LockServiceServer.Join)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowkey/v1/lock.proto",
}

// LockServiceClient is the client API for the lock service.
type LockServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLockServiceClient(cc grpc.ClientConnInterface) *LockServiceClient {
	return &LockServiceClient{cc: cc}
}

func (c *LockServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LockServiceClient) Acquire(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, AcquireMethod, in, opts...)
}

func (c *LockServiceClient) Release(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ReleaseMethod, in, opts...)
}

func (c *LockServiceClient) Renew(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, RenewMethod, in, opts...)
}

func (c *LockServiceClient) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StatusMethod, in, opts...)
}

func (c *LockServiceClient) Join(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, JoinMethod, in, opts...)
}
