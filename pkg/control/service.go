package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "procman.v1.Supervisor"

const (
	methodStart   = "/" + ServiceName + "/Start"
	methodStop    = "/" + ServiceName + "/Stop"
	methodRestart = "/" + ServiceName + "/Restart"
	methodReload  = "/" + ServiceName + "/Reload"
	methodStatus  = "/" + ServiceName + "/Status"
)

// SupervisorServer is the server side of procman.v1.Supervisor. Requests and
// responses are protobuf well-known types.
type SupervisorServer interface {
	Start(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Stop(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Restart(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Reload(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var supervisorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SupervisorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: nameHandler(methodStart, SupervisorServer.Start)},
		{MethodName: "Stop", Handler: nameHandler(methodStop, SupervisorServer.Stop)},
		{MethodName: "Restart", Handler: nameHandler(methodRestart, SupervisorServer.Restart)},
		{MethodName: "Reload", Handler: reloadHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procman/v1/supervisor.proto",
}

type nameMethod func(SupervisorServer, context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)

func nameHandler(fullMethod string, method nameMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(SupervisorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(srv.(SupervisorServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func reloadHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SupervisorServer).Reload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReload}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SupervisorServer).Reload(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SupervisorServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SupervisorServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// supervisorClient is the client side of procman.v1.Supervisor
type supervisorClient struct {
	cc grpc.ClientConnInterface
}

func (c *supervisorClient) invokeName(ctx context.Context, method, name string, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, method, wrapperspb.String(name), new(emptypb.Empty), opts...)
}

func (c *supervisorClient) Reload(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, methodReload, new(emptypb.Empty), new(emptypb.Empty), opts...)
}

func (c *supervisorClient) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodStatus, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
