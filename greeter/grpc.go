package greeter

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	_ "unirpc/codec" // registers the "json" grpc codec
)

// greeterServer is the handler type of GreeterServiceDesc.
type greeterServer interface {
	SayHello(context.Context, *HelloRequest, *HelloReply) error
}

// RegisterGreeterServer registers g on a gRPC server.
func RegisterGreeterServer(s grpc.ServiceRegistrar, g *Greeter) {
	s.RegisterService(&GreeterServiceDesc, g)
}

func _Greeter_SayHello_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HelloRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		out := new(HelloReply)
		if err := srv.(greeterServer).SayHello(ctx, req.(*HelloRequest), out); err != nil {
			return nil, toStatus(err)
		}
		return out, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
	return interceptor(ctx, in, info, handler)
}

func toStatus(err error) error {
	if err == errEmptyName {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}

// GreeterServiceDesc is the grpc.ServiceDesc for the Greeter service.
// Clients must send the "json" content subtype.
var GreeterServiceDesc = grpc.ServiceDesc{
	ServiceName: "greet.Greeter",
	HandlerType: (*greeterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SayHello", Handler: _Greeter_SayHello_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "greet.proto",
}
