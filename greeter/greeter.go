// Package greeter is the greeting service used by the example binaries.
//
// The same Greeter serves both transports: the urp server reaches SayHello
// through reflection, the gRPC server through GreeterServiceDesc. Payloads
// are JSON on both.
package greeter

import (
	"context"
	"errors"

	"unirpc/client"
)

// FullMethod is the path of SayHello on every transport.
const FullMethod = "/greet.Greeter/SayHello"

type HelloRequest struct {
	Name string `json:"name"`
}

type HelloReply struct {
	Message string `json:"message"`
}

// SayHello describes the SayHello method for callers.
var SayHello = client.NewMethod[HelloRequest, HelloReply](FullMethod)

var errEmptyName = errors.New("name is required")

// Greeter answers greetings.
type Greeter struct{}

func (g *Greeter) SayHello(ctx context.Context, req *HelloRequest, reply *HelloReply) error {
	if req.Name == "" {
		return errEmptyName
	}
	reply.Message = "Hello " + req.Name
	return nil
}

// GreeterClient is a typed client of the Greeter service.
type GreeterClient struct {
	sayHello *client.UnaryCaller[HelloRequest, HelloReply]
}

func NewGreeterClient(ch client.Channel, opts ...client.CallerOption) *GreeterClient {
	return &GreeterClient{sayHello: client.NewUnaryCaller(ch, SayHello, opts...)}
}

func (c *GreeterClient) SayHello(ctx context.Context, in *HelloRequest) (*HelloReply, error) {
	return c.sayHello.Call(ctx, in)
}
