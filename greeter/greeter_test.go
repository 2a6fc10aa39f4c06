package greeter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	units "github.com/docker/go-units"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"unirpc/channel"
	"unirpc/greeter"
	"unirpc/rpcerr"
	"unirpc/server"
	"unirpc/transport"
)

var limits = channel.Config{MaxSendBytes: 2 * units.MiB, MaxReceiveBytes: 5 * units.MiB}

// localTransport runs requests against a Greeter in process.
type localTransport struct {
	g     greeter.Greeter
	sends atomic.Int32
}

func (l *localTransport) Invoke(ctx context.Context, req *transport.Request) ([]byte, error) {
	l.sends.Add(1)
	if req.Method != greeter.FullMethod || req.ContentType != "json" {
		return nil, &transport.ServerError{Method: req.Method, Message: "unknown method"}
	}
	var in greeter.HelloRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return nil, err
	}
	var out greeter.HelloReply
	if err := l.g.SayHello(ctx, &in, &out); err != nil {
		return nil, &transport.ServerError{Method: req.Method, Message: err.Error()}
	}
	return json.Marshal(&out)
}

func (l *localTransport) Close() error { return nil }

func openLocal(t *testing.T) (*channel.Channel, *localTransport) {
	t.Helper()
	lt := &localTransport{}
	transport.Register("svc", func(ctx context.Context, target string, opts transport.DialOptions) (transport.ClientTransport, error) {
		return lt, nil
	})
	t.Cleanup(func() { transport.Unregister("svc") })

	ch, err := channel.Open(context.Background(), "svc://host", limits)
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	t.Cleanup(func() { ch.Shutdown() })
	return ch, lt
}

func TestSayHello(t *testing.T) {
	ch, _ := openLocal(t)
	c := greeter.NewGreeterClient(ch)

	reply, err := c.SayHello(context.Background(), &greeter.HelloRequest{Name: "GreeterClient"})
	if err != nil {
		t.Fatalf("SayHello failed: %v", err)
	}
	if reply.Message != "Hello GreeterClient" {
		t.Fatalf("expect 'Hello GreeterClient', got %q", reply.Message)
	}
}

func TestSayHelloTooLarge(t *testing.T) {
	ch, lt := openLocal(t)
	c := greeter.NewGreeterClient(ch)

	name := strings.Repeat("x", 3*units.MiB)
	_, err := c.SayHello(context.Background(), &greeter.HelloRequest{Name: name})
	if !errors.Is(err, rpcerr.SendTooLarge) {
		t.Fatalf("expect SendTooLarge, got %v", err)
	}
	if n := lt.sends.Load(); n != 0 {
		t.Fatalf("expect nothing sent, got %d sends", n)
	}
}

func TestSayHelloEmptyName(t *testing.T) {
	ch, _ := openLocal(t)
	c := greeter.NewGreeterClient(ch)

	_, err := c.SayHello(context.Background(), &greeter.HelloRequest{})
	if !errors.Is(err, rpcerr.TransportFailure) {
		t.Fatalf("expect TransportFailure, got %v", err)
	}
	var se *transport.ServerError
	if !errors.As(err, &se) || se.Message != "name is required" {
		t.Fatalf("expect server error, got %v", err)
	}
}

func TestSayHelloAfterShutdown(t *testing.T) {
	ch, lt := openLocal(t)
	c := greeter.NewGreeterClient(ch)
	if err := ch.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	_, err := c.SayHello(context.Background(), &greeter.HelloRequest{Name: "GreeterClient"})
	if !errors.Is(err, rpcerr.ChannelClosed) {
		t.Fatalf("expect ChannelClosed, got %v", err)
	}
	if n := lt.sends.Load(); n != 0 {
		t.Fatalf("expect nothing sent, got %d sends", n)
	}
}

func TestSayHelloOverFrames(t *testing.T) {
	svr := server.NewServer()
	if err := svr.Register(&greeter.Greeter{}); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l)
	defer svr.Shutdown(time.Second)

	ch, err := channel.Open(context.Background(), "urp://"+l.Addr().String(), limits)
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	defer ch.Shutdown()

	reply, err := greeter.NewGreeterClient(ch).SayHello(context.Background(), &greeter.HelloRequest{Name: "GreeterClient"})
	if err != nil {
		t.Fatalf("SayHello failed: %v", err)
	}
	if reply.Message != "Hello GreeterClient" {
		t.Fatalf("expect 'Hello GreeterClient', got %q", reply.Message)
	}
}

func TestSayHelloOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	greeter.RegisterGreeterServer(s, &greeter.Greeter{})
	go s.Serve(lis)
	defer s.Stop()

	ch, err := channel.Open(context.Background(), "grpc://passthrough:///bufnet", limits,
		channel.WithNetDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	defer ch.Shutdown()

	c := greeter.NewGreeterClient(ch)
	reply, err := c.SayHello(context.Background(), &greeter.HelloRequest{Name: "GreeterClient"})
	if err != nil {
		t.Fatalf("SayHello failed: %v", err)
	}
	if reply.Message != "Hello GreeterClient" {
		t.Fatalf("expect 'Hello GreeterClient', got %q", reply.Message)
	}

	_, err = c.SayHello(context.Background(), &greeter.HelloRequest{})
	if !errors.Is(err, rpcerr.TransportFailure) {
		t.Fatalf("expect TransportFailure, got %v", err)
	}
}
