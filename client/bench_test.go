package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"unirpc/channel"
	"unirpc/client"
	"unirpc/greeter"
	"unirpc/server"
)

func openGreeter(b *testing.B) *channel.Channel {
	b.Helper()
	svr := server.NewServer()
	if err := svr.Register(&greeter.Greeter{}); err != nil {
		b.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go svr.ServeListener(l)
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	ch, err := channel.Open(context.Background(), l.Addr().String(), channel.Config{})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { ch.Shutdown() })
	return ch
}

// One goroutine calling serially.
func BenchmarkSerialCall(b *testing.B) {
	caller := client.NewUnaryCaller(openGreeter(b), greeter.SayHello)
	req := &greeter.HelloRequest{Name: "bench"}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := caller.Call(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines sharing one multiplexed connection.
func BenchmarkConcurrentCall(b *testing.B) {
	caller := client.NewUnaryCaller(openGreeter(b), greeter.SayHello)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		req := &greeter.HelloRequest{Name: "bench"}
		for pb.Next() {
			if _, err := caller.Call(context.Background(), req); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
