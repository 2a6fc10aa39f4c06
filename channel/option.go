package channel

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"unirpc/transport"
)

type options struct {
	logger    *zap.Logger
	dial      transport.DialOptions
	transport transport.ClientTransport
}

func defaultOptions() options {
	return options{}
}

// Option configures a Channel.
type Option func(*options)

// WithLogger sets the logger used by the channel and its transport.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNetDialer replaces the TCP dialer of the transport.
func WithNetDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(o *options) {
		o.dial.NetDialer = dial
	}
}

// WithGRPCDialOptions appends options to the grpc transport's dial options.
func WithGRPCDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dial.GRPCDialOptions = append(o.dial.GRPCDialOptions, opts...)
	}
}

// WithTransport makes Open use t instead of dialing the address.
// The channel takes ownership of t and closes it on Shutdown.
func WithTransport(t transport.ClientTransport) Option {
	return func(o *options) {
		o.transport = t
	}
}
