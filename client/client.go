// Package client performs typed unary calls over a channel.
//
// A Method describes one remote procedure: its path and the codec that turns
// the request and response types into bytes. A UnaryCaller binds a Method to
// a channel:
//
//	ch, _ := channel.Open(ctx, "grpc://localhost:5001", channel.Config{MaxSendBytes: 2 << 20})
//	caller := client.NewUnaryCaller(ch, greeter.SayHello)
//	reply, err := caller.Call(ctx, &greeter.HelloRequest{Name: "GreeterClient"})
package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"unirpc/channel"
	"unirpc/codec"
	"unirpc/rpcerr"
)

// Channel is what a caller needs from *channel.Channel.
type Channel interface {
	State() channel.State
	Invoke(ctx context.Context, method, contentType string, payload []byte) ([]byte, error)
}

// Method maps a method path to the codec of its request and response.
type Method[Req, Resp any] struct {
	Path  string      // "/greet.Greeter/SayHello" or "Greeter.SayHello"
	Codec codec.Codec // Payload codec; its name is sent as the content type
}

// NewMethod describes a method whose payloads are JSON encoded.
func NewMethod[Req, Resp any](path string) *Method[Req, Resp] {
	return &Method[Req, Resp]{Path: path, Codec: &codec.JSONCodec{}}
}

// NewProtoMethod describes a method whose payloads are protobuf messages.
// Req and Resp are the message structs, e.g. wrapperspb.StringValue.
func NewProtoMethod[Req, Resp any](path string) *Method[Req, Resp] {
	return &Method[Req, Resp]{Path: path, Codec: &codec.ProtoCodec{}}
}

// CallState is the progress of a single call.
type CallState int

const (
	Idle             CallState = iota
	Sending                    // Encoding the request and checking its size
	AwaitingResponse           // Request handed to the channel
	Completed
	Failed
)

var callStateNames = [...]string{"Idle", "Sending", "AwaitingResponse", "Completed", "Failed"}

func (s CallState) String() string {
	if s >= 0 && int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return fmt.Sprintf("CallState(%d)", int(s))
}

// UnaryCaller performs calls of one method over one channel. It holds no
// per-call state and is safe for concurrent use.
type UnaryCaller[Req, Resp any] struct {
	ch     Channel
	method *Method[Req, Resp]
	logger *zap.Logger
}

// CallerOption configures a UnaryCaller.
type CallerOption func(*callerOptions)

type callerOptions struct {
	logger *zap.Logger
}

// WithLogger logs call state transitions at debug level.
func WithLogger(logger *zap.Logger) CallerOption {
	return func(o *callerOptions) {
		o.logger = logger
	}
}

// NewUnaryCaller binds method to ch.
func NewUnaryCaller[Req, Resp any](ch Channel, method *Method[Req, Resp], opts ...CallerOption) *UnaryCaller[Req, Resp] {
	var o callerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &UnaryCaller[Req, Resp]{ch: ch, method: method, logger: o.logger}
}

// Call performs exactly one request/response exchange. It is never retried.
//
// Errors are *rpcerr.Error values:
//   - ChannelClosed if the channel is not open;
//   - Codec if req cannot be encoded or the response cannot be decoded;
//   - SendTooLarge if the encoded request exceeds the send limit, in which
//     case nothing is transmitted;
//   - ReceiveTooLarge if the response exceeds the receive limit;
//   - TransportFailure for anything the transport or server reports.
func (c *UnaryCaller[Req, Resp]) Call(ctx context.Context, req *Req) (*Resp, error) {
	cl := call{path: c.method.Path, logger: c.logger}
	op := "call " + c.method.Path

	if state := c.ch.State(); state != channel.StateOpen {
		return nil, cl.fail(rpcerr.Errorf(rpcerr.ChannelClosed, op, "channel is %s", state))
	}

	cl.set(Sending)
	payload, err := c.method.Codec.Encode(req)
	if err != nil {
		return nil, cl.fail(rpcerr.E(rpcerr.Codec, op, fmt.Errorf("encode request: %w", err)))
	}

	cl.set(AwaitingResponse)
	data, err := c.ch.Invoke(ctx, c.method.Path, c.method.Codec.Name(), payload)
	if err != nil {
		return nil, cl.fail(err)
	}

	resp := new(Resp)
	if err := c.method.Codec.Decode(data, resp); err != nil {
		return nil, cl.fail(rpcerr.E(rpcerr.Codec, op, fmt.Errorf("decode response: %w", err)))
	}
	cl.set(Completed)
	return resp, nil
}

// Call is NewUnaryCaller(ch, method).Call(ctx, req).
func Call[Req, Resp any](ctx context.Context, ch Channel, method *Method[Req, Resp], req *Req) (*Resp, error) {
	return NewUnaryCaller(ch, method).Call(ctx, req)
}

// call tracks the state machine of one Call.
type call struct {
	path   string
	state  CallState
	logger *zap.Logger
}

func (c *call) set(s CallState) {
	c.logger.Debug("call state",
		zap.String("method", c.path),
		zap.Stringer("from", c.state),
		zap.Stringer("to", s),
	)
	c.state = s
}

func (c *call) fail(err error) error {
	c.set(Failed)
	return err
}
