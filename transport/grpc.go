package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"unirpc/message"
)

// GRPCTransport carries calls over a grpc.ClientConn. Payloads are already
// encoded, so they pass through a raw codec whose name sets the
// content-subtype the server uses to pick its decoder.
type GRPCTransport struct {
	cc *grpc.ClientConn
}

// DialGRPC creates a grpc.ClientConn for target. The connection is
// established in the background; dial errors surface on the first call as
// Unavailable. Use "passthrough:///name" targets with a custom NetDialer.
func DialGRPC(ctx context.Context, target string, opts DialOptions) (ClientTransport, error) {
	recvLimit := math.MaxInt32
	if opts.MaxReceiveBytes > 0 {
		recvLimit = opts.MaxReceiveBytes
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(recvLimit),
			grpc.MaxCallSendMsgSize(math.MaxInt32),
		),
	}
	if opts.NetDialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(opts.NetDialer))
	}
	dialOpts = append(dialOpts, opts.GRPCDialOptions...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	cc.Connect()
	opts.logger().Debug("grpc channel created", zap.String("target", target))
	return &GRPCTransport{cc: cc}, nil
}

// NewGRPCTransport wraps an existing connection. Closing the transport
// closes cc.
func NewGRPCTransport(cc *grpc.ClientConn) *GRPCTransport {
	return &GRPCTransport{cc: cc}
}

func (t *GRPCTransport) Invoke(ctx context.Context, req *Request) ([]byte, error) {
	method, err := grpcMethod(req.Method)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = t.cc.Invoke(ctx, method, req.Payload, &out, grpc.ForceCodec(rawCodec{name: req.ContentType}))
	if err != nil {
		return nil, mapGRPCError(method, err)
	}
	return out, nil
}

func (t *GRPCTransport) Close() error {
	return t.cc.Close()
}

// grpcMethod turns "Service.Method" into "/Service/Method"; gRPC paths pass
// through unchanged.
func grpcMethod(path string) (string, error) {
	if strings.HasPrefix(path, "/") {
		return path, nil
	}
	svc, m, err := message.SplitServiceMethod(path)
	if err != nil {
		return "", err
	}
	return "/" + svc + "/" + m, nil
}

// grpc reports its own receive limit as ResourceExhausted with this prefix.
const grpcRecvTooLarge = "grpc: received message larger than max"

func mapGRPCError(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		if strings.HasPrefix(st.Message(), grpcRecvTooLarge) {
			return fmt.Errorf("%w: %s", ErrResponseTooLarge, st.Message())
		}
	case codes.Canceled:
		return fmt.Errorf("%w: %w", context.Canceled, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	case codes.Unknown, codes.Internal, codes.Unimplemented, codes.InvalidArgument,
		codes.NotFound, codes.FailedPrecondition, codes.PermissionDenied:
		return errors.Join(&ServerError{Method: method, Message: st.Message()}, err)
	}
	return err
}

// rawCodec moves pre-encoded bytes through grpc untouched.
type rawCodec struct {
	name string
}

func (c rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
	return b, nil
}

func (c rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

func (c rawCodec) Name() string {
	if c.name == "" {
		return "proto"
	}
	return c.name
}
