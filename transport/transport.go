// Package transport is the byte-level collaborator behind a channel.
//
// A ClientTransport moves one encoded request to a remote method and hands
// back the encoded response. Implementations are chosen by the URI scheme of
// the channel address:
//
//	urp://host:port   framed TCP, multiplexed by sequence id (also "tcp://" and bare "host:port")
//	grpc://host:port  HTTP/2 via google.golang.org/grpc
//
// Other schemes can be added with Register, e.g. an in-memory transport in
// tests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"unirpc/codec"
)

// DefaultScheme is used for addresses without a "scheme://" prefix.
const DefaultScheme = "urp"

var (
	// ErrResponseTooLarge is returned by Invoke when the response exceeds
	// DialOptions.MaxReceiveBytes. The response is not buffered.
	ErrResponseTooLarge = errors.New("response exceeds receive limit")

	// ErrTransportClosed is returned for calls on, or pending in, a closed transport.
	ErrTransportClosed = errors.New("transport closed")
)

// Request is one unary request.
type Request struct {
	Method      string // "/pkg.Service/Method" or "Service.Method"
	ContentType string // Payload codec name, e.g. "json" or "proto"
	Payload     []byte // Encoded request
}

// ClientTransport is a connection able to carry concurrent unary calls.
type ClientTransport interface {
	// Invoke sends req and waits for the matching response payload.
	// It returns early with ctx.Err() when ctx is done.
	Invoke(ctx context.Context, req *Request) ([]byte, error)

	// Close releases the connection. Pending Invokes fail.
	Close() error
}

// DialOptions configures a transport at dial time.
type DialOptions struct {
	// MaxReceiveBytes bounds the response payload. 0 means unlimited.
	MaxReceiveBytes int

	// Codec is the urp envelope codec (JSON or Binary).
	Codec codec.CodecType

	// HeartbeatInterval is the urp keep-alive period. 0 selects the
	// default of 30s, a negative value disables heartbeats.
	HeartbeatInterval time.Duration

	// NetDialer replaces the TCP dialer, e.g. with bufconn in tests.
	NetDialer func(ctx context.Context, addr string) (net.Conn, error)

	// GRPCDialOptions are appended to the grpc transport's dial options.
	GRPCDialOptions []grpc.DialOption

	Logger *zap.Logger
}

func (o DialOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Dialer opens a ClientTransport to target, the address with its
// "scheme://" prefix removed.
type Dialer func(ctx context.Context, target string, opts DialOptions) (ClientTransport, error)

var (
	dialersMu sync.RWMutex
	dialers   = make(map[string]Dialer)
)

// Register makes a dialer available for scheme. It replaces any dialer
// previously registered for the same scheme.
func Register(scheme string, d Dialer) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[strings.ToLower(scheme)] = d
}

// Unregister removes the dialer for scheme.
func Unregister(scheme string) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	delete(dialers, strings.ToLower(scheme))
}

// Schemes returns the registered schemes in sorted order.
func Schemes() []string {
	dialersMu.RLock()
	defer dialersMu.RUnlock()
	schemes := make([]string, 0, len(dialers))
	for s := range dialers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// ParseAddress splits address into its scheme and target.
// "grpc://localhost:5001" yields ("grpc", "localhost:5001");
// "localhost:5001" yields (DefaultScheme, "localhost:5001").
func ParseAddress(address string) (scheme, target string, err error) {
	scheme, target, found := strings.Cut(address, "://")
	if !found {
		scheme, target = DefaultScheme, address
	}
	scheme = strings.ToLower(scheme)
	if scheme == "" {
		return "", "", fmt.Errorf("transport: missing scheme in address %q", address)
	}
	target = strings.TrimSuffix(target, "/")
	if target == "" {
		return "", "", fmt.Errorf("transport: missing host in address %q", address)
	}
	return scheme, target, nil
}

// Dial opens a ClientTransport for address using the dialer registered for
// its scheme.
func Dial(ctx context.Context, address string, opts DialOptions) (ClientTransport, error) {
	scheme, target, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	dialersMu.RLock()
	d, ok := dialers[scheme]
	dialersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unsupported scheme %q (have %s)", scheme, strings.Join(Schemes(), ", "))
	}
	return d(ctx, target, opts)
}

// ServerError is the error a server reported for a call.
type ServerError struct {
	Method  string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

func init() {
	Register(DefaultScheme, DialFrame)
	Register("tcp", DialFrame)
	Register("grpc", DialGRPC)
}
