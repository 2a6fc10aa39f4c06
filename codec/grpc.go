package codec

import (
	"google.golang.org/grpc/encoding"
)

// grpcCodec adapts a payload Codec to grpc's encoding.Codec so gRPC servers
// can decode payloads that are not protobuf.
type grpcCodec struct {
	c Codec
}

// GRPC wraps c for use with grpc.ForceServerCodec or encoding.RegisterCodec.
// The content subtype is c.Name().
func GRPC(c Codec) encoding.Codec {
	return grpcCodec{c: c}
}

func (g grpcCodec) Marshal(v any) ([]byte, error)      { return g.c.Encode(v) }
func (g grpcCodec) Unmarshal(data []byte, v any) error { return g.c.Decode(data, v) }
func (g grpcCodec) Name() string                       { return g.c.Name() }

func init() {
	// "proto" is registered by grpc itself.
	encoding.RegisterCodec(GRPC(&JSONCodec{}))
}
