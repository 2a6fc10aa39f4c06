// Package codec holds the serializers used on both sides of a call.
//
// The same Codec interface serves two roles:
//   - envelope codecs (JSON, Binary) serialize a *message.RPCMessage into a
//     urp frame body;
//   - payload codecs (JSON, Proto) turn a typed request or response into the
//     bytes carried inside the envelope, or directly on a gRPC stream.
package codec

import (
	"encoding/base64"
	"fmt"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeProto  CodecType = 2
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary, 2=Proto
	Name() string    // Content subtype, e.g. "json" or "proto"
}

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeProto:
		return &ProtoCodec{}
	}
	return &BinaryCodec{}
}

// ByName returns the codec registered under name ("json", "binary", "proto").
func ByName(name string) (Codec, error) {
	switch name {
	case "json":
		return &JSONCodec{}, nil
	case "binary":
		return &BinaryCodec{}, nil
	case "proto":
		return &ProtoCodec{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}

// IsEnvelope reports whether t can serialize a urp envelope.
func IsEnvelope(t CodecType) bool {
	return t == CodecTypeJSON || t == CodecTypeBinary
}

// envelopeOverhead bounds everything in an envelope except the payload:
// the method path, the error string and the codec's own framing.
const envelopeOverhead = 1 << 17

// MaxEnvelopeSize returns the largest envelope body, in bytes, that the
// envelope codec t produces for a payload of payloadLimit bytes. A
// payloadLimit <= 0 means unlimited and yields 0.
func MaxEnvelopeSize(t CodecType, payloadLimit int) int {
	if payloadLimit <= 0 {
		return 0
	}
	if t == CodecTypeJSON {
		// encoding/json writes []byte as standard base64.
		return base64.StdEncoding.EncodedLen(payloadLimit) + envelopeOverhead
	}
	return payloadLimit + envelopeOverhead
}
