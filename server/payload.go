package server

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
)

// Payloads are protobuf when the Go type is a proto.Message and JSON
// otherwise, matching what the client's method codec produced.

func decodePayload(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

func encodePayload(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return json.Marshal(v)
}
