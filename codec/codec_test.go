package codec

import (
	"bytes"
	"testing"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"unirpc/message"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	originalMsg := &message.RPCMessage{
		ServiceMethod: "Greeter.SayHello",
		Payload:       []byte(`{"name":"GreeterClient"}`),
		Error:         "",
	}

	data, err := jsonCodec.Encode(originalMsg)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decodedMsg message.RPCMessage
	if err := jsonCodec.Decode(data, &decodedMsg); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}

	if originalMsg.ServiceMethod != decodedMsg.ServiceMethod {
		t.Errorf("ServiceMethod mismatch: got %s, want %s", decodedMsg.ServiceMethod, originalMsg.ServiceMethod)
	}
	if !bytes.Equal(originalMsg.Payload, decodedMsg.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decodedMsg.Payload, originalMsg.Payload)
	}
	if originalMsg.Error != decodedMsg.Error {
		t.Errorf("Error mismatch: got %s, want %s", decodedMsg.Error, originalMsg.Error)
	}
}

func TestJSONCodecRejectsTrailingData(t *testing.T) {
	c := &JSONCodec{}
	for _, in := range []string{`{"ServiceMethod":"a"}{"ServiceMethod":"b"}`, `{"ServiceMethod":"a"}}`, ``} {
		var msg message.RPCMessage
		if err := c.Decode([]byte(in), &msg); err == nil {
			t.Fatalf("%q: expect error", in)
		}
	}

	var msg message.RPCMessage
	if err := c.Decode([]byte("{\"ServiceMethod\":\"a\"}\n"), &msg); err != nil {
		t.Fatalf("trailing whitespace rejected: %v", err)
	}
	if msg.ServiceMethod != "a" {
		t.Fatalf("expect a, got %q", msg.ServiceMethod)
	}
}

func TestBinaryCodec(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	originalMsg := &message.RPCMessage{
		ServiceMethod: "/greet.Greeter/SayHello",
		Payload:       []byte{0x0a, 0x03, 'b', 'o', 'b'},
		Error:         "boom",
	}

	data, err := binaryCodec.Encode(originalMsg)
	if err != nil {
		t.Fatalf("BinaryCodec Encode failed: %v", err)
	}

	var decodedMsg message.RPCMessage
	if err := binaryCodec.Decode(data, &decodedMsg); err != nil {
		t.Fatalf("BinaryCodec Decode failed: %v", err)
	}

	if originalMsg.ServiceMethod != decodedMsg.ServiceMethod {
		t.Errorf("ServiceMethod mismatch: got %s, want %s", decodedMsg.ServiceMethod, originalMsg.ServiceMethod)
	}
	if !bytes.Equal(originalMsg.Payload, decodedMsg.Payload) {
		t.Errorf("Payload mismatch: got %v, want %v", decodedMsg.Payload, originalMsg.Payload)
	}
	if originalMsg.Error != decodedMsg.Error {
		t.Errorf("Error mismatch: got %s, want %s", decodedMsg.Error, originalMsg.Error)
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	data, err := binaryCodec.Encode(&message.RPCMessage{ServiceMethod: "Greeter.SayHello", Payload: []byte("abc")})
	if err != nil {
		t.Fatal(err)
	}

	for n := 0; n < len(data); n++ {
		var msg message.RPCMessage
		if err := binaryCodec.Decode(data[:n], &msg); err == nil {
			t.Fatalf("expect error decoding %d of %d bytes", n, len(data))
		}
	}
}

func TestBinaryCodecRejectsOtherTypes(t *testing.T) {
	if _, err := (&BinaryCodec{}).Encode("not a message"); err == nil {
		t.Fatal("expect error for non-RPCMessage value")
	}
}

func TestProtoCodec(t *testing.T) {
	c := &ProtoCodec{}

	data, err := c.Encode(wrapperspb.String("GreeterClient"))
	if err != nil {
		t.Fatalf("ProtoCodec Encode failed: %v", err)
	}

	out := new(wrapperspb.StringValue)
	if err := c.Decode(data, out); err != nil {
		t.Fatalf("ProtoCodec Decode failed: %v", err)
	}
	if out.GetValue() != "GreeterClient" {
		t.Fatalf("got %q", out.GetValue())
	}

	if _, err := c.Encode(struct{}{}); err == nil {
		t.Fatal("expect error encoding a non-proto value")
	}
}

func TestByName(t *testing.T) {
	for name, want := range map[string]CodecType{"json": CodecTypeJSON, "binary": CodecTypeBinary, "proto": CodecTypeProto} {
		c, err := ByName(name)
		if err != nil {
			t.Fatal(err)
		}
		if c.Type() != want || c.Name() != name {
			t.Fatalf("%s: got type %d name %s", name, c.Type(), c.Name())
		}
		if GetCodec(want).Name() != name {
			t.Fatalf("GetCodec(%d) is not %s", want, name)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Fatal("expect error for unknown codec")
	}
}

func TestMaxEnvelopeSize(t *testing.T) {
	if MaxEnvelopeSize(CodecTypeJSON, 0) != 0 {
		t.Fatal("zero limit must stay unlimited")
	}

	payload := bytes.Repeat([]byte{0xff}, 3000)
	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		body, err := c.Encode(&message.RPCMessage{ServiceMethod: "/greet.Greeter/SayHello", Payload: payload})
		if err != nil {
			t.Fatal(err)
		}
		if limit := MaxEnvelopeSize(c.Type(), len(payload)); len(body) > limit {
			t.Fatalf("%s: envelope %d bytes exceeds computed bound %d", c.Name(), len(body), limit)
		}
	}
}

func TestJSONRegisteredWithGRPC(t *testing.T) {
	c := encoding.GetCodec("json")
	if c == nil {
		t.Fatal("json codec not registered with grpc")
	}
	data, err := c.Marshal(map[string]string{"name": "GreeterClient"})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["name"] != "GreeterClient" {
		t.Fatalf("got %v", out)
	}
}

func benchmarkEnvelope(b *testing.B, cdc Codec) {
	msg := &message.RPCMessage{
		ServiceMethod: "/greet.Greeter/SayHello",
		Payload:       []byte(`{"name":"GreeterClient"}`),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.RPCMessage
		cdc.Decode(data, &out)
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkEnvelope(b, GetCodec(CodecTypeJSON))
}

func BenchmarkCodecBinary(b *testing.B) {
	benchmarkEnvelope(b, GetCodec(CodecTypeBinary))
}
