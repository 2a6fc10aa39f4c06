package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"unirpc/codec"
	"unirpc/message"
	"unirpc/middleware"
	"unirpc/protocol"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Div(ctx context.Context, args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("division by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

// Upper takes protobuf payloads.
func (a *Arith) Upper(req *wrapperspb.StringValue, reply *wrapperspb.StringValue) error {
	reply.Value = strings.ToUpper(req.GetValue())
	return nil
}

// NotRPC has the wrong signature and is not registered.
func (a *Arith) NotRPC(x int) int { return x }

func startServer(t *testing.T, opt ...Option) (*Server, net.Conn) {
	t.Helper()
	svr := NewServer(opt...)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}
	return svr, serve(t, svr)
}

func serve(t *testing.T, svr *Server) net.Conn {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// roundTrip writes one request frame on conn and reads its response.
func roundTrip(t *testing.T, conn net.Conn, ct byte, seq uint32, method string, payload []byte) *message.RPCMessage {
	t.Helper()
	cdc := codec.GetCodec(codec.CodecType(ct))
	body, err := cdc.Encode(&message.RPCMessage{ServiceMethod: method, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	header := protocol.Header{
		CodecType: ct,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}

	replyHeader, responseBody, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if replyHeader.Seq != seq {
		t.Fatalf("Expect replyHeader with seq: %v, get %v", seq, replyHeader.Seq)
	}
	if replyHeader.CodecType != ct {
		t.Fatalf("Expect replyHeader with CodecType: %v, get %v", ct, replyHeader.CodecType)
	}
	if replyHeader.MsgType != protocol.MsgTypeResponse {
		t.Fatalf("Expect replyHeader with MsgType: %v, get %v", protocol.MsgTypeResponse, replyHeader.MsgType)
	}

	resp := &message.RPCMessage{}
	if err := cdc.Decode(responseBody, resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestServer(t *testing.T) {
	_, conn := startServer(t)

	for _, ct := range []byte{protocol.CodecTypeJSON, protocol.CodecTypeBinary} {
		resp := roundTrip(t, conn, ct, 123, "Arith.Add", mustJSON(t, &Args{1, 2}))
		if resp.Error != "" {
			t.Fatalf("unexpected error %q", resp.Error)
		}
		var reply Reply
		if err := json.Unmarshal(resp.Payload, &reply); err != nil {
			t.Fatal(err)
		}
		if reply.Result != 3 {
			t.Fatalf("Expect get result = 3, get %v", reply.Result)
		}
	}
}

func TestServerGRPCPath(t *testing.T) {
	_, conn := startServer(t)

	resp := roundTrip(t, conn, protocol.CodecTypeJSON, 1, "/calc.Arith/Div", mustJSON(t, &Args{9, 3}))
	var reply Reply
	if err := json.Unmarshal(resp.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("expect 3, got %v", reply.Result)
	}
}

func TestServerMethodError(t *testing.T) {
	_, conn := startServer(t)

	resp := roundTrip(t, conn, protocol.CodecTypeJSON, 2, "Arith.Div", mustJSON(t, &Args{1, 0}))
	if resp.Error != "division by zero" {
		t.Fatalf("expect division error, got %q", resp.Error)
	}
}

func TestServerProtoPayload(t *testing.T) {
	_, conn := startServer(t)

	payload, err := proto.Marshal(wrapperspb.String("hello"))
	if err != nil {
		t.Fatal(err)
	}
	resp := roundTrip(t, conn, protocol.CodecTypeBinary, 3, "Arith.Upper", payload)
	if resp.Error != "" {
		t.Fatalf("unexpected error %q", resp.Error)
	}
	var out wrapperspb.StringValue
	if err := proto.Unmarshal(resp.Payload, &out); err != nil {
		t.Fatal(err)
	}
	if out.GetValue() != "HELLO" {
		t.Fatalf("expect HELLO, got %q", out.GetValue())
	}
}

func TestServerUnknownMethod(t *testing.T) {
	_, conn := startServer(t)

	tests := []struct {
		method, want string
	}{
		{"Nope.Add", "can't find service"},
		{"Arith.Nope", "can't find method"},
		{"Arith.NotRPC", "can't find method"},
		{"ArithAdd", "invalid service method"},
	}
	for i, tt := range tests {
		resp := roundTrip(t, conn, protocol.CodecTypeJSON, uint32(10+i), tt.method, []byte(`{}`))
		if !strings.Contains(resp.Error, tt.want) {
			t.Fatalf("%s: expect %q, got %q", tt.method, tt.want, resp.Error)
		}
	}
}

func TestServerMaxRecvMsgSize(t *testing.T) {
	_, conn := startServer(t, WithMaxRecvMsgSize(64))

	resp := roundTrip(t, conn, protocol.CodecTypeJSON, 1, "Arith.Add", []byte(`{"A":1,"B":2,"pad":"`+strings.Repeat("x", 100)+`"}`))
	if !strings.Contains(resp.Error, "request too large") {
		t.Fatalf("expect request too large, got %q", resp.Error)
	}

	// Far above the frame bound the body is skipped without decoding.
	resp = roundTrip(t, conn, protocol.CodecTypeJSON, 2, "Arith.Add", []byte(strings.Repeat("x", 1<<18)))
	if !strings.Contains(resp.Error, "request too large") {
		t.Fatalf("expect request too large, got %q", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.CodecTypeJSON, 3, "Arith.Add", mustJSON(t, &Args{1, 2}))
	if resp.Error != "" {
		t.Fatalf("small request rejected: %q", resp.Error)
	}
}

func TestServerMaxSendMsgSize(t *testing.T) {
	_, conn := startServer(t, WithMaxSendMsgSize(8))

	// {"Result":3} is 12 bytes.
	resp := roundTrip(t, conn, protocol.CodecTypeJSON, 1, "Arith.Add", mustJSON(t, &Args{1, 2}))
	if !strings.Contains(resp.Error, "response too large: 12 > 8 bytes") {
		t.Fatalf("expect response too large, got %q", resp.Error)
	}
	if len(resp.Payload) != 0 {
		t.Fatalf("expect no payload, got %q", resp.Payload)
	}

	// Method errors carry no payload and pass through unchanged.
	resp = roundTrip(t, conn, protocol.CodecTypeJSON, 2, "Arith.Div", mustJSON(t, &Args{1, 0}))
	if resp.Error == "" || strings.Contains(resp.Error, "too large") {
		t.Fatalf("expect method error, got %q", resp.Error)
	}
}

func TestServerMiddleware(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	seen := make(chan string, 1)
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			seen <- req.ServiceMethod
			return next(ctx, req)
		}
	})
	conn := serve(t, svr)

	roundTrip(t, conn, protocol.CodecTypeJSON, 1, "Arith.Add", mustJSON(t, &Args{1, 2}))
	if got := <-seen; got != "Arith.Add" {
		t.Fatalf("expect middleware to see Arith.Add, got %v", got)
	}
}

func TestServerIgnoresHeartbeat(t *testing.T) {
	_, conn := startServer(t)

	hb := protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
	if err := protocol.Encode(conn, &hb, nil); err != nil {
		t.Fatal(err)
	}
	resp := roundTrip(t, conn, protocol.CodecTypeJSON, 7, "Arith.Add", mustJSON(t, &Args{2, 2}))
	if resp.Error != "" {
		t.Fatalf("unexpected error %q", resp.Error)
	}
}

func TestRegister(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register(&Arith{}); err == nil {
		t.Fatal("expect duplicate registration to fail")
	}
	if err := svr.Register(Arith{}); err == nil {
		t.Fatal("expect non-pointer receiver to fail")
	}
	type empty struct{}
	if err := svr.Register(&empty{}); err == nil {
		t.Fatal("expect type without methods to fail")
	}
}

func TestShutdown(t *testing.T) {
	svr, conn := startServer(t)
	roundTrip(t, conn, protocol.CodecTypeJSON, 1, "Arith.Add", mustJSON(t, &Args{1, 2}))

	addr := svr.Addr().String()
	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := protocol.Decode(conn); err == nil {
		t.Fatal("expect connection closed by shutdown")
	}
	if c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		c.Close()
		t.Fatal("expect listener closed")
	}
}
