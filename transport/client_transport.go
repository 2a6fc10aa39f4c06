package transport

// FrameTransport enables multiple concurrent RPC calls over a single TCP
// connection. Each request gets a unique sequence id, and a background
// goroutine (recvLoop) reads responses and routes them to the waiting caller
// through its pending channel.
//
//	goroutine-1 ──Invoke(seq=1)──┐
//	goroutine-2 ──Invoke(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Invoke(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan → goroutine-2 wakes up

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"unirpc/codec"
	"unirpc/message"
	"unirpc/protocol"
)

const defaultHeartbeatInterval = 30 * time.Second

type result struct {
	msg *message.RPCMessage
	err error
}

// FrameTransport manages a single multiplexed urp connection.
type FrameTransport struct {
	conn     net.Conn
	codec    codec.CodecType
	maxBody  int        // Largest accepted response frame body, 0 = unlimited
	seq      uint32     // Monotonically increasing sequence number (protected by sending)
	pending  sync.Map   // map[uint32]chan result, one per waiting request
	sending  sync.Mutex // Serializes frame writes and guards seq and err
	err      error      // Terminal error; once set, no new requests are accepted
	done     chan struct{}
	once     sync.Once
	closeErr error
	logger   *zap.Logger
}

// DialFrame dials target over TCP (or opts.NetDialer) and wraps the
// connection in a FrameTransport.
func DialFrame(ctx context.Context, target string, opts DialOptions) (ClientTransport, error) {
	dial := opts.NetDialer
	if dial == nil {
		var d net.Dialer
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	conn, err := dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return NewFrameTransport(conn, opts), nil
}

// NewFrameTransport wraps conn and starts two background goroutines:
//   - recvLoop: reads responses and dispatches them to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames
func NewFrameTransport(conn net.Conn, opts DialOptions) *FrameTransport {
	t := &FrameTransport{
		conn:    conn,
		codec:   opts.Codec,
		maxBody: codec.MaxEnvelopeSize(opts.Codec, opts.MaxReceiveBytes),
		done:    make(chan struct{}),
		logger:  opts.logger().With(zap.String("remote", conn.RemoteAddr().String())),
	}
	if !codec.IsEnvelope(t.codec) {
		t.codec = codec.CodecTypeJSON
	}

	interval := opts.HeartbeatInterval
	if interval == 0 {
		interval = defaultHeartbeatInterval
	}

	go t.recvLoop()
	if interval > 0 {
		go t.heartbeatLoop(interval)
	}
	return t
}

// Invoke sends req and waits for its response, ctx cancellation, or the
// connection failing.
func (t *FrameTransport) Invoke(ctx context.Context, req *Request) ([]byte, error) {
	seq, ch, err := t.send(ctx, req)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.msg.Error != "" {
			return nil, &ServerError{Method: req.Method, Message: r.msg.Error}
		}
		return r.msg.Payload, nil
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// send serializes and writes one request frame and returns the channel
// that will receive its response.
//
// The sending mutex makes the whole frame write atomic; without it,
// concurrent writes would interleave bytes from different requests.
// A failed write may leave part of a frame on the wire, so it kills the
// transport.
func (t *FrameTransport) send(ctx context.Context, req *Request) (uint32, <-chan result, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	if t.err != nil {
		err := t.err
		t.sending.Unlock()
		return 0, nil, err
	}
	if err := ctx.Err(); err != nil {
		t.sending.Unlock()
		return 0, nil, err
	}

	t.seq++
	seq := t.seq

	rpcMessage := message.RPCMessage{
		ServiceMethod: req.Method,
		Payload:       req.Payload,
	}
	body, err := codec.GetCodec(t.codec).Encode(&rpcMessage)
	if err != nil {
		t.sending.Unlock()
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register before writing so recvLoop cannot see the response first.
	respChan := make(chan result, 1)
	t.pending.Store(seq, respChan)

	err = t.writeFrame(ctx, &header, body)
	t.sending.Unlock()
	if err != nil {
		t.pending.Delete(seq)
		ctxErr := ctx.Err()
		if _, ok := ctx.Deadline(); ok && ctxErr == nil && errors.Is(err, os.ErrDeadlineExceeded) {
			// The conn deadline can fire just before ctx's own timer.
			ctxErr = context.DeadlineExceeded
		}
		if ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		t.fail(err)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// aLongTimeAgo is a deadline that has already passed.
var aLongTimeAgo = time.Unix(1, 0)

// writeFrame writes one frame, giving up when ctx is done. The caller holds
// t.sending.
func (t *FrameTransport) writeFrame(ctx context.Context, h *protocol.Header, body []byte) error {
	if d, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(d)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		t.conn.SetWriteDeadline(aLongTimeAgo)
		close(fired)
	})

	err := protocol.Encode(t.conn, h, body)

	if !stop() {
		<-fired
	}
	t.conn.SetWriteDeadline(time.Time{})
	return err
}

// recvLoop is the single reader of the connection. Responses can arrive in
// any order; the sequence id routes each one to its caller.
func (t *FrameTransport) recvLoop() {
	r := bufio.NewReader(t.conn)
	for {
		header, body, err := protocol.DecodeLimit(r, t.maxBody)
		if err != nil {
			if header != nil && errors.Is(err, protocol.ErrFrameTooLarge) {
				t.logger.Debug("dropped oversized response", zap.Uint32("seq", header.Seq), zap.Error(err))
				t.deliver(header.Seq, result{err: fmt.Errorf("%w: %v", ErrResponseTooLarge, err)})
				continue
			}
			t.fail(err)
			return
		}

		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		responseRPC := message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &responseRPC); err != nil {
			t.deliver(header.Seq, result{err: fmt.Errorf("decode response envelope: %w", err)})
			continue
		}
		t.deliver(header.Seq, result{msg: &responseRPC})
	}
}

// deliver hands r to the caller waiting on seq, if it is still waiting.
func (t *FrameTransport) deliver(seq uint32, r result) {
	if ch, ok := t.pending.LoadAndDelete(seq); ok {
		ch.(chan result) <- r
	}
}

// fail marks the transport dead and fails every pending caller so none of
// them blocks forever.
func (t *FrameTransport) fail(err error) {
	t.once.Do(func() {
		// Closing first unblocks a writer stuck holding the sending lock.
		t.closeErr = t.conn.Close()
		close(t.done)
		t.sending.Lock()
		t.err = fmt.Errorf("%w: %v", ErrTransportClosed, err)
		t.sending.Unlock()

		t.logger.Debug("transport stopped", zap.Error(err))
		t.pending.Range(func(key, _ any) bool {
			t.deliver(key.(uint32), result{err: t.err})
			return true
		})
	})
}

var errClosedByClient = errors.New("closed by client")

// Close fails pending calls and closes the connection.
func (t *FrameTransport) Close() error {
	t.fail(errClosedByClient)
	return t.closeErr
}

// heartbeatLoop sends heartbeat frames until the transport stops.
// Heartbeat frames carry no body.
func (t *FrameTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		// A peer that stops reading must not hold the sending lock forever.
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		t.sending.Lock()
		err := t.writeFrame(ctx, header, nil)
		t.sending.Unlock()
		cancel()
		if err != nil {
			t.fail(err)
			return
		}
	}
}
