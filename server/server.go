// Package server implements the urp RPC server: reflection-based service
// registration, a middleware chain, pooled request processing, and graceful
// shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: pool.Submit(handleRequest)
//	    → envelope Decode → Middleware Chain → businessHandler (reflect.Call) → envelope Encode → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"unirpc/codec"
	"unirpc/message"
	"unirpc/middleware"
	"unirpc/protocol"
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	mu          sync.Mutex
	serviceMap  map[string]*service     // Registered services: "Greeter" → *service
	listener    net.Listener
	conns       map[net.Conn]struct{}   // Open client connections, closed on Shutdown
	wg          sync.WaitGroup          // Tracks in-flight requests for graceful shutdown
	shutdown    atomic.Bool             // Set during shutdown to suppress Accept errors
	middlewares []middleware.Middleware // Applied in registration order
	handler     middleware.HandlerFunc  // middleware(middleware(...(businessHandler)))
	pool        *ants.Pool
	opts        options
	logger      *zap.Logger
}

// NewServer creates a server with an empty service map.
func NewServer(opt ...Option) *Server {
	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		serviceMap: make(map[string]*service),
		conns:      make(map[net.Conn]struct{}),
		opts:       opts,
		logger:     logger,
	}
}

// Register registers a service receiver (e.g., &Greeter{}). Exported methods
// with an RPC signature become callable as "TypeName.Method".
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	if len(svc.method) == 0 {
		return fmt.Errorf("rpc: type %s has no exported methods of suitable type", svc.name)
	}

	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service already defined: %s", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares must be added before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from l until Shutdown.
func (svr *Server) ServeListener(l net.Listener) error {
	pool, err := ants.NewPool(svr.opts.workers, ants.WithPanicHandler(func(p any) {
		svr.logger.Error("handler panic", zap.Any("panic", p))
	}))
	if err != nil {
		return err
	}

	svr.mu.Lock()
	svr.listener = l
	svr.pool = pool
	// Built once at startup: Chain(A, B, C)(handler) → A(B(C(handler)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	svr.mu.Unlock()

	svr.logger.Info("server listening", zap.Stringer("addr", l.Addr()))

	for {
		conn, err := l.Accept()
		if err != nil {
			// listener.Close() during Shutdown makes Accept fail.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.trackConn(conn, true)
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) trackConn(conn net.Conn, add bool) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleConn processes a single TCP connection.
// Reads are sequential to keep frame boundaries; each request is handed to
// the worker pool. A per-connection write mutex keeps response frames from
// interleaving.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		svr.trackConn(conn, false)
		conn.Close()
	}()

	writeMu := &sync.Mutex{}
	// Loose frame bound; handleRequest checks the exact payload size.
	maxBody := codec.MaxEnvelopeSize(codec.CodecTypeJSON, svr.opts.maxRecvMsgSize)
	for {
		header, body, err := protocol.DecodeLimit(conn, maxBody)
		if err != nil {
			if header != nil && errors.Is(err, protocol.ErrFrameTooLarge) {
				svr.writeResponse(conn, writeMu, header, &message.RPCMessage{
					Error: fmt.Sprintf("request too large: %v", err),
				})
				continue
			}
			return // Connection closed or protocol error
		}

		if header.MsgType != protocol.MsgTypeRequest {
			continue // Heartbeats keep the connection alive, nothing to answer
		}

		svr.wg.Add(1)
		err = svr.pool.Submit(func() {
			defer svr.wg.Done()
			svr.handleRequest(header, body, conn, writeMu)
		})
		if err != nil {
			svr.wg.Done()
			svr.writeResponse(conn, writeMu, header, &message.RPCMessage{Error: "server busy: " + err.Error()})
		}
	}
}

// handleRequest processes a single RPC request: decode → middleware → business logic → encode → write.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))
	msg := message.RPCMessage{}
	if err := c.Decode(body, &msg); err != nil {
		svr.writeResponse(conn, writeMu, header, &message.RPCMessage{Error: "malformed request: " + err.Error()})
		return
	}
	if limit := svr.opts.maxRecvMsgSize; limit > 0 && len(msg.Payload) > limit {
		svr.writeResponse(conn, writeMu, header, &message.RPCMessage{
			ServiceMethod: msg.ServiceMethod,
			Error:         fmt.Sprintf("request too large: %d > %d bytes", len(msg.Payload), limit),
		})
		return
	}

	rpcMessage := svr.handler(context.Background(), &msg)
	if limit := svr.opts.maxSendMsgSize; limit > 0 && len(rpcMessage.Payload) > limit {
		svr.logger.Warn("reply exceeds send limit",
			zap.String("method", msg.ServiceMethod),
			zap.Int("size", len(rpcMessage.Payload)),
			zap.Int("limit", limit),
		)
		rpcMessage = &message.RPCMessage{
			ServiceMethod: rpcMessage.ServiceMethod,
			Error:         fmt.Sprintf("response too large: %d > %d bytes", len(rpcMessage.Payload), limit),
		}
	}
	svr.writeResponse(conn, writeMu, header, rpcMessage)
}

// writeResponse encodes resp with the request's envelope codec and writes it
// under the connection's write lock, echoing the request's sequence id.
func (svr *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, header *protocol.Header, resp *message.RPCMessage) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))
	result, err := c.Encode(resp)
	if err != nil {
		svr.logger.Warn("failed to encode response", zap.Uint32("seq", header.Seq), zap.Error(err))
		result, _ = c.Encode(&message.RPCMessage{ServiceMethod: resp.ServiceMethod, Error: "encode response: " + err.Error()})
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.logger.Debug("failed to write response", zap.Uint32("seq", header.Seq), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Set the shutdown flag (so the Accept error is recognized as intentional)
//  2. Close the listener (stop accepting new connections)
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close client connections and release the worker pool
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.shutdown.Store(true)

	svr.mu.Lock()
	listener, pool := svr.listener, svr.pool
	svr.mu.Unlock()

	var err error
	if listener != nil {
		err = multierr.Append(err, listener.Close())
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		err = multierr.Append(err, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		err = multierr.Append(err, conn.Close())
		delete(svr.conns, conn)
	}
	svr.mu.Unlock()

	if pool != nil {
		pool.Release()
	}
	return err
}

// businessHandler dispatches a request to its registered service method.
// It is wrapped by the middleware chain.
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, err := message.SplitServiceMethod(req.ServiceMethod)
	if err != nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}

	svr.mu.Lock()
	svc := svr.serviceMap[serviceName]
	svr.mu.Unlock()
	if svc == nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: can't find service " + serviceName}
	}
	method := svc.method[methodName]
	if method == nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: can't find method " + req.ServiceMethod}
	}

	argv := method.newArgv()
	replyv := method.newReplyv()

	if err := decodePayload(req.Payload, argv.Interface()); err != nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "decode request: " + err.Error()}
	}

	methodErr := svc.Call(ctx, method, argv, replyv)

	rpcMessage := &message.RPCMessage{ServiceMethod: req.ServiceMethod}
	if methodErr != nil {
		rpcMessage.Error = methodErr.Error()
		return rpcMessage
	}

	payload, err := encodePayload(replyv.Interface())
	if err != nil {
		rpcMessage.Error = "encode reply: " + err.Error()
		return rpcMessage
	}
	rpcMessage.Payload = payload
	return rpcMessage
}
