// Package channel implements the client-side connection to one remote
// address.
//
// A Channel owns exactly one transport connection and the size limits that
// apply to every call made over it. Its lifecycle is explicit:
//
//	Created ──Open──▶ Open ──Shutdown──▶ ShutDown
//
// Calls are accepted only while Open. Shutdown fails calls still waiting for
// their response with a TransportFailure whose reason is
// rpcerr.ErrChannelShutdown, so no call waits forever.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	units "github.com/docker/go-units"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"unirpc/rpcerr"
	"unirpc/transport"
)

// State is the lifecycle state of a Channel.
type State int32

const (
	StateCreated State = iota
	StateOpen
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateOpen:
		return "Open"
	case StateShutDown:
		return "ShutDown"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Channel is a logical, reusable connection to one remote service address.
// It is safe for concurrent use.
type Channel struct {
	address string
	cfg     Config
	opts    options
	logger  *zap.Logger

	mu        sync.RWMutex
	state     State
	transport transport.ClientTransport

	// life is cancelled by Shutdown; every call's context is tied to it.
	life   context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup
}

// New returns a Channel in StateCreated. Nothing is dialed until Open.
func New(address string, cfg Config, opt ...Option) *Channel {
	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Channel{
		address: address,
		cfg:     cfg.normalized(),
		opts:    opts,
		logger:  logger.With(zap.String("address", address)),
		state:   StateCreated,
		life:    life,
		cancel:  cancel,
	}
}

// Open creates a Channel for address and opens it.
func Open(ctx context.Context, address string, cfg Config, opt ...Option) (*Channel, error) {
	c := New(address, cfg, opt...)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Open dials the transport and moves the channel to Open. Opening an open
// channel is a no-op; a shut down channel cannot be reopened.
func (c *Channel) Open(ctx context.Context) error {
	const op = "open"

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		return nil
	case StateShutDown:
		return rpcerr.E(rpcerr.ChannelClosed, op, nil)
	}

	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	t := c.opts.transport
	if t == nil {
		dopts := c.opts.dial
		dopts.MaxReceiveBytes = c.cfg.MaxReceiveBytes
		dopts.Codec = c.cfg.envelope
		dopts.HeartbeatInterval = c.cfg.HeartbeatInterval
		if dopts.Logger == nil {
			dopts.Logger = c.logger
		}

		var err error
		t, err = transport.Dial(ctx, c.address, dopts)
		if err != nil {
			return rpcerr.E(rpcerr.TransportFailure, op, err)
		}
	}

	c.transport = t
	c.state = StateOpen
	c.logger.Info("channel open",
		zap.String("max_send", limitString(c.cfg.MaxSendBytes)),
		zap.String("max_receive", limitString(c.cfg.MaxReceiveBytes)),
	)
	return nil
}

// Shutdown moves the channel to ShutDown and releases its connection.
// Calls in flight fail with TransportFailure. A second Shutdown fails with
// AlreadyShutDown.
func (c *Channel) Shutdown() error {
	const op = "shutdown"

	c.mu.Lock()
	if c.state == StateShutDown {
		c.mu.Unlock()
		return rpcerr.E(rpcerr.AlreadyShutDown, op, nil)
	}
	t := c.transport
	c.state = StateShutDown
	c.transport = nil
	c.cancel()
	c.mu.Unlock()

	var err error
	if t != nil {
		err = multierr.Append(err, t.Close())
	}
	c.calls.Wait()

	c.logger.Info("channel shut down")
	if err != nil {
		return rpcerr.E(rpcerr.TransportFailure, op, err)
	}
	return nil
}

// Invoke sends an encoded request to method and returns the encoded
// response. It enforces the channel's size limits on both directions.
// Most callers use client.UnaryCaller, which encodes and decodes typed
// values around Invoke.
func (c *Channel) Invoke(ctx context.Context, method, contentType string, payload []byte) ([]byte, error) {
	op := "call " + method

	c.mu.RLock()
	if c.state != StateOpen {
		state := c.state
		c.mu.RUnlock()
		return nil, rpcerr.Errorf(rpcerr.ChannelClosed, op, "channel is %s", state)
	}
	t := c.transport
	c.calls.Add(1)
	c.mu.RUnlock()
	defer c.calls.Done()

	if limit := c.cfg.MaxSendBytes; limit > 0 && len(payload) > limit {
		return nil, rpcerr.Errorf(rpcerr.SendTooLarge, op, "request is %d bytes, limit %d", len(payload), limit)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	resp, err := t.Invoke(callCtx, &transport.Request{
		Method:      method,
		ContentType: contentType,
		Payload:     payload,
	})
	if err != nil {
		return nil, c.callError(op, ctx, err)
	}

	if limit := c.cfg.MaxReceiveBytes; limit > 0 && len(resp) > limit {
		return nil, rpcerr.Errorf(rpcerr.ReceiveTooLarge, op, "response is %d bytes, limit %d", len(resp), limit)
	}
	return resp, nil
}

// callError classifies a transport error. A call interrupted by Shutdown
// reports rpcerr.ErrChannelShutdown rather than the cancellation it caused.
func (c *Channel) callError(op string, ctx context.Context, err error) error {
	if errors.Is(err, transport.ErrResponseTooLarge) {
		return rpcerr.E(rpcerr.ReceiveTooLarge, op, err)
	}
	if c.life.Err() != nil && ctx.Err() == nil {
		return rpcerr.E(rpcerr.TransportFailure, op, fmt.Errorf("%w: %v", rpcerr.ErrChannelShutdown, err))
	}
	return rpcerr.E(rpcerr.TransportFailure, op, err)
}

// Address returns the address the channel was created with.
func (c *Channel) Address() string {
	return c.address
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// MaxSendBytes returns the send limit; 0 means unlimited.
func (c *Channel) MaxSendBytes() int {
	return c.cfg.MaxSendBytes
}

// MaxReceiveBytes returns the receive limit; 0 means unlimited.
func (c *Channel) MaxReceiveBytes() int {
	return c.cfg.MaxReceiveBytes
}

func limitString(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return units.BytesSize(float64(n))
}
