package middleware

import (
	"context"
	"errors"
	"time"

	"unirpc/message"
)

const (
	errTimedOut  = "request timed out"
	errCancelled = "request cancelled"
)

// TimeOutMiddleware bounds the time spent in the rest of the chain. A
// request still running after timeout is answered with "request timed out";
// one whose parent context ends first is answered with "request cancelled".
// The handler keeps running with a done context and its late reply is
// dropped. A timeout <= 0 disables the bound.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return reject(req, errTimedOut)
				}
				return reject(req, errCancelled)
			}
		}
	}
}
