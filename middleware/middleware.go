// Package middleware wraps the server's business handler.
//
// Middlewares compose like an onion: Chain(A, B)(h) runs A's before-part,
// then B's, then h, then B's after-part and finally A's.
package middleware

import (
	"context"

	"unirpc/message"
)

// HandlerFunc answers one decoded request. It never returns nil: failures
// are reported in the Error field of the reply, which the server sends back
// to the caller as is.
type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

// Middleware decorates a HandlerFunc. It may answer on its own without
// calling next, as the rate limiter does when the bucket is empty.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one, outermost first. Nil entries
// are skipped.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			if m := middlewares[i]; m != nil {
				next = m(next)
			}
		}
		return next
	}
}

// reject builds the error reply a middleware sends instead of calling next.
func reject(req *message.RPCMessage, reason string) *message.RPCMessage {
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: reason}
}
