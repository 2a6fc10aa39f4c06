package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"unirpc/message"
)

// RateLimitMiddleware rejects requests beyond r per second with bursts of
// up to burst, using a token bucket.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return reject(req, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
