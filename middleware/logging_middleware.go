package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"unirpc/message"
)

// LoggingMiddleware logs every request with its duration and, on failure,
// the error returned to the client.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			rpcMessage := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)),
				zap.Int("request_bytes", len(req.Payload)),
			}
			if rpcMessage.Error != "" {
				logger.Warn("rpc failed", append(fields, zap.String("error", rpcMessage.Error))...)
			} else {
				logger.Info("rpc", append(fields, zap.Int("reply_bytes", len(rpcMessage.Payload)))...)
			}
			return rpcMessage
		}
	}
}
