package server

import "go.uber.org/zap"

type Option func(*options)

type options struct {
	workers        int
	maxRecvMsgSize int
	maxSendMsgSize int
	logger         *zap.Logger
}

func defaultOptions() options {
	return options{
		workers: 1024,
	}
}

// WithWorkers sets the size of the request worker pool.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMaxRecvMsgSize rejects request payloads larger than n bytes.
// 0 means unlimited.
func WithMaxRecvMsgSize(n int) Option {
	return func(o *options) {
		o.maxRecvMsgSize = n
	}
}

// WithMaxSendMsgSize replaces reply payloads larger than n bytes with an
// error response. 0 means unlimited.
func WithMaxSendMsgSize(n int) Option {
	return func(o *options) {
		o.maxSendMsgSize = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
