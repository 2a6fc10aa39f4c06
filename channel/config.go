package channel

import (
	"time"

	"unirpc/codec"
)

// Config holds the per-channel settings. The zero value is usable: no size
// limits, JSON envelopes, default heartbeat.
type Config struct {
	// MaxSendBytes bounds the encoded request payload. 0 means unlimited.
	MaxSendBytes int

	// MaxReceiveBytes bounds the encoded response payload. 0 means unlimited.
	MaxReceiveBytes int

	// Envelope names the urp envelope codec, "json" or "binary".
	// Ignored by the grpc transport.
	Envelope string

	// HeartbeatInterval is passed to the urp transport. A negative value
	// disables heartbeats.
	HeartbeatInterval time.Duration

	// DialTimeout bounds Open. 0 leaves it to the caller's context.
	DialTimeout time.Duration

	envelope codec.CodecType
}

func (c Config) normalized() Config {
	if c.MaxSendBytes < 0 {
		c.MaxSendBytes = 0
	}
	if c.MaxReceiveBytes < 0 {
		c.MaxReceiveBytes = 0
	}
	c.envelope = codec.CodecTypeJSON
	if c.Envelope == "binary" {
		c.envelope = codec.CodecTypeBinary
	}
	return c
}
