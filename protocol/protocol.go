// Package protocol implements the binary frame protocol spoken by the urp
// transport.
//
// A frame is a fixed 14-byte header followed by a variable-length body. The
// receiver reads the header first to learn the body length, so frame
// boundaries survive TCP's byte-stream semantics.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ urp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "urp" (unary rpc protocol).
const (
	MagicNumber byte = 0x75 // 'u'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server RPC request
	MsgTypeResponse  MsgType = 1 // Server → Client RPC response
	MsgTypeHeartbeat MsgType = 2 // Keep-alive frame with no body
)

// Envelope codec constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// ErrFrameTooLarge is returned when a frame body exceeds the reader's limit.
// The body has been skipped on the wire, so the stream stays usable.
var ErrFrameTooLarge = errors.New("frame body exceeds limit")

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Envelope format: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // Matches a response to its request
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w between goroutines must serialize calls to Encode.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	// Header and body go out in a single Write.
	buf = append(buf, body...)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// ReadHeader reads and validates one frame header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeResponse) && msgType != byte(MsgTypeHeartbeat) {
		return nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Seq:       binary.BigEndian.Uint32(headerBuf[6:10]),
		BodyLen:   binary.BigEndian.Uint32(headerBuf[10:14]),
	}, nil
}

// ReadBody reads the body announced by h. If maxBody > 0 and the body is
// longer, it is discarded without being buffered and ErrFrameTooLarge is
// returned together with the header.
func ReadBody(r io.Reader, h *Header, maxBody int) ([]byte, error) {
	if maxBody > 0 && int64(h.BodyLen) > int64(maxBody) {
		if _, err := io.CopyN(io.Discard, r, int64(h.BodyLen)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, h.BodyLen, maxBody)
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Decode reads a complete frame (header + body) from r with no body limit.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, 0)
}

// DecodeLimit reads a complete frame from r, rejecting bodies larger than
// maxBody (0 means unlimited). On ErrFrameTooLarge the header is still
// returned so the caller can tell which request the frame belonged to.
func DecodeLimit(r io.Reader, maxBody int) (*Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}
	body, err := ReadBody(r, h, maxBody)
	if err != nil {
		return h, nil, err
	}
	return h, body, nil
}
