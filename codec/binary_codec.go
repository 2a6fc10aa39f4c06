package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"unirpc/message"
)

// BinaryCodec lays an RPCMessage out as length-prefixed fields:
//
//	methodLen(2) method payloadLen(4) payload errLen(2) err
type BinaryCodec struct{}

var errShortBuffer = errors.New("BinaryCodec: truncated message")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}
	if len(msg.ServiceMethod) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: service method too long (%d bytes)", len(msg.ServiceMethod))
	}
	if uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("BinaryCodec: payload too long (%d bytes)", len(msg.Payload))
	}
	errText := msg.Error
	if len(errText) > math.MaxUint16 {
		errText = errText[:math.MaxUint16]
	}

	total := 2 + len(msg.ServiceMethod) + 4 + len(msg.Payload) + 2 + len(errText)
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.ServiceMethod)))
	offset += 2
	offset += copy(buf[offset:], msg.ServiceMethod)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Payload)))
	offset += 4
	offset += copy(buf[offset:], msg.Payload)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(errText)))
	offset += 2
	copy(buf[offset:], errText)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	offset := 0
	next := func(n int) ([]byte, error) {
		if n < 0 || len(data)-offset < n {
			return nil, errShortBuffer
		}
		b := data[offset : offset+n]
		offset += n
		return b, nil
	}

	b, err := next(2)
	if err != nil {
		return err
	}
	if b, err = next(int(binary.BigEndian.Uint16(b))); err != nil {
		return err
	}
	msg.ServiceMethod = string(b)

	if b, err = next(4); err != nil {
		return err
	}
	payloadLen := binary.BigEndian.Uint32(b)
	if uint64(payloadLen) > uint64(len(data)) {
		return errShortBuffer
	}
	if b, err = next(int(payloadLen)); err != nil {
		return err
	}
	msg.Payload = make([]byte, len(b))
	copy(msg.Payload, b)

	if b, err = next(2); err != nil {
		return err
	}
	if b, err = next(int(binary.BigEndian.Uint16(b))); err != nil {
		return err
	}
	msg.Error = string(b)

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func (c *BinaryCodec) Name() string {
	return "binary"
}
