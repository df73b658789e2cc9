package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"udpprobe/pkg/clock"
)

const (
	TagPing = "ping"
	TagPong = "pong"

	HelloRequest = "pinghelo"
	HelloReply   = "ponghelo"

	HeaderSize = 8
)

var (
	ErrPacketTooSmall  = fmt.Errorf("packet size must be at least %d bytes", HeaderSize)
	ErrInvalidTag      = errors.New("tag must be 4 bytes long")
	ErrInvalidResponse = errors.New("invalid response")
)

// Header is the fixed part of every probe datagram. The sequence id is written in native
// byte order; the server echoes it back untouched so only this side ever reads it.
type Header struct {
	Tag [4]byte
	Seq int32
}

// Recorder receives one timestamp per sequence id.
type Recorder interface {
	Put(seq int32, ts clock.Timestamp) bool
}

func Encode(tag string, seq int32, size int) ([]byte, error) {
	return AppendPacket(nil, tag, seq, size)
}

// AppendPacket appends a complete packet of exactly size bytes to buf.
func AppendPacket(buf []byte, tag string, seq int32, size int) ([]byte, error) {
	if size < HeaderSize {
		return buf, ErrPacketTooSmall
	}
	if len(tag) != len(Header{}.Tag) {
		return buf, ErrInvalidTag
	}
	h := Header{Seq: seq}
	copy(h.Tag[:], tag)

	var err error
	if buf, err = binary.Append(buf, binary.NativeEndian, &h); err != nil {
		return buf, fmt.Errorf("binary.Append on header: %w", err)
	}
	for i := HeaderSize; i < size; i++ {
		buf = append(buf, byte(i))
	}
	return buf, nil
}

func Decode(buf []byte, tag string, size int) (int32, error) {
	if len(buf) != size || len(buf) < HeaderSize {
		return 0, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidResponse, len(buf), size)
	}
	var h Header
	if _, err := binary.Decode(buf[:HeaderSize], binary.NativeEndian, &h); err != nil {
		return 0, fmt.Errorf("%w: binary.Decode: %v", ErrInvalidResponse, err)
	}
	if string(h.Tag[:]) != tag {
		return 0, fmt.Errorf("%w: tag %q, expected %q", ErrInvalidResponse, h.Tag[:], tag)
	}
	return h.Seq, nil
}
