// ABOUTME: Binary audio chunk framing
// ABOUTME: Frames are [type byte][8-byte big-endian timestamp][payload]
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary message types
const (
	// ChunkAudio carries a participant's encoded outbound audio
	ChunkAudio byte = 0
	// ChunkRoom is relayed audio; the payload starts with the sender's slot
	ChunkRoom byte = 1
)

// ChunkHeaderSize is the fixed prefix before the payload
const ChunkHeaderSize = 9

// ErrShortChunk is returned for binary messages without a full header
var ErrShortChunk = errors.New("protocol: binary message too short")

// Chunk is one binary audio message
type Chunk struct {
	Type      byte
	Timestamp int64 // microseconds, sender clock
	Payload   []byte
}

// AppendChunk appends the framed chunk to dst
func AppendChunk(dst []byte, typ byte, timestamp int64, payload []byte) []byte {
	dst = append(dst, typ)
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	return append(dst, payload...)
}

// ParseChunk reads a framed chunk; Payload aliases data
func ParseChunk(data []byte) (Chunk, error) {
	if len(data) < ChunkHeaderSize {
		return Chunk{}, ErrShortChunk
	}
	c := Chunk{
		Type:      data[0],
		Timestamp: int64(binary.BigEndian.Uint64(data[1:ChunkHeaderSize])),
		Payload:   data[ChunkHeaderSize:],
	}
	switch c.Type {
	case ChunkAudio:
	case ChunkRoom:
		if len(c.Payload) == 0 {
			return c, ErrShortChunk
		}
	default:
		return c, fmt.Errorf("protocol: unknown binary message type %d", c.Type)
	}
	return c, nil
}

// AppendRoomChunk frames relayed audio from the participant in slot
func AppendRoomChunk(dst []byte, slot byte, timestamp int64, payload []byte) []byte {
	dst = append(dst, ChunkRoom)
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	dst = append(dst, slot)
	return append(dst, payload...)
}

// Slot splits a room chunk's payload into sender slot and audio
func (c Chunk) Slot() (byte, []byte) {
	if c.Type != ChunkRoom || len(c.Payload) == 0 {
		return 0, c.Payload
	}
	return c.Payload[0], c.Payload[1:]
}
