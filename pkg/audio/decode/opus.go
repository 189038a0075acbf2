// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to interleaved 16-bit PCM
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxFrameSize is the longest Opus frame: 120ms at 48kHz
const maxFrameSize = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm16   []int16
	out     []byte
}

// NewOpus creates a new Opus decoder
func NewOpus(wire audio.Format) (Decoder, error) {
	f := audio.Int16Interleaved(wire.SampleRate, wire.Channels)
	if err := f.Validate(); err != nil {
		return nil, err
	}

	dec, err := opus.NewDecoder(int(wire.SampleRate), wire.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  f,
		pcm16:   make([]int16, maxFrameSize*wire.Channels),
		out:     make([]byte, maxFrameSize*f.BytesPerFrame()),
	}, nil
}

func (d *OpusDecoder) Format() audio.Format { return d.format }

// Decode converts one Opus packet to PCM bytes
func (d *OpusDecoder) Decode(data []byte) ([]byte, error) {
	n, err := d.decoder.Decode(data, d.pcm16)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	samples := n * d.format.Channels
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(d.out[i*2:], uint16(d.pcm16[i]))
	}
	return d.out[:samples*2], nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
