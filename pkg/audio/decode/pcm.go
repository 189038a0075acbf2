// ABOUTME: PCM audio decoder
// ABOUTME: Validates 16-bit and 24-bit little-endian PCM payloads
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	format audio.Format
}

// NewPCM creates a new PCM decoder
func NewPCM(wire audio.Format) (Decoder, error) {
	if wire.BitDepth != 16 && wire.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", wire.BitDepth)
	}
	f := audio.Format{
		SampleRate:  wire.SampleRate,
		Channels:    wire.Channels,
		BitDepth:    wire.BitDepth,
		Interleaved: true,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &PCMDecoder{format: f}, nil
}

func (d *PCMDecoder) Format() audio.Format { return d.format }

// Decode returns the whole frames of data; PCM is already in wire layout
func (d *PCMDecoder) Decode(data []byte) ([]byte, error) {
	bpf := d.format.BytesPerFrame()
	if len(data)%bpf != 0 {
		return nil, fmt.Errorf("pcm payload of %d bytes is not a whole number of %d-byte frames", len(data), bpf)
	}
	return data, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
