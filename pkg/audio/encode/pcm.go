// ABOUTME: PCM audio encoder
// ABOUTME: Repacks interleaved PCM of any encoding to 16-bit or 24-bit little-endian
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	input  audio.Format
	output audio.Format
	buf    []byte
}

// NewPCM creates a new PCM encoder
func NewPCM(input audio.Format, bitDepth int) (Encoder, error) {
	if err := checkInput(input); err != nil {
		return nil, err
	}
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", bitDepth)
	}
	return &PCMEncoder{
		input: input,
		output: audio.Format{
			SampleRate:  input.SampleRate,
			Channels:    input.Channels,
			BitDepth:    bitDepth,
			Interleaved: true,
		},
	}, nil
}

func (e *PCMEncoder) Codec() string { return "pcm" }
func (e *PCMEncoder) FrameSize() int { return 0 }
func (e *PCMEncoder) BitDepth() int { return e.output.BitDepth }

// Encode converts PCM samples to wire bytes
func (e *PCMEncoder) Encode(pcm []byte) ([]byte, error) {
	inBps := e.input.BytesPerSample()
	if len(pcm)%e.input.BytesPerFrame() != 0 {
		return nil, fmt.Errorf("pcm length %d is not a whole number of frames", len(pcm))
	}
	if e.input.SameLayout(e.output) {
		return pcm, nil
	}

	samples := len(pcm) / inBps
	outBps := e.output.BytesPerSample()
	if cap(e.buf) < samples*outBps {
		e.buf = make([]byte, samples*outBps)
	}
	out := e.buf[:samples*outBps]
	for i := 0; i < samples; i++ {
		audio.WriteSample(out[i*outBps:], e.output, audio.ReadSample(pcm[i*inBps:], e.input))
	}
	return out, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
