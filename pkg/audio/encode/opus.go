// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms frames of interleaved PCM to Opus packets
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxPacket is the largest Opus packet we accept from the encoder
const maxPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	input     audio.Format
	frameSize int
	pcm       []int16
	data      []byte
}

// NewOpus creates a new Opus encoder. Opus accepts 8, 12, 16, 24 and 48kHz
// with one or two channels.
func NewOpus(input audio.Format) (Encoder, error) {
	if err := checkInput(input); err != nil {
		return nil, err
	}
	rate := int(input.SampleRate)
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("unsupported opus sample rate: %v", input.SampleRate)
	}
	if input.Channels > 2 {
		return nil, fmt.Errorf("unsupported opus channel count: %d", input.Channels)
	}

	encoder, err := opus.NewEncoder(rate, input.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	frameSize := rate / 50 // 20ms frame
	return &OpusEncoder{
		encoder:   encoder,
		input:     input,
		frameSize: frameSize,
		pcm:       make([]int16, frameSize*input.Channels),
		data:      make([]byte, maxPacket),
	}, nil
}

func (e *OpusEncoder) Codec() string  { return "opus" }
func (e *OpusEncoder) FrameSize() int { return e.frameSize }

// Encode converts exactly one frame of PCM to an Opus packet
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	bps := e.input.BytesPerSample()
	if len(pcm) != e.frameSize*e.input.BytesPerFrame() {
		return nil, fmt.Errorf("opus frame must be %d frames, got %d bytes", e.frameSize, len(pcm))
	}

	for i := range e.pcm {
		v := max(-1, min(audio.ReadSample(pcm[i*bps:], e.input), 1))
		e.pcm[i] = audio.SampleToInt16(int32(v * audio.Max24Bit))
	}

	n, err := e.encoder.Encode(e.pcm, e.data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	return e.data[:n], nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
