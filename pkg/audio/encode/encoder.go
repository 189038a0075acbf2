// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders and a constructor by codec name
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// Encoder encodes interleaved PCM bytes to a wire codec
type Encoder interface {
	// Codec returns the wire codec name
	Codec() string

	// FrameSize returns the frames each Encode call must carry; zero
	// accepts any length
	FrameSize() int

	// Encode converts PCM in the input format to encoded audio data. The
	// returned slice is only valid until the next call.
	Encode(pcm []byte) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New creates an encoder for codec. bitDepth selects the PCM wire depth
// and is ignored by Opus.
func New(codec string, input audio.Format, bitDepth int) (Encoder, error) {
	switch codec {
	case "pcm":
		return NewPCM(input, bitDepth)
	case "opus":
		return NewOpus(input)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}
}

func checkInput(input audio.Format) error {
	if err := input.Validate(); err != nil {
		return err
	}
	if !input.Interleaved {
		return fmt.Errorf("%w: encoder input must be interleaved", audio.ErrInvalidFormat)
	}
	return nil
}
