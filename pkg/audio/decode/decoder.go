// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for all audio decoders and a constructor by codec name
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// Decoder decodes wire audio to interleaved PCM bytes
type Decoder interface {
	// Format returns the layout of the decoded PCM
	Format() audio.Format

	// Decode converts encoded audio data to PCM. The returned slice is only
	// valid until the next call.
	Decode(data []byte) ([]byte, error)

	// Close releases decoder resources
	Close() error
}

// New creates a decoder for codec. wire carries the stream's rate, channel
// count and, for PCM, bit depth.
func New(codec string, wire audio.Format) (Decoder, error) {
	switch codec {
	case "pcm":
		return NewPCM(wire)
	case "opus":
		return NewOpus(wire)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}
}
