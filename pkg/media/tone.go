// ABOUTME: Test tone media source
// ABOUTME: Generates a sine at 50% volume on every channel
package media

import (
	"math"
	"sync"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// DefaultToneHz is A4
const DefaultToneHz = 440.0

// Tone generates an endless sine wave
type Tone struct {
	mu          sync.Mutex
	format      audio.Format
	frequency   float64
	sampleIndex uint64
}

// NewTone creates a tone generator
func NewTone(frequency, sampleRate float64, channels int) *Tone {
	return &Tone{
		format:    audio.Float32Planar(sampleRate, channels),
		frequency: frequency,
	}
}

func (s *Tone) Format() audio.Format { return s.format }

func (s *Tone) Read(dst audio.BufferList, frames int) (int, error) {
	if err := dst.Check(s.format, frames); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / s.format.SampleRate
		sample := math.Sin(2*math.Pi*s.frequency*t) * 0.5
		for ch := 0; ch < s.format.Channels; ch++ {
			audio.WriteSample(dst[ch][i*4:], s.format, sample)
		}
	}
	s.sampleIndex += uint64(frames)
	return frames, nil
}

func (s *Tone) Metadata() (string, string, string) {
	return "Test Tone", "coview", "Generated"
}

func (s *Tone) Close() error { return nil }
