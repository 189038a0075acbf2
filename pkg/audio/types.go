// ABOUTME: Audio type definitions
// ABOUTME: Defines negotiated PCM formats, buffer lists and sample conversions
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// ErrInvalidFormat is returned when a format cannot describe a PCM stream
var ErrInvalidFormat = errors.New("audio: invalid format")

// Format describes a negotiated PCM stream layout. It is immutable once a
// processing session has agreed on it.
type Format struct {
	SampleRate  float64
	Channels    int
	BitDepth    int  // bits per channel sample
	Float       bool // IEEE float samples instead of signed integers
	Interleaved bool
}

// Float32Planar returns the canonical tap processing format: one float32
// buffer per channel.
func Float32Planar(sampleRate float64, channels int) Format {
	return Format{SampleRate: sampleRate, Channels: channels, BitDepth: 32, Float: true}
}

// Int16Interleaved returns the common hardware format.
func Int16Interleaved(sampleRate float64, channels int) Format {
	return Format{SampleRate: sampleRate, Channels: channels, BitDepth: 16, Interleaved: true}
}

// Validate checks that the format is one we can pack and unpack
func (f Format) Validate() error {
	if f.SampleRate <= 0 || math.IsNaN(f.SampleRate) || math.IsInf(f.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate %v", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	}
	if f.Float {
		if f.BitDepth != 32 {
			return fmt.Errorf("%w: float samples must be 32-bit, got %d", ErrInvalidFormat, f.BitDepth)
		}
		return nil
	}
	switch f.BitDepth {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w: unsupported bit depth %d (supported: 16, 24, 32)", ErrInvalidFormat, f.BitDepth)
	}
}

// BytesPerSample returns the size of one channel sample
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BytesPerFrame returns the size of one frame inside a single buffer.
// Planar formats hold one sample per frame in each buffer.
func (f Format) BytesPerFrame() int {
	if f.Interleaved {
		return f.BytesPerSample() * f.Channels
	}
	return f.BytesPerSample()
}

// Buffers returns how many buffers a BufferList for this format carries
func (f Format) Buffers() int {
	if f.Interleaved {
		return 1
	}
	return f.Channels
}

// FramesIn returns the number of frames covering d
func (f Format) FramesIn(d time.Duration) int {
	return int(math.Ceil(f.SampleRate * d.Seconds()))
}

// Duration returns the playback time of the given frame count
func (f Format) Duration(frames int) time.Duration {
	return time.Duration(float64(frames) / f.SampleRate * float64(time.Second))
}

// SameLayout reports whether two formats share sample encoding and buffer
// layout, ignoring the sample rate.
func (f Format) SameLayout(o Format) bool {
	return f.Channels == o.Channels && f.BitDepth == o.BitDepth &&
		f.Float == o.Float && f.Interleaved == o.Interleaved
}

func (f Format) String() string {
	enc := "s"
	if f.Float {
		enc = "f"
	}
	layout := "planar"
	if f.Interleaved {
		layout = "interleaved"
	}
	return fmt.Sprintf("%gHz %dch %s%d %s", f.SampleRate, f.Channels, enc, f.BitDepth, layout)
}

// BufferList holds PCM data for one call: a single buffer when the format is
// interleaved, one buffer per channel otherwise.
type BufferList [][]byte

// NewBufferList allocates a zeroed buffer list able to hold frames frames
func NewBufferList(f Format, frames int) BufferList {
	bl := make(BufferList, f.Buffers())
	for i := range bl {
		bl[i] = make([]byte, frames*f.BytesPerFrame())
	}
	return bl
}

// Check verifies that the list matches the declared format and can hold
// frames frames.
func (bl BufferList) Check(f Format, frames int) error {
	if len(bl) != f.Buffers() {
		return fmt.Errorf("%w: %s needs %d buffers, got %d", ErrInvalidFormat, f, f.Buffers(), len(bl))
	}
	need := frames * f.BytesPerFrame()
	for i, b := range bl {
		if len(b) < need {
			return fmt.Errorf("%w: buffer %d holds %d bytes, %d frames need %d",
				ErrInvalidFormat, i, len(b), frames, need)
		}
	}
	return nil
}

// Fits is Check without the error value, for paths that must not allocate
func (bl BufferList) Fits(f Format, frames int) bool {
	if len(bl) != f.Buffers() {
		return false
	}
	need := frames * f.BytesPerFrame()
	for _, b := range bl {
		if len(b) < need {
			return false
		}
	}
	return true
}

// Silence zeroes the first frames frames of every buffer
func (bl BufferList) Silence(f Format, frames int) {
	n := frames * f.BytesPerFrame()
	for _, b := range bl {
		if n > len(b) {
			clear(b)
			continue
		}
		clear(b[:n])
	}
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
