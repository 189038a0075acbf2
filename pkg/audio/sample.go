// ABOUTME: Per-sample packing between PCM bytes and normalized floats
// ABOUTME: Also provides the clipping mixer used by render and capture callbacks
package audio

import (
	"encoding/binary"
	"math"
)

const (
	scale16 = 1 << 15
	scale24 = 1 << 23
	scale32 = 1 << 31
)

// ReadSample decodes one little-endian sample from b as a value in [-1, 1)
func ReadSample(b []byte, f Format) float64 {
	if f.Float {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	switch f.BitDepth {
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / scale16
	case 24:
		return float64(SampleFrom24Bit([3]byte{b[0], b[1], b[2]})) / scale24
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / scale32
	}
}

// WriteSample encodes v into b, clipping integer encodings to full scale
func WriteSample(b []byte, f Format, v float64) {
	if f.Float {
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return
	}
	switch f.BitDepth {
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clip(v, scale16))))
	case 24:
		s := SampleTo24Bit(int32(clip(v, scale24)))
		b[0], b[1], b[2] = s[0], s[1], s[2]
	default:
		binary.LittleEndian.PutUint32(b, uint32(int32(clip(v, scale32))))
	}
}

func clip(v float64, scale float64) float64 {
	s := math.Round(v * scale)
	if s > scale-1 {
		return scale - 1
	}
	if s < -scale {
		return -scale
	}
	return s
}

// Mix adds gain*src into dst. Both hold interleaved samples in format f;
// only the common prefix is mixed. Integer encodings clip at full scale.
func Mix(dst, src []byte, f Format, gain float64) {
	bps := f.BytesPerSample()
	n := min(len(dst), len(src)) / bps * bps
	if gain == 0 {
		return
	}
	for i := 0; i < n; i += bps {
		v := ReadSample(dst[i:], f) + gain*ReadSample(src[i:], f)
		if f.Float {
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
		}
		WriteSample(dst[i:], f, v)
	}
}

// Scale multiplies every sample in b by gain
func Scale(b []byte, f Format, gain float64) {
	if gain == 1 {
		return
	}
	if gain == 0 {
		clear(b)
		return
	}
	bps := f.BytesPerSample()
	n := len(b) / bps * bps
	for i := 0; i < n; i += bps {
		WriteSample(b[i:], f, gain*ReadSample(b[i:], f))
	}
}

// VolumeMultiplier maps a 0-100 volume and mute flag to a linear gain
func VolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
