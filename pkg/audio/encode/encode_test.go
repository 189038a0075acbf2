// ABOUTME: Unit tests for the PCM and Opus encoders
// ABOUTME: Tests constructor validation and wire packing
package encode

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	stereo := audio.Int16Interleaved(48000, 2)

	tests := []struct {
		name        string
		codec       string
		input       audio.Format
		bitDepth    int
		errContains string
	}{
		{name: "pcm 16-bit", codec: "pcm", input: stereo, bitDepth: 16},
		{name: "pcm 24-bit", codec: "pcm", input: stereo, bitDepth: 24},
		{name: "pcm 32-bit", codec: "pcm", input: stereo, bitDepth: 32, errContains: "unsupported bit depth"},
		{name: "opus stereo", codec: "opus", input: stereo},
		{name: "opus mono 16kHz", codec: "opus", input: audio.Int16Interleaved(16000, 1)},
		{name: "opus 44.1kHz", codec: "opus", input: audio.Int16Interleaved(44100, 2), errContains: "sample rate"},
		{name: "opus 6 channels", codec: "opus", input: audio.Int16Interleaved(48000, 6), errContains: "channel count"},
		{name: "planar input", codec: "pcm", input: audio.Float32Planar(48000, 2), bitDepth: 16, errContains: "interleaved"},
		{name: "unknown codec", codec: "aac", input: stereo, errContains: "unsupported codec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := New(tt.codec, tt.input, tt.bitDepth)
			if tt.errContains != "" {
				assert.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.codec, encoder.Codec())
			assert.NoError(t, encoder.Close())
		})
	}
}

func TestPCMPassesMatchingLayoutThrough(t *testing.T) {
	encoder, err := NewPCM(audio.Int16Interleaved(48000, 2), 16)
	require.NoError(t, err)
	assert.Equal(t, 0, encoder.FrameSize())

	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	out, err := encoder.Encode(pcm)
	require.NoError(t, err)
	assert.Equal(t, pcm, out)

	_, err = encoder.Encode(pcm[:3])
	assert.Error(t, err, "partial frame")
}

func TestPCMWidensTo24Bit(t *testing.T) {
	input := audio.Int16Interleaved(48000, 1)
	encoder, err := NewPCM(input, 24)
	require.NoError(t, err)

	samples := []int16{0, 32767, -32768, 0x1234}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	out, err := encoder.Encode(pcm)
	require.NoError(t, err)
	require.Len(t, out, len(samples)*3)
	for i, s := range samples {
		got := audio.SampleFrom24Bit([3]byte{out[i*3], out[i*3+1], out[i*3+2]})
		assert.Equal(t, audio.SampleFromInt16(s), got, "sample %d", i)
	}
}

func TestPCMNarrowsFloat(t *testing.T) {
	input := audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 32, Float: true, Interleaved: true}
	encoder, err := NewPCM(input, 16)
	require.NoError(t, err)

	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint32(pcm, math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(pcm[4:], math.Float32bits(2.0))

	out, err := encoder.Encode(pcm)
	require.NoError(t, err)
	assert.Equal(t, int16(16384), int16(binary.LittleEndian.Uint16(out)))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(out[2:])), "clipped")
}

func TestOpusEncodesOneFrame(t *testing.T) {
	input := audio.Int16Interleaved(48000, 2)
	encoder, err := NewOpus(input)
	require.NoError(t, err)
	defer encoder.Close()
	require.Equal(t, 960, encoder.FrameSize())

	pcm := make([]byte, 960*input.BytesPerFrame())
	for i := 0; i < 960; i++ {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/48000)
		audio.WriteSample(pcm[i*4:], input, v)
		audio.WriteSample(pcm[i*4+2:], input, v)
	}

	out, err := encoder.Encode(pcm)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.LessOrEqual(t, len(out), maxPacket)

	silence, err := encoder.Encode(make([]byte, len(pcm)))
	require.NoError(t, err)
	assert.NotEmpty(t, silence, "even silence produces a packet")

	_, err = encoder.Encode(pcm[:100])
	assert.ErrorContains(t, err, "opus frame")
}
