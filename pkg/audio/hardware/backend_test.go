// ABOUTME: Hardware backend tests
// ABOUTME: Verifies format support checks and the virtual backend's callback driving
package hardware

import (
	"testing"
	"time"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendsImplementInterface(t *testing.T) {
	var _ Backend = (*Malgo)(nil)
	var _ Backend = (*Oto)(nil)
	var _ Backend = (*PortAudio)(nil)
	var _ Backend = (*Virtual)(nil)
}

func TestNewByName(t *testing.T) {
	for _, name := range []string{"malgo", "oto", "portaudio", "virtual"} {
		b, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, b.Name())
	}
	b, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "virtual", b.Name())

	_, err = New("alsa")
	assert.Error(t, err)
}

func TestSupports(t *testing.T) {
	stereo16 := audio.Int16Interleaved(48000, 2)
	mono16k := audio.Int16Interleaved(16000, 1)
	float48 := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 32, Float: true, Interleaved: true}

	tests := []struct {
		name    string
		backend Backend
		cfg     Config
		wantErr bool
	}{
		{"malgo duplex", NewMalgo(), Config{Render: stereo16, Capture: audio.Int16Interleaved(48000, 1)}, false},
		{"malgo rate mismatch", NewMalgo(), Config{Render: stereo16, Capture: mono16k}, true},
		{"malgo planar", NewMalgo(), Config{Render: audio.Float32Planar(48000, 2)}, true},
		{"oto playback", NewOto(), Config{Render: stereo16}, false},
		{"oto float", NewOto(), Config{Render: float48}, false},
		{"oto capture", NewOto(), Config{Render: stereo16, Capture: stereo16}, true},
		{"oto 24-bit", NewOto(), Config{Render: audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 24, Interleaved: true}}, true},
		{"portaudio int16", NewPortAudio(), Config{Render: stereo16}, true},
		{"virtual any rates", NewVirtual(), Config{Render: stereo16, Capture: mono16k}, false},
		{"virtual invalid", NewVirtual(), Config{Render: audio.Format{SampleRate: 48000}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backend.Supports(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupported)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVirtualManualTick(t *testing.T) {
	v := NewVirtual()
	v.Manual = true

	render := audio.Int16Interleaved(48000, 2)
	capture := audio.Int16Interleaved(48000, 1)
	var renderFrames, captureFrames int
	var captured []byte
	var monitored int

	v.Monitor = func(out []byte) { monitored += len(out) }
	err := v.Open(Config{Render: render, Capture: capture, PeriodFrames: 240}, Callbacks{
		Render: func(out []byte, frames int) {
			renderFrames += frames
			assert.Len(t, out, frames*render.BytesPerFrame())
		},
		Capture: func(in []byte, frames int) {
			captureFrames += frames
			captured = append(captured[:0], in...)
		},
	})
	require.NoError(t, err)

	v.Tick()
	v.Tick()
	assert.Equal(t, 480, renderFrames)
	assert.Equal(t, 480, captureFrames)
	assert.Equal(t, 480*render.BytesPerFrame(), monitored)

	// second period of a 440Hz tone is not silent
	peak := 0.0
	for i := 0; i < len(captured); i += 2 {
		peak = max(peak, audio.ReadSample(captured[i:], capture))
	}
	assert.InDelta(t, 0.5, peak, 0.01)

	require.NoError(t, v.Close())
	v.Tick()
	assert.Equal(t, 480, renderFrames, "no callbacks after close")
	require.NoError(t, v.Close())
}

func TestVirtualTicker(t *testing.T) {
	v := NewVirtual()
	calls := make(chan int, 64)
	err := v.Open(Config{Render: audio.Int16Interleaved(48000, 2), PeriodFrames: 48}, Callbacks{
		Render: func(out []byte, frames int) {
			select {
			case calls <- frames:
			default:
			}
		},
	})
	require.NoError(t, err)

	select {
	case frames := <-calls:
		assert.Equal(t, 48, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("virtual backend never rendered")
	}
	require.NoError(t, v.Close())
}
