// ABOUTME: Tests for the processing tap lifecycle
// ABOUTME: Covers state transitions, silence substitution, idempotent teardown and ring feeding
package tap

import (
	"sync/atomic"
	"testing"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/convert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	render  *audio.Format
	capture *audio.Format
}

func (d *fakeDevice) RenderFormat() (audio.Format, bool) {
	if d.render == nil {
		return audio.Format{}, false
	}
	return *d.render, true
}

func (d *fakeDevice) CaptureFormat() (audio.Format, bool) {
	if d.capture == nil {
		return audio.Format{}, false
	}
	return *d.capture, true
}

type fakeLink struct {
	dev  *fakeDevice
	gone atomic.Bool
}

func (l *fakeLink) Resolve() (Device, bool) {
	if l.gone.Load() {
		return nil, false
	}
	return l.dev, true
}

func renderOnly(f audio.Format) *fakeLink {
	return &fakeLink{dev: &fakeDevice{render: &f}}
}

// constant fills a planar float buffer list with v
func constant(f audio.Format, frames int, v float64) audio.BufferList {
	bl := audio.NewBufferList(f, frames)
	for _, b := range bl {
		for i := 0; i < frames; i++ {
			audio.WriteSample(b[i*4:], f, v)
		}
	}
	return bl
}

func dirty(f audio.Format, frames int) audio.BufferList {
	bl := audio.NewBufferList(f, frames)
	for _, b := range bl {
		for i := range b {
			b[i] = 0xAB
		}
	}
	return bl
}

func assertSilent(t *testing.T, bl audio.BufferList) {
	t.Helper()
	for _, b := range bl {
		for i, v := range b {
			if v != 0 {
				t.Fatalf("byte %d not silent: %#x", i, v)
			}
		}
	}
}

func TestLifecycleStates(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, tp.State())
	assert.NotEmpty(t, tp.ID())

	require.NoError(t, tp.Prepare(256, src))
	assert.Equal(t, StatePrepared, tp.State())

	tp.Process(256, constant(src, 256, 0.1), audio.NewBufferList(src, 256))
	assert.Equal(t, StateRunning, tp.State())

	tp.Unprepare()
	assert.Equal(t, StateUnprepared, tp.State())

	tp.Finalize()
	assert.Equal(t, StateFinalized, tp.State())
	assert.ErrorIs(t, tp.Prepare(256, src), ErrFinalized)
}

func TestProcessBeforePrepareIsSilent(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{})
	require.NoError(t, err)

	out := dirty(src, 128)
	res := tp.Process(128, constant(src, 128, 0.5), out)
	assert.True(t, res.Silent)
	assertSilent(t, out)
	assert.Equal(t, uint64(1), tp.Stats().SilentCalls)
}

func TestProcessAfterUnprepareIsSilent(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{HostOutput: HostOutputPassthrough})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(128, src))
	tp.Unprepare()

	out := dirty(src, 128)
	res := tp.Process(128, constant(src, 128, 0.5), out)
	assert.True(t, res.Silent)
	assertSilent(t, out)
	assert.Equal(t, 0, tp.ReadRender(make([]byte, 64)))
}

func TestTeardownIsIdempotent(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{})
	require.NoError(t, err)

	// never prepared
	tp.Unprepare()
	tp.Unprepare()
	assert.Equal(t, StateUninitialized, tp.State())

	require.NoError(t, tp.Prepare(128, src))
	tp.Unprepare()
	once := tp.Stats()
	tp.Unprepare()
	assert.Equal(t, once, tp.Stats())

	tp.Finalize()
	once = tp.Stats()
	tp.Finalize()
	assert.Equal(t, once, tp.Stats())
}

func TestFinalizeWithoutPrepare(t *testing.T) {
	tp, err := New(nil, Config{})
	require.NoError(t, err)
	tp.Finalize()
	assert.Equal(t, StateFinalized, tp.State())
}

func TestPrepareWithVanishedDevice(t *testing.T) {
	link := renderOnly(audio.Int16Interleaved(48000, 2))
	link.gone.Store(true)
	tp, err := New(link, Config{})
	require.NoError(t, err)

	err = tp.Prepare(256, audio.Float32Planar(48000, 2))
	assert.ErrorIs(t, err, ErrInvalidDevice)
	assert.Equal(t, StateUninitialized, tp.State())

	nilLink, err := New(nil, Config{})
	require.NoError(t, err)
	assert.ErrorIs(t, nilLink.Prepare(256, audio.Float32Planar(48000, 2)), ErrInvalidDevice)
}

func TestPrepareRejectsPlanarDeviceFormat(t *testing.T) {
	tp, err := New(renderOnly(audio.Float32Planar(48000, 2)), Config{})
	require.NoError(t, err)

	err = tp.Prepare(256, audio.Float32Planar(48000, 2))
	assert.ErrorIs(t, err, convert.ErrFormatNegotiation)
	assert.Equal(t, StateUninitialized, tp.State())
}

func TestPrepareRejectsInvalidProcessingFormat(t *testing.T) {
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{})
	require.NoError(t, err)
	err = tp.Prepare(256, audio.Format{SampleRate: 48000, Channels: 0, BitDepth: 32, Float: true})
	assert.ErrorIs(t, err, convert.ErrFormatNegotiation)
}

func TestFirstProcessResamples(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	dev := audio.Int16Interleaved(44100, 2)
	tp, err := New(renderOnly(dev), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(512, src))
	tp.Attach(true, false)

	res := tp.Process(512, constant(src, 512, 0.25), audio.NewBufferList(src, 512))
	assert.False(t, res.Silent)
	assert.Equal(t, 512, res.Frames)

	stats := tp.Stats()
	require.NotNil(t, stats.Render)
	assert.Nil(t, stats.Capture)
	assert.True(t, stats.Render.Primed)
	assert.Greater(t, stats.Render.Fill, 0)
	assert.LessOrEqual(t, stats.Render.Fill, 512*dev.BytesPerFrame())
	assert.Equal(t, 0, stats.Render.Fill%dev.BytesPerFrame())
}

func TestRenderCarriesConvertedAudio(t *testing.T) {
	src := audio.Float32Planar(48000, 1)
	dev := audio.Int16Interleaved(48000, 2)
	tp, err := New(renderOnly(dev), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(64, src))
	tp.Attach(true, false)

	out := dirty(src, 64)
	res := tp.Process(64, constant(src, 64, 0.5), out)
	require.False(t, res.Silent)
	assertSilent(t, out)

	p := make([]byte, 64*dev.BytesPerFrame())
	require.Equal(t, len(p), tp.ReadRender(p))
	for i := 0; i < len(p); i += 2 {
		assert.InDelta(t, 0.5, audio.ReadSample(p[i:], dev), 1.0/(1<<15))
	}

	// nothing left: short read is an underrun
	assert.Equal(t, 0, tp.ReadRender(p))
	assert.Equal(t, uint64(len(p)), tp.Stats().Render.Underruns)
}

func TestDetachedTapDoesNotFeedRing(t *testing.T) {
	src := audio.Float32Planar(48000, 1)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 1)), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(64, src))

	tp.Process(64, constant(src, 64, 0.5), audio.NewBufferList(src, 64))
	assert.Equal(t, 0, tp.Stats().Render.Fill)
}

func TestReattachDropsStaleAudio(t *testing.T) {
	src := audio.Float32Planar(48000, 1)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 1)), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(64, src))

	tp.Attach(true, false)
	tp.Process(64, constant(src, 64, 0.5), audio.NewBufferList(src, 64))
	tp.Detach()
	tp.Attach(true, false)
	tp.Process(32, constant(src, 32, 0.25), audio.NewBufferList(src, 64))

	p := make([]byte, 128)
	n := tp.ReadRender(p)
	require.Equal(t, 64, n)
	assert.InDelta(t, 0.25, audio.ReadSample(p, audio.Int16Interleaved(48000, 1)), 1e-4)
}

func TestPassthroughHostOutput(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{HostOutput: HostOutputPassthrough})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(128, src))

	in := constant(src, 128, 0.3)
	out := audio.NewBufferList(src, 128)
	tp.Process(128, in, out)
	assert.Equal(t, in, out)
}

func TestLayoutMismatchReportsNegotiationError(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(128, src))
	tp.Attach(true, false)

	// declared stereo planar, supplied a single buffer
	bad := audio.NewBufferList(src, 128)[:1]
	res := tp.Process(128, bad, audio.NewBufferList(src, 128))
	assert.True(t, res.Silent)
	assert.ErrorIs(t, tp.Err(), convert.ErrFormatNegotiation)
	assert.Equal(t, uint64(1), tp.Stats().ConvertErrors)

	// re-preparing recovers
	require.NoError(t, tp.Prepare(128, src))
	assert.NoError(t, tp.Err())
	res = tp.Process(128, constant(src, 128, 0.1), audio.NewBufferList(src, 128))
	assert.False(t, res.Silent)
}

func TestStalledConsumerDropsOldest(t *testing.T) {
	src := audio.Float32Planar(48000, 1)
	dev := audio.Int16Interleaved(48000, 1)
	tp, err := New(renderOnly(dev), Config{RingBufferMs: 1, Quantum: 64})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(64, src))
	tp.Attach(true, false)

	// same-rate conversion: 64 frames in, 64 frames out, 128 bytes per call
	require.Equal(t, 512, tp.Stats().Render.Capacity)

	for call := 0; call < 5; call++ {
		in := audio.NewBufferList(src, 64)
		for i := 0; i < 64; i++ {
			audio.WriteSample(in[0][i*4:], src, float64(call*64+i)/1000)
		}
		tp.Process(64, in, audio.NewBufferList(src, 64))
	}
	stats := tp.Stats().Render
	assert.Equal(t, 512, stats.Fill)
	assert.Equal(t, uint64(128), stats.Overruns)

	// the consumer trims so the next full write fits
	p := make([]byte, 2)
	require.Equal(t, 2, tp.ReadRender(p))
	stats = tp.Stats().Render
	assert.Equal(t, uint64(254), stats.Trimmed)
	assert.Equal(t, 256, stats.Fill)

	require.Equal(t, 2, tp.ReadRender(p))
	assert.InDelta(t, 0.128, audio.ReadSample(p, dev), 1.0/(1<<15))
}

func TestCaptureDirectionFedWhenAttached(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	in := audio.Int16Interleaved(16000, 1)
	out := audio.Int16Interleaved(48000, 2)
	link := &fakeLink{dev: &fakeDevice{render: &out, capture: &in}}
	tp, err := New(link, Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(480, src))
	tp.Attach(true, true)

	for i := 0; i < 4; i++ {
		tp.Process(480, constant(src, 480, 0.2), audio.NewBufferList(src, 480))
	}

	stats := tp.Stats()
	require.NotNil(t, stats.Capture)
	assert.Equal(t, in, stats.Capture.Format)
	assert.Greater(t, stats.Capture.Fill, 0)

	p := make([]byte, 160*in.BytesPerFrame())
	require.Equal(t, len(p), tp.ReadCapture(p))
	// well past the interpolator's start-up
	assert.InDelta(t, 0.2, audio.ReadSample(p[100*2:], in), 1e-3)
}

func TestParseHostOutput(t *testing.T) {
	h, err := ParseHostOutput("passthrough")
	require.NoError(t, err)
	assert.Equal(t, HostOutputPassthrough, h)
	_, err = ParseHostOutput("loud")
	assert.Error(t, err)
}

func TestConfigRejectsHighQuality(t *testing.T) {
	_, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{Quality: convert.QualityHigh})
	assert.Error(t, err)
	assert.NoError(t, Config{Quality: convert.QualityRealtime}.Validate())
}

func TestSteadyStateDoesNotAllocate(t *testing.T) {
	src := audio.Float32Planar(44100, 2)
	out := audio.Int16Interleaved(48000, 2)
	in := audio.Int16Interleaved(16000, 1)
	link := &fakeLink{dev: &fakeDevice{render: &out, capture: &in}}
	tp, err := New(link, Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(441, src))
	tp.Attach(true, true)

	source := constant(src, 441, 0.2)
	host := audio.NewBufferList(src, 441)
	render := make([]byte, 480*out.BytesPerFrame())
	capture := make([]byte, 160*in.BytesPerFrame())
	cycle := func() {
		tp.Process(441, source, host)
		tp.ReadRender(render)
		tp.ReadCapture(capture)
	}
	for i := 0; i < 20; i++ {
		cycle()
	}

	assert.Zero(t, testing.AllocsPerRun(200, cycle))
	assert.Zero(t, tp.Stats().ConvertErrors)
}

func TestFirstFailureDoesNotAllocate(t *testing.T) {
	src := audio.Float32Planar(48000, 2)
	tp, err := New(renderOnly(audio.Int16Interleaved(48000, 2)), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(128, src))
	tp.Attach(true, false)

	bad := audio.NewBufferList(src, 128)[:1]
	host := audio.NewBufferList(src, 128)
	allocs := testing.AllocsPerRun(50, func() {
		tp.failure.Store(nil)
		tp.Process(128, bad, host)
	})
	assert.Zero(t, allocs)
	assert.ErrorIs(t, tp.Err(), convert.ErrFormatNegotiation)
}

func TestOversizedProcessIsCounted(t *testing.T) {
	src := audio.Float32Planar(48000, 1)
	dev := audio.Int16Interleaved(48000, 1)
	tp, err := New(renderOnly(dev), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(256, src))
	tp.Attach(true, false)

	res := tp.Process(1024, constant(src, 1024, 0.1), audio.NewBufferList(src, 1024))
	assert.False(t, res.Silent)
	assert.Equal(t, 256, res.Frames)

	stats := tp.Stats()
	assert.Equal(t, uint64(768), stats.TruncatedFrames)
	assert.Equal(t, 256*dev.BytesPerFrame(), stats.Render.Fill)

	tp.Process(256, constant(src, 256, 0.1), audio.NewBufferList(src, 256))
	assert.Equal(t, uint64(768), tp.Stats().TruncatedFrames)
}
