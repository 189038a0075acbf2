// ABOUTME: Tests for the device adapter
// ABOUTME: Covers start/stop semantics, rebinding, render mixing and the transmission pump
package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/hardware"
	"github.com/Resonate-Protocol/coview-go/pkg/tap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu     sync.Mutex
	refuse error
	opens  int
	closes int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Supports(cfg hardware.Config) error { return f.refuse }

func (f *fakeBackend) Open(cfg hardware.Config, cb hardware.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type constantRoom struct {
	format audio.Format
	value  float64
}

func (r constantRoom) ReadRoom(p []byte) int {
	bps := r.format.BytesPerSample()
	for i := 0; i+bps <= len(p); i += bps {
		audio.WriteSample(p[i:], r.format, r.value)
	}
	return len(p)
}

type recordingSink struct {
	mu       sync.Mutex
	received []byte
	got      chan struct{}
}

func (s *recordingSink) Deliver(samples []byte, format audio.Format) error {
	s.mu.Lock()
	s.received = append(s.received, samples...)
	s.mu.Unlock()
	select {
	case s.got <- struct{}{}:
	default:
	}
	return nil
}

var (
	mono48   = audio.Int16Interleaved(48000, 1)
	planar48 = audio.Float32Planar(48000, 1)
)

func constant(frames int, v float64) audio.BufferList {
	bl := audio.NewBufferList(planar48, frames)
	for i := 0; i < frames; i++ {
		audio.WriteSample(bl[0][i*4:], planar48, v)
	}
	return bl
}

func newTestDevice(t *testing.T, cfg Config) *Device {
	t.Helper()
	if cfg.Backend == nil {
		cfg.Backend = &fakeBackend{}
	}
	if cfg.Render.Channels == 0 {
		cfg.Render = mono48
	}
	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func preparedTap(t *testing.T, d *Device) *tap.Tap {
	t.Helper()
	tp, err := tap.New(d.Link(), tap.Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Prepare(480, planar48))
	t.Cleanup(tp.Finalize)
	return tp
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Render: mono48})
	assert.Error(t, err, "backend required")

	_, err = New(Config{Render: planar48, Backend: &fakeBackend{}})
	assert.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestStartFailure(t *testing.T) {
	reason := errors.New("format not supported")
	d := newTestDevice(t, Config{Backend: &fakeBackend{refuse: reason}})

	err := d.Start(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHardwareStart)
	assert.ErrorIs(t, err, reason)

	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "fake", se.Backend)
	assert.False(t, d.Running())
}

func TestStopIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	d := newTestDevice(t, Config{Backend: backend})

	assert.NoError(t, d.Stop(), "stop before start")

	require.NoError(t, d.Start(t.Context()))
	require.NoError(t, d.Start(t.Context()))
	assert.True(t, d.Running())

	assert.NoError(t, d.Stop())
	assert.NoError(t, d.Stop())
	assert.False(t, d.Running())
	assert.Equal(t, 1, backend.opens)
	assert.Equal(t, 1, backend.closes)
}

func TestRebindQuiescesOldTap(t *testing.T) {
	d := newTestDevice(t, Config{})
	tapA := preparedTap(t, d)
	tapB := preparedTap(t, d)

	require.NoError(t, d.Bind(tapA))
	require.NoError(t, d.Start(t.Context()))
	tapA.Process(480, constant(480, 0.5), audio.NewBufferList(planar48, 480))
	fillA := tapA.Stats().Render.Fill
	require.Greater(t, fillA, 0)

	require.NoError(t, d.Bind(tapB))
	assert.Same(t, tapB, d.Bound())
	tapB.Process(480, constant(480, 0.25), audio.NewBufferList(planar48, 480))

	out := make([]byte, 480*mono48.BytesPerFrame())
	d.Render(out, 480)
	assert.InDelta(t, 0.25, audio.ReadSample(out[100:], mono48), 1e-4)
	assert.Equal(t, fillA, tapA.Stats().Render.Fill, "old tap was read after rebind")

	// tearing down A must not stall B's callbacks
	stop := make(chan struct{})
	renders := make(chan struct{}, 1)
	go func() {
		buf := make([]byte, len(out))
		for {
			select {
			case <-stop:
				return
			default:
			}
			d.Render(buf, 480)
			select {
			case renders <- struct{}{}:
			default:
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		tapA.Unprepare()
		tapA.Finalize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("old tap teardown blocked")
	}
	select {
	case <-renders:
	case <-time.After(2 * time.Second):
		t.Fatal("render callback stalled")
	}
	close(stop)
}

func TestRenderMixesRoomAndTap(t *testing.T) {
	d := newTestDevice(t, Config{Room: constantRoom{format: mono48, value: 0.25}})
	tp := preparedTap(t, d)
	require.NoError(t, d.Bind(tp))
	require.NoError(t, d.Start(t.Context()))
	d.SetVolume(50)

	tp.Process(480, constant(480, 0.5), audio.NewBufferList(planar48, 480))
	out := make([]byte, 480*mono48.BytesPerFrame())
	d.Render(out, 480)
	assert.InDelta(t, 0.5, audio.ReadSample(out[200:], mono48), 1e-3)

	d.SetMuted(true)
	tp.Process(480, constant(480, 0.5), audio.NewBufferList(planar48, 480))
	d.Render(out, 480)
	assert.InDelta(t, 0.25, audio.ReadSample(out[200:], mono48), 1e-3)
}

func TestRenderWithoutTapIsSilent(t *testing.T) {
	d := newTestDevice(t, Config{})
	out := []byte{1, 2, 3, 4}
	d.Render(out, 2)
	assert.Equal(t, []byte{0, 0, 0, 0}, out)
}

func TestRenderChunksLargePeriods(t *testing.T) {
	d := newTestDevice(t, Config{MaxPeriodFrames: 64, Room: constantRoom{format: mono48, value: 0.1}})
	out := make([]byte, 200*mono48.BytesPerFrame())
	d.Render(out, 200)
	assert.InDelta(t, 0.1, audio.ReadSample(out[len(out)-2:], mono48), 1e-4)
}

func TestCaptureMixedAndDelivered(t *testing.T) {
	virtual := hardware.NewVirtual()
	virtual.Manual = true
	virtual.ToneHz = 0
	sink := &recordingSink{got: make(chan struct{}, 1)}

	d := newTestDevice(t, Config{
		Backend:          virtual,
		Capture:          mono48,
		Sink:             sink,
		PeriodFrames:     480,
		TransmitInterval: 5 * time.Millisecond,
	})
	tp := preparedTap(t, d)
	require.NoError(t, d.Bind(tp))
	require.NoError(t, d.Start(t.Context()))

	tp.Process(480, constant(480, 0.3), audio.NewBufferList(planar48, 480))
	virtual.Tick()

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("nothing delivered")
	}
	require.NoError(t, d.Stop())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.received, 480*mono48.BytesPerFrame())
	assert.InDelta(t, 0.3, audio.ReadSample(sink.received[300:], mono48), 1e-4)
	assert.Equal(t, uint64(len(sink.received)), d.Stats().Delivered)
}

func TestClosedDeviceInvalidatesLinks(t *testing.T) {
	d := newTestDevice(t, Config{})
	tp, err := d.CreateProcessingTap(tap.Config{})
	require.NoError(t, err)
	assert.Same(t, tp, d.Bound())

	require.NoError(t, d.Close())
	assert.Nil(t, d.Bound())
	assert.ErrorIs(t, tp.Prepare(480, planar48), tap.ErrInvalidDevice)
	assert.ErrorIs(t, d.Bind(tp), ErrClosed)
	assert.ErrorIs(t, d.Start(t.Context()), ErrClosed)
	assert.NoError(t, d.Close())
}

func TestUnbindDetaches(t *testing.T) {
	d := newTestDevice(t, Config{})
	tp := preparedTap(t, d)
	require.NoError(t, d.Bind(tp))
	require.NoError(t, d.Start(t.Context()))
	d.Unbind()
	assert.Nil(t, d.Bound())

	tp.Process(480, constant(480, 0.5), audio.NewBufferList(planar48, 480))
	assert.Equal(t, 0, tp.Stats().Render.Fill)
}

func TestCallbacksDoNotAllocate(t *testing.T) {
	d := newTestDevice(t, Config{
		Capture: mono48,
		Room:    constantRoom{format: mono48, value: 0.1},
	})
	tp := preparedTap(t, d)
	require.NoError(t, d.Bind(tp))
	// fed directly; no pump runs without Start
	tp.Attach(true, true)

	source := constant(480, 0.3)
	host := audio.NewBufferList(planar48, 480)
	out := make([]byte, 480*mono48.BytesPerFrame())
	mic := make([]byte, 480*mono48.BytesPerFrame())
	cycle := func() {
		tp.Process(480, source, host)
		d.Render(out, 480)
		d.Capture(mic, 480)
	}
	for i := 0; i < 20; i++ {
		cycle()
	}

	assert.Zero(t, testing.AllocsPerRun(200, cycle))
	assert.InDelta(t, 0.4, audio.ReadSample(out[200:], mono48), 1e-3)
}
