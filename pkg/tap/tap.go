// ABOUTME: Audio processing tap driven by the host media pipeline lifecycle
// ABOUTME: Converts the player's stream into device rings without blocking, logging or allocating
package tap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/coview-go/internal/quiesce"
	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/convert"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrInvalidDevice is returned by Prepare when the owning device is gone
	ErrInvalidDevice = errors.New("tap: device reference is no longer valid")
	// ErrFinalized is returned by Prepare after Finalize
	ErrFinalized = errors.New("tap: finalized")

	errLayout = errors.New("buffer list does not match the processing format")
)

// State is the lifecycle position of a tap
type State int32

const (
	StateUninitialized State = iota
	StatePrepared
	StateRunning
	StateUnprepared
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateUnprepared:
		return "unprepared"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Device is what a tap needs from the device it feeds
type Device interface {
	// RenderFormat returns the hardware output format, if the device renders
	RenderFormat() (audio.Format, bool)
	// CaptureFormat returns the hardware input format, if the device captures
	CaptureFormat() (audio.Format, bool)
}

// DeviceLink is a non-owning reference to a Device. Resolve fails once the
// device has been closed. It is only called off the real-time path.
type DeviceLink interface {
	Resolve() (Device, bool)
}

// HostOutput selects what Process hands back to the host pipeline
type HostOutput int

const (
	// HostOutputMute returns silence; the device is the only audible path
	HostOutputMute HostOutput = iota
	// HostOutputPassthrough returns the unmodified source audio
	HostOutputPassthrough
)

// ParseHostOutput maps a config string to a HostOutput
func ParseHostOutput(s string) (HostOutput, error) {
	switch s {
	case "", "mute":
		return HostOutputMute, nil
	case "passthrough":
		return HostOutputPassthrough, nil
	default:
		return 0, fmt.Errorf("unknown host output %q (supported: mute, passthrough)", s)
	}
}

// Config holds tap sizing and conversion options
type Config struct {
	RingBufferMs int // ring capacity per direction
	Quantum      int // conversion quantum in frames
	// Quality must be QualityRealtime; Process runs on the host's audio
	// thread and the high quality resampler allocates per block
	Quality    convert.Quality
	HostOutput HostOutput
}

// DefaultRingBufferMs is used when Config.RingBufferMs is zero
const DefaultRingBufferMs = 100

func (c Config) withDefaults() Config {
	if c.RingBufferMs == 0 {
		c.RingBufferMs = DefaultRingBufferMs
	}
	if c.Quantum == 0 {
		c.Quantum = convert.DefaultQuantum
	}
	return c
}

// Validate checks the sizing options
func (c Config) Validate() error {
	if c.RingBufferMs < 0 {
		return fmt.Errorf("tap: ring buffer must be positive, got %dms", c.RingBufferMs)
	}
	if c.Quantum < 0 {
		return fmt.Errorf("tap: quantum must be positive, got %d", c.Quantum)
	}
	if c.Quality != convert.QualityRealtime {
		return fmt.Errorf("tap: %s conversion is not real-time safe", c.Quality)
	}
	return nil
}

// Result is the outcome of one Process call. The real-time path has no
// error channel: failures show up as Silent and in Stats.
type Result struct {
	Frames int  // frames handed back to the host
	Silent bool // nothing was processed and silence was substituted
}

// Stats is a point-in-time snapshot for non-real-time observers
type Stats struct {
	ID            string
	State         State
	Source        audio.Format
	Render        *DirectionStats
	Capture       *DirectionStats
	ProcessCalls  uint64
	SilentCalls   uint64
	ConvertErrors uint64
	// TruncatedFrames counts frames passed to Process beyond the prepared
	// maximum; they are neither converted nor handed back
	TruncatedFrames uint64
}

// Tap intercepts the host's audio. Lifecycle methods are called
// sequentially by the host; Unprepare and Finalize are safe from any state.
// ReadRender and ReadCapture are called by device callbacks.
type Tap struct {
	id  string
	cfg Config

	mu   sync.Mutex // serializes lifecycle calls
	link DeviceLink

	state   atomic.Int32
	gate    *quiesce.Gate
	ctx     atomic.Pointer[Context]
	failure atomic.Pointer[error]

	renderOn  atomic.Bool
	captureOn atomic.Bool

	processCalls  atomic.Uint64
	silentCalls   atomic.Uint64
	convertErrors atomic.Uint64
	truncated     atomic.Uint64
}

// New is the init lifecycle point. The link is only stored; it is resolved
// by Prepare.
func New(link DeviceLink, cfg Config) (*Tap, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tap{
		id:   uuid.NewString(),
		cfg:  cfg,
		link: link,
		gate: quiesce.NewClosed(),
	}, nil
}

// ID returns the tap's unique identifier
func (t *Tap) ID() string { return t.id }

// State returns the current lifecycle state
func (t *Tap) State() State { return State(t.state.Load()) }

// Prepare allocates rings and converters for every direction the device
// exposes. A vanished device fails with ErrInvalidDevice and leaves the tap
// unchanged. Preparing again replaces the previous buffers.
func (t *Tap) Prepare(maxFrames int, format audio.Format) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateFinalized {
		return ErrFinalized
	}
	if t.link == nil {
		return ErrInvalidDevice
	}
	dev, ok := t.link.Resolve()
	if !ok {
		return ErrInvalidDevice
	}
	if maxFrames <= 0 {
		return fmt.Errorf("tap: max frames must be positive, got %d", maxFrames)
	}
	if err := format.Validate(); err != nil {
		return fmt.Errorf("tap: %w", &convert.FormatError{Side: "source", Format: format, Err: err})
	}

	ctx := &Context{
		source:    format,
		maxFrames: maxFrames,
		layoutErr: &convert.FormatError{Side: "source", Format: format, Err: errLayout},
	}
	if f, ok := dev.RenderFormat(); ok {
		d, err := newDirection(t.cfg, format, f, maxFrames)
		if err != nil {
			return fmt.Errorf("tap: render: %w", err)
		}
		ctx.render = d
	}
	if f, ok := dev.CaptureFormat(); ok {
		d, err := newDirection(t.cfg, format, f, maxFrames)
		if err != nil {
			return fmt.Errorf("tap: capture: %w", err)
		}
		ctx.capture = d
	}

	t.gate.CloseAndWait()
	t.ctx.Store(ctx)
	t.failure.Store(nil)
	t.state.Store(int32(StatePrepared))
	t.gate.Open()

	log.WithFields(log.Fields{
		"tap":        t.id,
		"max_frames": maxFrames,
		"format":     format.String(),
	}).Info("Tap prepared")
	if ctx.render != nil {
		log.Debugf("Tap %s render: %s, ring %d bytes", t.id, ctx.render.format, ctx.render.ring.Cap())
	}
	if ctx.capture != nil {
		log.Debugf("Tap %s capture: %s, ring %d bytes", t.id, ctx.capture.format, ctx.capture.ring.Cap())
	}
	return nil
}

// Process feeds frames of in through the converters into the device rings
// and fills out for the host. It never blocks, logs or allocates. Before
// Prepare or after Unprepare out is silenced and the result is Silent.
// frames must not exceed the maxFrames given to Prepare; the excess is
// dropped and counted in Stats.TruncatedFrames.
func (t *Tap) Process(frames int, in, out audio.BufferList) Result {
	t.processCalls.Add(1)
	if !t.gate.Enter() {
		return t.silent(out, frames)
	}
	defer t.gate.Exit()

	c := t.ctx.Load()
	if c == nil {
		return t.silent(out, frames)
	}
	t.state.CompareAndSwap(int32(StatePrepared), int32(StateRunning))

	if frames > c.maxFrames {
		t.truncated.Add(uint64(frames - c.maxFrames))
		frames = c.maxFrames
	}
	frames = max(0, frames)
	if !in.Fits(c.source, frames) {
		t.fail(c, c.layoutErr)
		return t.silent(out, frames)
	}

	if c.render != nil && t.renderOn.Load() {
		if err := c.render.push(in, frames); err != nil {
			t.fail(c, err)
		}
	}
	if c.capture != nil && t.captureOn.Load() {
		if err := c.capture.push(in, frames); err != nil {
			t.fail(c, err)
		}
	}

	if t.cfg.HostOutput == HostOutputPassthrough && out.Fits(c.source, frames) {
		n := frames * c.source.BytesPerFrame()
		for i := range out {
			copy(out[i][:n], in[i][:n])
		}
	} else {
		for _, b := range out {
			clear(b)
		}
	}
	return Result{Frames: frames}
}

func (t *Tap) silent(out audio.BufferList, frames int) Result {
	for _, b := range out {
		clear(b)
	}
	t.silentCalls.Add(1)
	return Result{Frames: frames, Silent: true}
}

// fail records a conversion failure; only the first one is kept. The
// context's failure slot is written once before it is published.
func (t *Tap) fail(c *Context, err error) {
	t.convertErrors.Add(1)
	if t.failure.Load() == nil {
		c.failure = err
		t.failure.CompareAndSwap(nil, &c.failure)
	}
}

// Err returns the first conversion failure since the last Prepare. Callers
// recover by preparing again with corrected formats.
func (t *Tap) Err() error {
	if p := t.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Attach tells the tap which device directions are being consumed. Only
// attached directions are fed, and their stale contents are flushed by the
// consumer on its next read.
func (t *Tap) Attach(render, capture bool) {
	if c := t.ctx.Load(); c != nil {
		if c.render != nil && render && !t.renderOn.Load() {
			c.render.markStale()
		}
		if c.capture != nil && capture && !t.captureOn.Load() {
			c.capture.markStale()
		}
	}
	t.renderOn.Store(render)
	t.captureOn.Store(capture)
}

// Detach stops feeding both directions
func (t *Tap) Detach() {
	t.Attach(false, false)
}

// ReadRender copies converted audio for the device render callback. It
// returns the bytes copied; the caller substitutes silence for the rest.
func (t *Tap) ReadRender(p []byte) int {
	if !t.gate.Enter() {
		return 0
	}
	defer t.gate.Exit()
	c := t.ctx.Load()
	if c == nil || c.render == nil {
		return 0
	}
	return c.render.drain(p)
}

// ReadCapture copies converted audio for the device capture mix
func (t *Tap) ReadCapture(p []byte) int {
	if !t.gate.Enter() {
		return 0
	}
	defer t.gate.Exit()
	c := t.ctx.Load()
	if c == nil || c.capture == nil {
		return 0
	}
	return c.capture.drain(p)
}

// Unprepare quiesces Process and the device reads, then releases the
// buffers. Calling it again, or before Prepare, has no effect.
func (t *Tap) Unprepare() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StatePrepared, StateRunning:
	default:
		return
	}

	t.gate.CloseAndWait()
	t.ctx.Store(nil)
	t.state.Store(int32(StateUnprepared))
	log.Printf("Tap %s unprepared", t.id)
}

// Finalize releases everything and drops the device link. It is safe from
// any state and idempotent.
func (t *Tap) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateFinalized {
		return
	}
	t.gate.CloseAndWait()
	t.ctx.Store(nil)
	t.link = nil
	t.renderOn.Store(false)
	t.captureOn.Store(false)
	t.state.Store(int32(StateFinalized))
	log.Printf("Tap %s finalized", t.id)
}

// Stats returns counters and ring levels
func (t *Tap) Stats() Stats {
	s := Stats{
		ID:              t.id,
		State:           t.State(),
		ProcessCalls:    t.processCalls.Load(),
		SilentCalls:     t.silentCalls.Load(),
		ConvertErrors:   t.convertErrors.Load(),
		TruncatedFrames: t.truncated.Load(),
	}
	if c := t.ctx.Load(); c != nil {
		s.Source = c.source
		s.Render = c.render.stats()
		s.Capture = c.capture.stats()
	}
	return s
}
