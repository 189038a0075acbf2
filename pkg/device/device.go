// ABOUTME: Device adapter binding a processing tap to a hardware backend
// ABOUTME: Mixes room audio with the tap in render and pushes mic plus tap audio outbound
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/internal/quiesce"
	"github.com/Resonate-Protocol/coview-go/internal/slots"
	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/hardware"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/ringbuf"
	"github.com/Resonate-Protocol/coview-go/pkg/tap"
)

var (
	// ErrHardwareStart marks a backend that refused the negotiated formats
	ErrHardwareStart = errors.New("device: hardware start failed")
	// ErrClosed is returned when using a closed device
	ErrClosed = errors.New("device: closed")
)

// StartError reports which backend refused to start
type StartError struct {
	Backend string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("device: %s backend failed to start: %v", e.Backend, e.Err)
}

// Unwrap exposes both ErrHardwareStart and the backend's reason
func (e *StartError) Unwrap() []error {
	return []error{ErrHardwareStart, e.Err}
}

// TransmissionSink receives captured audio drained from the outbound ring.
// samples is reused after Deliver returns.
type TransmissionSink interface {
	Deliver(samples []byte, format audio.Format) error
}

// RoomSource supplies remote participants' audio in the render format. It
// is called on the render thread and must not block.
type RoomSource interface {
	ReadRoom(p []byte) int
}

// Default sizing
const (
	DefaultMaxPeriodFrames  = 4096
	DefaultOutboundMs       = 200
	DefaultTransmitInterval = 20 * time.Millisecond
)

// Config describes the device
type Config struct {
	Render           audio.Format
	Capture          audio.Format // zero value: render only
	Backend          hardware.Backend
	Sink             TransmissionSink
	Room             RoomSource
	PeriodFrames     int // requested hardware period
	MaxPeriodFrames  int // largest chunk the callbacks process at once
	OutboundMs       int
	TransmitInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPeriodFrames == 0 {
		c.MaxPeriodFrames = DefaultMaxPeriodFrames
	}
	if c.OutboundMs == 0 {
		c.OutboundMs = DefaultOutboundMs
	}
	if c.TransmitInterval == 0 {
		c.TransmitInterval = DefaultTransmitInterval
	}
	if c.PeriodFrames == 0 {
		c.PeriodFrames = hardware.DefaultPeriodFrames
	}
	return c
}

// Validate checks formats and sizing
func (c Config) Validate() error {
	if c.Backend == nil {
		return fmt.Errorf("device: backend is required")
	}
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("device: render: %w", err)
	}
	if !c.Render.Interleaved {
		return fmt.Errorf("device: render: %w: must be interleaved", audio.ErrInvalidFormat)
	}
	if c.hasCapture() {
		if err := c.Capture.Validate(); err != nil {
			return fmt.Errorf("device: capture: %w", err)
		}
		if !c.Capture.Interleaved {
			return fmt.Errorf("device: capture: %w: must be interleaved", audio.ErrInvalidFormat)
		}
	}
	if c.MaxPeriodFrames < 0 || c.OutboundMs < 0 || c.TransmitInterval < 0 {
		return fmt.Errorf("device: sizing options must be positive")
	}
	return nil
}

func (c Config) hasCapture() bool {
	return c.Capture.Channels > 0
}

// binding pairs a tap with the gate that guards device access to it
type binding struct {
	tap  *tap.Tap
	gate *quiesce.Gate
}

// devices holds every open device; taps only keep handles into it
var devices = slots.NewTable[*Device]()

// Device adapts one hardware backend. At most one tap is bound at a time.
type Device struct {
	id     string
	cfg    Config
	handle slots.Handle

	binding atomic.Pointer[binding]

	mu       sync.Mutex // serializes Bind, Unbind, Start, Stop, Close
	running  bool
	closed   bool
	cancel   context.CancelFunc
	pumpDone chan struct{}

	volume atomic.Int32
	muted  atomic.Bool

	// render thread scratch
	tapRender []byte
	// capture thread scratch
	mix        []byte
	tapCapture []byte

	outbound *ringbuf.Buffer
	pumpBuf  []byte

	renderCalls   atomic.Uint64
	captureCalls  atomic.Uint64
	delivered     atomic.Uint64
	deliverErrors atomic.Uint64
}

// New validates the config, allocates callback scratch and registers the
// device so taps can reference it
func New(cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		id:        uuid.NewString(),
		cfg:       cfg,
		tapRender: make([]byte, cfg.MaxPeriodFrames*cfg.Render.BytesPerFrame()),
	}
	d.volume.Store(100)

	if cfg.hasCapture() {
		bpf := cfg.Capture.BytesPerFrame()
		period := cfg.MaxPeriodFrames * bpf
		size := max(cfg.Capture.FramesIn(time.Duration(cfg.OutboundMs)*time.Millisecond)*bpf, 2*period)
		ring, err := ringbuf.New(size)
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
		d.outbound = ring
		d.mix = make([]byte, period)
		d.tapCapture = make([]byte, period)
		d.pumpBuf = make([]byte, size)
	}

	d.handle = devices.Insert(d)
	log.WithFields(log.Fields{
		"device":  d.id,
		"backend": cfg.Backend.Name(),
		"render":  cfg.Render.String(),
		"capture": cfg.hasCapture(),
	}).Info("Device created")
	return d, nil
}

// ID returns the device's unique identifier
func (d *Device) ID() string { return d.id }

// RenderFormat returns the hardware output format
func (d *Device) RenderFormat() (audio.Format, bool) {
	return d.cfg.Render, true
}

// CaptureFormat returns the hardware input format when capture is configured
func (d *Device) CaptureFormat() (audio.Format, bool) {
	return d.cfg.Capture, d.cfg.hasCapture()
}

// link is the weak reference handed to taps
type link struct {
	handle slots.Handle
}

func (l link) Resolve() (tap.Device, bool) {
	d, ok := devices.Get(l.handle)
	if !ok {
		return nil, false
	}
	return d, true
}

// Link returns a reference that stops resolving once the device is closed
func (d *Device) Link() tap.DeviceLink {
	return link{handle: d.handle}
}

// CreateProcessingTap initializes a tap linked to this device and binds it
func (d *Device) CreateProcessingTap(cfg tap.Config) (*tap.Tap, error) {
	t, err := tap.New(d.Link(), cfg)
	if err != nil {
		return nil, err
	}
	if err := d.Bind(t); err != nil {
		t.Finalize()
		return nil, err
	}
	return t, nil
}

// Bind makes t the device's tap. A previously bound tap is quiesced after
// the swap: once Bind returns no callback touches it, and callbacks for t
// never wait on its teardown.
func (d *Device) Bind(t *tap.Tap) error {
	if t == nil {
		return fmt.Errorf("device: cannot bind a nil tap")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	nb := &binding{tap: t, gate: quiesce.NewClosed()}
	nb.gate.Open()
	if d.running {
		t.Attach(true, d.cfg.hasCapture())
	}

	old := d.binding.Swap(nb)
	if old != nil {
		old.gate.CloseAndWait()
		if old.tap != t {
			old.tap.Detach()
		}
		log.Printf("Device %s: tap %s replaced by %s", d.id, old.tap.ID(), t.ID())
	} else {
		log.Printf("Device %s: tap %s bound", d.id, t.ID())
	}
	return nil
}

// Unbind detaches the current tap, waiting for in-flight callbacks
func (d *Device) Unbind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unbindLocked()
}

func (d *Device) unbindLocked() {
	old := d.binding.Swap(nil)
	if old == nil {
		return
	}
	old.gate.CloseAndWait()
	old.tap.Detach()
	log.Printf("Device %s: tap %s unbound", d.id, old.tap.ID())
}

// Bound returns the currently bound tap, if any
func (d *Device) Bound() *tap.Tap {
	if b := d.binding.Load(); b != nil {
		return b.tap
	}
	return nil
}

// Start opens the hardware and begins the transmission pump. It fails with
// *StartError when the backend rejects the negotiated formats. Starting a
// running device is a no-op.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.running {
		return nil
	}

	hw := d.hardwareConfig()
	backend := d.cfg.Backend
	if err := backend.Supports(hw); err != nil {
		return &StartError{Backend: backend.Name(), Err: err}
	}

	if b := d.binding.Load(); b != nil {
		b.tap.Attach(true, d.cfg.hasCapture())
	}

	cb := hardware.Callbacks{Render: d.Render}
	if d.cfg.hasCapture() {
		cb.Capture = d.Capture
	}
	if err := backend.Open(hw, cb); err != nil {
		if b := d.binding.Load(); b != nil {
			b.tap.Detach()
		}
		return &StartError{Backend: backend.Name(), Err: err}
	}

	if d.outbound != nil {
		pumpCtx, cancel := context.WithCancel(ctx)
		d.cancel = cancel
		d.pumpDone = make(chan struct{})
		go d.pump(pumpCtx)
	}

	d.running = true
	log.Printf("Device %s started (%s)", d.id, backend.Name())
	return nil
}

// Stop halts the hardware and the pump. It is idempotent and always
// succeeds; backend close errors are logged.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	return nil
}

func (d *Device) stopLocked() {
	if !d.running {
		return
	}
	if err := d.cfg.Backend.Close(); err != nil {
		log.Printf("Warning: device %s backend close error: %v", d.id, err)
	}
	if d.cancel != nil {
		d.cancel()
		<-d.pumpDone
		d.cancel = nil
	}
	if b := d.binding.Load(); b != nil {
		b.tap.Detach()
	}
	d.running = false
	log.Printf("Device %s stopped", d.id)
}

// Running reports whether the hardware is started
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Close stops the device, unbinds its tap and invalidates every link to it
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.stopLocked()
	d.unbindLocked()
	devices.Release(d.handle)
	d.closed = true
	log.Printf("Device %s closed", d.id)
	return nil
}

func (d *Device) hardwareConfig() hardware.Config {
	hw := hardware.Config{
		Render:       d.cfg.Render,
		PeriodFrames: d.cfg.PeriodFrames,
	}
	if d.cfg.hasCapture() {
		hw.Capture = d.cfg.Capture
	}
	return hw
}

// SetVolume sets the tap's playback volume (0-100)
func (d *Device) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	d.volume.Store(int32(volume))
	log.Printf("Volume set to %d", volume)
}

// SetMuted mutes the tap's audio; room audio keeps playing
func (d *Device) SetMuted(muted bool) {
	d.muted.Store(muted)
	log.Printf("Muted: %v", muted)
}

// Volume returns the current volume
func (d *Device) Volume() int { return int(d.volume.Load()) }

// Muted returns the mute state
func (d *Device) Muted() bool { return d.muted.Load() }

// Stats is a snapshot of device counters
type Stats struct {
	ID            string
	Backend       string
	Running       bool
	Tap           string
	Volume        int
	Muted         bool
	RenderCalls   uint64
	CaptureCalls  uint64
	Outbound      *ringbuf.Stats
	OutboundFill  int
	Delivered     uint64 // bytes handed to the sink
	DeliverErrors uint64
}

// Stats returns the current counters
func (d *Device) Stats() Stats {
	s := Stats{
		ID:            d.id,
		Backend:       d.cfg.Backend.Name(),
		Running:       d.Running(),
		Volume:        d.Volume(),
		Muted:         d.Muted(),
		RenderCalls:   d.renderCalls.Load(),
		CaptureCalls:  d.captureCalls.Load(),
		Delivered:     d.delivered.Load(),
		DeliverErrors: d.deliverErrors.Load(),
	}
	if t := d.Bound(); t != nil {
		s.Tap = t.ID()
	}
	if d.outbound != nil {
		rs := d.outbound.Stats()
		s.Outbound = &rs
		s.OutboundFill = d.outbound.Available()
	}
	return s
}
