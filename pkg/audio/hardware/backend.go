// ABOUTME: Hardware backend interface for callback-driven render and capture
// ABOUTME: Backends pull output and push input through real-time callbacks
package hardware

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// ErrUnsupported is returned when a backend cannot run the requested formats
var ErrUnsupported = errors.New("hardware: unsupported configuration")

// DefaultPeriodFrames is the callback period requested from backends
const DefaultPeriodFrames = 480

// Config is the negotiated hardware setup. A zero Capture format means the
// device only renders.
type Config struct {
	Render       audio.Format
	Capture      audio.Format
	PeriodFrames int
}

// HasCapture reports whether a capture path was requested
func (c Config) HasCapture() bool {
	return c.Capture.Channels > 0
}

// Callbacks are invoked on the backend's real-time thread. They must not
// block, log or allocate. Render fills out with frames frames in the render
// format; Capture receives frames frames in the capture format.
type Callbacks struct {
	Render  func(out []byte, frames int)
	Capture func(in []byte, frames int)
}

// Backend drives a hardware device
type Backend interface {
	// Name identifies the backend in logs and config
	Name() string
	// Supports reports why the backend cannot run cfg, or nil
	Supports(cfg Config) error
	// Open starts the device; callbacks begin firing before it returns
	Open(cfg Config, cb Callbacks) error
	// Close stops the device; no callback runs after it returns
	Close() error
}

// New creates a backend by name
func New(name string) (Backend, error) {
	switch name {
	case "malgo":
		return NewMalgo(), nil
	case "oto":
		return NewOto(), nil
	case "portaudio":
		return NewPortAudio(), nil
	case "virtual", "":
		return NewVirtual(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q (supported: malgo, oto, portaudio, virtual)", name)
	}
}

func unsupported(backend string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrUnsupported, backend, fmt.Sprintf(format, args...))
}

func checkCommon(backend string, cfg Config) error {
	if err := cfg.Render.Validate(); err != nil {
		return unsupported(backend, "render: %v", err)
	}
	if !cfg.Render.Interleaved {
		return unsupported(backend, "render format must be interleaved")
	}
	if cfg.HasCapture() {
		if err := cfg.Capture.Validate(); err != nil {
			return unsupported(backend, "capture: %v", err)
		}
		if !cfg.Capture.Interleaved {
			return unsupported(backend, "capture format must be interleaved")
		}
	}
	return nil
}

func periodFrames(cfg Config) int {
	if cfg.PeriodFrames > 0 {
		return cfg.PeriodFrames
	}
	return DefaultPeriodFrames
}
