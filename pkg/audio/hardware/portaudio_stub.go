//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Rejects every configuration so Start reports a hardware failure
package hardware

import (
	"fmt"
)

var errPortAudioDisabled = fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", ErrUnsupported)

// PortAudio backend (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio backend
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Name returns "portaudio"
func (p *PortAudio) Name() string { return "portaudio" }

// Supports always fails
func (p *PortAudio) Supports(cfg Config) error {
	return errPortAudioDisabled
}

// Open always fails
func (p *PortAudio) Open(cfg Config, cb Callbacks) error {
	return errPortAudioDisabled
}

// Close is a no-op
func (p *PortAudio) Close() error {
	return nil
}
