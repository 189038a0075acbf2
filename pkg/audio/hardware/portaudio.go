//go:build portaudio

// ABOUTME: PortAudio duplex backend
// ABOUTME: Cross-platform float32 render and capture using PortAudio
package hardware

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
	log "github.com/sirupsen/logrus"
)

// PortAudio backend
type PortAudio struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	cb      Callbacks
	outBuf  []byte
	inBuf   []byte
	outCh   int
	inCh    int
	started bool
}

// NewPortAudio creates a new PortAudio backend
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Name returns "portaudio"
func (p *PortAudio) Name() string { return "portaudio" }

// Supports accepts float32 interleaved formats at one sample rate
func (p *PortAudio) Supports(cfg Config) error {
	if err := checkCommon(p.Name(), cfg); err != nil {
		return err
	}
	if !cfg.Render.Float {
		return unsupported(p.Name(), "render must be float32, got %s", cfg.Render)
	}
	if cfg.HasCapture() {
		if !cfg.Capture.Float {
			return unsupported(p.Name(), "capture must be float32, got %s", cfg.Capture)
		}
		if cfg.Capture.SampleRate != cfg.Render.SampleRate {
			return unsupported(p.Name(), "capture rate %g differs from render rate %g",
				cfg.Capture.SampleRate, cfg.Render.SampleRate)
		}
	}
	return nil
}

// Open initializes PortAudio and starts a default stream
func (p *PortAudio) Open(cfg Config, cb Callbacks) error {
	if err := p.Supports(cfg); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return fmt.Errorf("portaudio: stream already open")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	period := periodFrames(cfg)
	p.cb = cb
	p.outCh = cfg.Render.Channels
	p.outBuf = make([]byte, period*cfg.Render.BytesPerFrame())
	if cfg.HasCapture() {
		p.inCh = cfg.Capture.Channels
		p.inBuf = make([]byte, period*cfg.Capture.BytesPerFrame())
	}

	stream, err := portaudio.OpenDefaultStream(p.inCh, p.outCh, cfg.Render.SampleRate, period, p.process)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	p.stream = stream
	log.Printf("Audio device started: render %s, capture %v (portaudio)", cfg.Render, cfg.HasCapture())
	return nil
}

// process is the PortAudio stream callback
func (p *PortAudio) process(in, out []float32) {
	if len(in) > 0 && p.cb.Capture != nil {
		b := p.inBuf[:len(in)*4]
		for i, v := range in {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
		}
		p.cb.Capture(b, len(in)/p.inCh)
	}

	if len(out) == 0 {
		return
	}
	b := p.outBuf[:len(out)*4]
	if p.cb.Render != nil {
		p.cb.Render(b, len(out)/p.outCh)
	} else {
		clear(b)
	}
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

// Close stops the stream and terminates PortAudio
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	if err := p.stream.Stop(); err != nil {
		log.Printf("Warning: portaudio stop error: %v", err)
	}
	if err := p.stream.Close(); err != nil {
		log.Printf("Warning: portaudio close error: %v", err)
	}
	p.stream = nil
	return portaudio.Terminate()
}
