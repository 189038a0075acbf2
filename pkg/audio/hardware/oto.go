// ABOUTME: Oto-based playback-only backend
// ABOUTME: The oto player pulls from a reader that invokes the render callback
package hardware

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// oto allows one context per process, so it is shared by every Oto backend
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
)

// Oto backend using the oto library
type Oto struct {
	mu     sync.Mutex
	player *oto.Player
	pull   *renderReader
}

// NewOto creates a new Oto backend
func NewOto() *Oto {
	return &Oto{}
}

// Name returns "oto"
func (o *Oto) Name() string { return "oto" }

// Supports accepts 16-bit or float32 playback without capture
func (o *Oto) Supports(cfg Config) error {
	if err := checkCommon(o.Name(), cfg); err != nil {
		return err
	}
	if cfg.HasCapture() {
		return unsupported(o.Name(), "capture is not available")
	}
	if _, err := otoSampleFormat(cfg.Render); err != nil {
		return unsupported(o.Name(), "%v", err)
	}

	otoMu.Lock()
	defer otoMu.Unlock()
	// oto doesn't support reinitialization with another format
	if otoCtx != nil && otoFormat != cfg.Render {
		return unsupported(o.Name(), "context already running %s", otoFormat)
	}
	return nil
}

// Open creates (or reuses) the oto context and starts a pulling player
func (o *Oto) Open(cfg Config, cb Callbacks) error {
	if err := o.Supports(cfg); err != nil {
		return err
	}
	ctx, err := sharedOtoContext(cfg)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return fmt.Errorf("oto: player already open")
	}

	o.pull = &renderReader{
		render: cb.Render,
		bpf:    cfg.Render.BytesPerFrame(),
	}
	o.player = ctx.NewPlayer(o.pull)
	o.player.SetBufferSize(periodFrames(cfg) * cfg.Render.BytesPerFrame() * 2)
	o.player.Play()

	log.Printf("Audio output initialized: %s (oto)", cfg.Render)
	return nil
}

// Close stops the player; the shared context stays alive for reuse
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		log.Printf("Warning: oto player close error: %v", err)
	}
	o.player = nil
	o.pull.stop()
	return nil
}

func sharedOtoContext(cfg Config) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		return otoCtx, nil
	}

	sampleFormat, _ := otoSampleFormat(cfg.Render)
	op := &oto.NewContextOptions{
		SampleRate:   int(cfg.Render.SampleRate),
		ChannelCount: cfg.Render.Channels,
		Format:       sampleFormat,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	otoCtx = ctx
	otoFormat = cfg.Render
	return ctx, nil
}

func otoSampleFormat(f audio.Format) (oto.Format, error) {
	switch {
	case f.Float:
		return oto.FormatFloat32LE, nil
	case f.BitDepth == 16:
		return oto.FormatSignedInt16LE, nil
	default:
		return 0, fmt.Errorf("oto plays 16-bit or float32 samples, got %d-bit", f.BitDepth)
	}
}

// renderReader adapts the render callback to the io.Reader oto pulls from
type renderReader struct {
	mu     sync.RWMutex
	render func(out []byte, frames int)
	bpf    int
}

func (r *renderReader) Read(p []byte) (int, error) {
	n := len(p) / r.bpf * r.bpf
	if n == 0 {
		return 0, nil
	}
	r.mu.RLock()
	render := r.render
	r.mu.RUnlock()
	if render == nil {
		clear(p[:n])
		return n, nil
	}
	render(p[:n], n/r.bpf)
	return n, nil
}

// stop detaches the callback; reads after it return silence
func (r *renderReader) stop() {
	r.mu.Lock()
	r.render = nil
	r.mu.Unlock()
}
