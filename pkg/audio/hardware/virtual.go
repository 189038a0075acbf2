// ABOUTME: Virtual backend that runs the callbacks from a ticker
// ABOUTME: Captures a generated test tone and discards or monitors rendered audio
package hardware

import (
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// Virtual runs without hardware. With Manual set no goroutine is started and
// the caller drives periods with Tick.
type Virtual struct {
	// ToneHz is the frequency of the captured test tone; zero captures silence
	ToneHz float64
	// Manual disables the internal ticker
	Manual bool
	// Monitor receives every rendered period; the slice is reused
	Monitor func(out []byte)

	mu          sync.Mutex
	cfg         Config
	cb          Callbacks
	out         []byte
	in          []byte
	sampleIndex uint64
	open        bool
	stopChan    chan struct{}
	done        chan struct{}
}

// NewVirtual creates a virtual backend capturing a 440Hz tone
func NewVirtual() *Virtual {
	return &Virtual{ToneHz: 440.0}
}

// Name returns "virtual"
func (v *Virtual) Name() string { return "virtual" }

// Supports accepts any valid interleaved formats
func (v *Virtual) Supports(cfg Config) error {
	return checkCommon(v.Name(), cfg)
}

// Open allocates period buffers and starts the ticker
func (v *Virtual) Open(cfg Config, cb Callbacks) error {
	if err := v.Supports(cfg); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.open {
		return fmt.Errorf("virtual: already open")
	}

	period := periodFrames(cfg)
	v.cfg = cfg
	v.cb = cb
	v.out = make([]byte, period*cfg.Render.BytesPerFrame())
	if cfg.HasCapture() {
		v.in = make([]byte, period*cfg.Capture.BytesPerFrame())
	}
	v.open = true

	if !v.Manual {
		v.stopChan = make(chan struct{})
		v.done = make(chan struct{})
		go v.run(cfg.Render.Duration(period))
	}

	log.Printf("Virtual audio device started: render %s, capture %v", cfg.Render, cfg.HasCapture())
	return nil
}

func (v *Virtual) run(interval time.Duration) {
	defer close(v.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.Tick()
		case <-v.stopChan:
			return
		}
	}
}

// Tick runs one capture and one render period
func (v *Virtual) Tick() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return
	}

	period := periodFrames(v.cfg)
	if v.in != nil && v.cb.Capture != nil {
		v.generateTone(period)
		v.cb.Capture(v.in, period)
	}
	if v.cb.Render != nil {
		v.cb.Render(v.out, period)
	} else {
		clear(v.out)
	}
	if v.Monitor != nil {
		v.Monitor(v.out)
	}
}

// generateTone fills the capture buffer with a sine at 50% volume
func (v *Virtual) generateTone(frames int) {
	f := v.cfg.Capture
	bps := f.BytesPerSample()
	for i := 0; i < frames; i++ {
		sample := 0.0
		if v.ToneHz > 0 {
			t := float64(v.sampleIndex+uint64(i)) / f.SampleRate
			sample = math.Sin(2*math.Pi*v.ToneHz*t) * 0.5
		}
		for ch := 0; ch < f.Channels; ch++ {
			audio.WriteSample(v.in[(i*f.Channels+ch)*bps:], f, sample)
		}
	}
	v.sampleIndex += uint64(frames)
}

// Close stops the ticker; no callback runs after it returns
func (v *Virtual) Close() error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return nil
	}
	v.open = false
	stop, done := v.stopChan, v.done
	v.stopChan, v.done = nil, nil
	v.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
