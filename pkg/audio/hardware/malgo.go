// ABOUTME: Malgo-based duplex backend with 16/24/32-bit and float support
// ABOUTME: Uses miniaudio via malgo; one data callback serves render and capture
package hardware

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// Malgo backend using malgo/miniaudio
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	cfg      Config
	cb       Callbacks
}

// NewMalgo creates a new Malgo backend
func NewMalgo() *Malgo {
	return &Malgo{}
}

// Name returns "malgo"
func (m *Malgo) Name() string { return "malgo" }

// Supports checks the formats miniaudio can run in one duplex device
func (m *Malgo) Supports(cfg Config) error {
	if err := checkCommon(m.Name(), cfg); err != nil {
		return err
	}
	if _, err := malgoFormat(cfg.Render); err != nil {
		return unsupported(m.Name(), "render: %v", err)
	}
	if cfg.HasCapture() {
		if _, err := malgoFormat(cfg.Capture); err != nil {
			return unsupported(m.Name(), "capture: %v", err)
		}
		// a duplex device runs at one sample rate
		if cfg.Capture.SampleRate != cfg.Render.SampleRate {
			return unsupported(m.Name(), "capture rate %g differs from render rate %g",
				cfg.Capture.SampleRate, cfg.Render.SampleRate)
		}
	}
	return nil
}

// Open initializes and starts the device
func (m *Malgo) Open(cfg Config, cb Callbacks) error {
	if err := m.Supports(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("malgo: device already open")
	}

	// Create malgo context if needed
	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	kind := malgo.Playback
	if cfg.HasCapture() {
		kind = malgo.Duplex
	}

	renderFormat, _ := malgoFormat(cfg.Render)
	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.Playback.Format = renderFormat
	deviceConfig.Playback.Channels = uint32(cfg.Render.Channels)
	deviceConfig.SampleRate = uint32(cfg.Render.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(periodFrames(cfg))
	deviceConfig.Alsa.NoMMap = 1
	if cfg.HasCapture() {
		captureFormat, _ := malgoFormat(cfg.Capture)
		deviceConfig.Capture.Format = captureFormat
		deviceConfig.Capture.Channels = uint32(cfg.Capture.Channels)
	}

	m.cfg = cfg
	m.cb = cb

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: m.dataCallback,
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize %s device: %w", kindName(kind), err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}
	m.device = device

	log.Printf("Audio device started: render %s, capture %v (malgo/%s)",
		cfg.Render, cfg.HasCapture(), formatName(renderFormat))
	return nil
}

// dataCallback is called by malgo on its audio thread
func (m *Malgo) dataCallback(pOutput, pInput []byte, frameCount uint32) {
	frames := int(frameCount)
	if pInput != nil && m.cb.Capture != nil {
		m.cb.Capture(pInput, frames)
	}
	if pOutput != nil {
		if m.cb.Render != nil {
			m.cb.Render(pOutput, frames)
		} else {
			clear(pOutput)
		}
	}
}

// Close stops the device and releases the context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			log.Printf("Warning: device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

func malgoFormat(f audio.Format) (malgo.FormatType, error) {
	if f.Float {
		return malgo.FormatF32, nil
	}
	switch f.BitDepth {
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", f.BitDepth)
	}
}

func kindName(kind malgo.DeviceType) string {
	if kind == malgo.Duplex {
		return "duplex"
	}
	return "playback"
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	case malgo.FormatF32:
		return "F32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
