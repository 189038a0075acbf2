// ABOUTME: Real-time render and capture callbacks plus the transmission pump
// ABOUTME: Callbacks never block, log or allocate; the pump drains the outbound ring off the audio thread
package device

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// Render fills out with frames frames of room audio mixed with the bound
// tap's audio. Missing data becomes silence.
func (d *Device) Render(out []byte, frames int) {
	d.renderCalls.Add(1)
	f := d.cfg.Render
	bpf := f.BytesPerFrame()
	total := min(frames*bpf, len(out)/bpf*bpf)
	out = out[:total]
	chunk := d.cfg.MaxPeriodFrames * bpf
	gain := audio.VolumeMultiplier(int(d.volume.Load()), d.muted.Load())

	for off := 0; off < total; off += chunk {
		seg := out[off:min(off+chunk, total)]

		got := 0
		if d.cfg.Room != nil {
			got = d.cfg.Room.ReadRoom(seg)
		}
		clear(seg[got:])

		b := d.binding.Load()
		if b == nil || !b.gate.Enter() {
			continue
		}
		n := b.tap.ReadRender(d.tapRender[:len(seg)])
		b.gate.Exit()
		if n > 0 {
			audio.Mix(seg[:n], d.tapRender[:n], f, gain)
		}
	}
}

// Capture mixes frames frames of microphone input with the bound tap's
// capture audio and queues the result for transmission. The oldest queued
// audio is dropped when the pump falls behind.
func (d *Device) Capture(in []byte, frames int) {
	if d.outbound == nil {
		return
	}
	d.captureCalls.Add(1)
	f := d.cfg.Capture
	bpf := f.BytesPerFrame()
	total := min(frames*bpf, len(in)/bpf*bpf)
	chunk := d.cfg.MaxPeriodFrames * bpf

	for off := 0; off < total; off += chunk {
		seg := in[off:min(off+chunk, total)]
		mix := d.mix[:len(seg)]
		copy(mix, seg)

		if b := d.binding.Load(); b != nil && b.gate.Enter() {
			n := b.tap.ReadCapture(d.tapCapture[:len(seg)])
			b.gate.Exit()
			if n > 0 {
				audio.Mix(mix[:n], d.tapCapture[:n], f, 1)
			}
		}
		d.outbound.Write(mix)
	}
}

// pump moves captured audio to the sink every transmit interval
func (d *Device) pump(ctx context.Context) {
	defer close(d.pumpDone)

	ticker := time.NewTicker(d.cfg.TransmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.drainOutbound()
		case <-ctx.Done():
			d.drainOutbound()
			return
		}
	}
}

func (d *Device) drainOutbound() {
	f := d.cfg.Capture
	bpf := f.BytesPerFrame()
	n := d.outbound.Read(d.pumpBuf[:len(d.pumpBuf)/bpf*bpf])
	// keep room for one full capture chunk
	d.outbound.Trim(d.cfg.MaxPeriodFrames*bpf, bpf)
	if n == 0 {
		return
	}

	if d.cfg.Sink == nil {
		return
	}
	if err := d.cfg.Sink.Deliver(d.pumpBuf[:n], f); err != nil {
		if d.deliverErrors.Add(1) == 1 {
			log.Printf("Device %s: transmission failed: %v", d.id, err)
		} else {
			log.Debugf("Device %s: transmission failed: %v", d.id, err)
		}
		return
	}
	d.delivered.Add(uint64(n))
}
