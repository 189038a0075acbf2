// ABOUTME: Per-tap conversion state: one ring and converter per device direction
// ABOUTME: Built by Prepare and dropped by Unprepare; never shared between taps
package tap

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/convert"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/ringbuf"
)

// Context holds everything Process touches. It is built whole by Prepare
// and swapped in atomically, so the real-time path never sees a partial one.
type Context struct {
	source    audio.Format
	maxFrames int
	render    *direction // nil when the device has no render path
	capture   *direction // nil when the device has no capture path
	layoutErr error      // preallocated so Process never builds an error
	failure   error      // first Process failure, published through Tap.failure
}

// Source returns the processing format negotiated with the host
func (c *Context) Source() audio.Format { return c.source }

// MaxFrames returns the largest frame count Process accepts
func (c *Context) MaxFrames() int { return c.maxFrames }

// direction converts processing-format audio into one device-format ring.
// Process is the only producer; one device callback is the only consumer.
type direction struct {
	format   audio.Format
	bpf      int
	conv     *convert.Converter
	ring     *ringbuf.Buffer
	scratch  audio.BufferList
	frames   int // scratch capacity in frames
	maxWrite int // largest single producer write in bytes

	// bytes committed before flushMark are stale once flushPending is set
	flushMark    atomic.Uint64
	flushPending atomic.Bool
}

func newDirection(cfg Config, source, target audio.Format, maxFrames int) (*direction, error) {
	if err := target.Validate(); err != nil {
		return nil, &convert.FormatError{Side: "target", Format: target, Err: err}
	}
	if !target.Interleaved {
		return nil, &convert.FormatError{Side: "target", Format: target, Err: fmt.Errorf("device formats must be interleaved")}
	}

	conv, err := convert.New(convert.Config{
		Source:  source,
		Target:  target,
		Quantum: cfg.Quantum,
		Quality: cfg.Quality,
	})
	if err != nil {
		return nil, err
	}

	frames := conv.MaxOutputFrames(maxFrames)
	bpf := target.BytesPerFrame()
	maxWrite := frames * bpf
	size := max(target.FramesIn(time.Duration(cfg.RingBufferMs)*time.Millisecond)*bpf, 2*maxWrite)

	ring, err := ringbuf.New(size)
	if err != nil {
		return nil, fmt.Errorf("tap: %w", err)
	}

	return &direction{
		format:   target,
		bpf:      bpf,
		conv:     conv,
		ring:     ring,
		scratch:  audio.NewBufferList(target, frames),
		frames:   frames,
		maxWrite: maxWrite,
	}, nil
}

// push converts frames of in and appends them to the ring. Producer side.
func (d *direction) push(in audio.BufferList, frames int) error {
	res, err := d.conv.Convert(in, frames, d.scratch, d.frames)
	if err != nil {
		return err
	}
	if res.Produced > 0 {
		d.ring.Write(d.scratch[0][:res.Produced*d.bpf])
	}
	return nil
}

// markStale asks the consumer to drop everything written so far
func (d *direction) markStale() {
	d.flushMark.Store(d.ring.Written())
	d.flushPending.Store(true)
}

// drain fills p from the ring and then trims the oldest bytes so the next
// producer write always fits. Consumer side.
func (d *direction) drain(p []byte) int {
	if d.flushPending.Swap(false) {
		d.ring.Discard(d.flushMark.Load())
	}
	p = p[:len(p)/d.bpf*d.bpf]
	n := d.ring.Read(p)
	if n < len(p) {
		d.ring.NoteUnderrun(len(p) - n)
	}
	d.ring.Trim(d.maxWrite, d.bpf)
	return n
}

// DirectionStats describes one ring and its converter
type DirectionStats struct {
	Format   audio.Format
	Fill     int // bytes waiting for the device
	Capacity int
	ringbuf.Stats
	DroppedFrames uint64 // source frames the converter could not keep
	Primed        bool
}

func (d *direction) stats() *DirectionStats {
	if d == nil {
		return nil
	}
	return &DirectionStats{
		Format:        d.format,
		Fill:          d.ring.Available(),
		Capacity:      d.ring.Cap(),
		Stats:         d.ring.Stats(),
		DroppedFrames: d.conv.Dropped(),
		Primed:        d.conv.Primed(),
	}
}
