// ABOUTME: Lock-free single-producer/single-consumer byte ring buffer
// ABOUTME: Decouples the tap's media thread from the hardware render and capture threads
package ringbuf

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrTooLarge is returned when a write region larger than the capacity is requested
var ErrTooLarge = errors.New("ringbuf: request exceeds capacity")

// Stats counts real-time conditions that are never reported synchronously
type Stats struct {
	Overruns  uint64 // bytes the producer could not store
	Underruns uint64 // bytes the consumer wanted but were not there
	Trimmed   uint64 // oldest bytes the consumer discarded to make room
}

// Buffer is a fixed-capacity circular byte queue. Exactly one goroutine may
// call the producer methods (Reserve, Commit, Write, Free) and exactly one
// goroutine may call the consumer methods (Available, Peek, Copy, Consume,
// Read, Trim). No method blocks or allocates.
type Buffer struct {
	data []byte
	size uint64

	_     [56]byte
	write atomic.Uint64 // producer owned
	_     [56]byte
	read  atomic.Uint64 // consumer owned
	_     [56]byte

	overruns  atomic.Uint64
	underruns atomic.Uint64
	trimmed   atomic.Uint64
}

// New creates a ring buffer holding capacity bytes
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuf: capacity must be positive, got %d", capacity)
	}
	return &Buffer{
		data: make([]byte, capacity),
		size: uint64(capacity),
	}, nil
}

// Cap returns the fixed capacity in bytes
func (b *Buffer) Cap() int {
	return int(b.size)
}

// Free returns the number of bytes the producer can still write
func (b *Buffer) Free() int {
	return int(b.size - (b.write.Load() - b.read.Load()))
}

// Reserve returns the largest contiguous writable region of at most max
// bytes. The region is empty when the buffer is full; it is shorter than max
// when the free space wraps. Requests above Cap fail with ErrTooLarge.
func (b *Buffer) Reserve(max int) ([]byte, error) {
	if max < 0 || uint64(max) > b.size {
		return nil, ErrTooLarge
	}
	w := b.write.Load()
	free := b.size - (w - b.read.Load())
	off := w % b.size
	n := min(free, b.size-off, uint64(max))
	return b.data[off : off+n : off+n], nil
}

// Commit publishes n bytes written into the last reserved region
func (b *Buffer) Commit(n int) {
	if n <= 0 {
		return
	}
	w := b.write.Load()
	free := b.size - (w - b.read.Load())
	if uint64(n) > free {
		n = int(free)
	}
	b.write.Store(w + uint64(n))
}

// Write copies as much of p as fits and returns the byte count stored.
// Bytes that do not fit are counted as overrun.
func (b *Buffer) Write(p []byte) int {
	written := 0
	for written < len(p) {
		region, _ := b.Reserve(min(len(p)-written, int(b.size)))
		if len(region) == 0 {
			break
		}
		n := copy(region, p[written:])
		b.Commit(n)
		written += n
	}
	if written < len(p) {
		b.overruns.Add(uint64(len(p) - written))
	}
	return written
}

// Available returns the number of bytes ready for the consumer
func (b *Buffer) Available() int {
	return int(b.write.Load() - b.read.Load())
}

// Peek returns the readable bytes as up to two regions; the second is
// non-empty only when the data wraps. The regions stay valid until Consume.
func (b *Buffer) Peek() (first, second []byte) {
	r := b.read.Load()
	avail := b.write.Load() - r
	if avail == 0 {
		return nil, nil
	}
	off := r % b.size
	if off+avail <= b.size {
		return b.data[off : off+avail], nil
	}
	return b.data[off:], b.data[:avail-(b.size-off)]
}

// Copy copies readable bytes into p without consuming them
func (b *Buffer) Copy(p []byte) int {
	first, second := b.Peek()
	n := copy(p, first)
	n += copy(p[n:], second)
	return n
}

// Consume releases up to n readable bytes back to the producer and returns
// the count released
func (b *Buffer) Consume(n int) int {
	if n <= 0 {
		return 0
	}
	r := b.read.Load()
	avail := b.write.Load() - r
	if uint64(n) > avail {
		n = int(avail)
	}
	b.read.Store(r + uint64(n))
	return n
}

// Written returns the total number of bytes ever committed. The value can
// be passed to Discard by the consumer.
func (b *Buffer) Written() uint64 {
	return b.write.Load()
}

// Discard consumes every byte committed before mark
func (b *Buffer) Discard(mark uint64) int {
	r := b.read.Load()
	if mark <= r {
		return 0
	}
	return b.Consume(int(mark - r))
}

// Read copies and consumes up to len(p) bytes
func (b *Buffer) Read(p []byte) int {
	return b.Consume(b.Copy(p))
}

// Trim discards the oldest readable bytes so that at least room bytes are
// free for the producer. align keeps the discarded count a multiple of a
// frame size. It returns the number of bytes discarded.
func (b *Buffer) Trim(room, align int) int {
	if room <= 0 {
		return 0
	}
	if align <= 0 {
		align = 1
	}
	excess := b.Available() + room - int(b.size)
	if excess <= 0 {
		return 0
	}
	excess = (excess + align - 1) / align * align
	n := b.Consume(excess)
	b.trimmed.Add(uint64(n))
	return n
}

// NoteUnderrun records bytes the consumer needed but could not read
func (b *Buffer) NoteUnderrun(n int) {
	if n > 0 {
		b.underruns.Add(uint64(n))
	}
}

// Stats returns the overrun/underrun counters
func (b *Buffer) Stats() Stats {
	return Stats{
		Overruns:  b.overruns.Load(),
		Underruns: b.underruns.Load(),
		Trimmed:   b.trimmed.Load(),
	}
}

// Reset empties the buffer. Only valid while neither side is active.
func (b *Buffer) Reset() {
	b.read.Store(b.write.Load())
}
