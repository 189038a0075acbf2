// ABOUTME: Room receiver turning remote participants' audio into render-format PCM
// ABOUTME: One ring per remote stream, mixed on the render thread without locks or allocation
package transmit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/internal/protocol"
	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/convert"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/ringbuf"
)

// Room defaults
const (
	DefaultRoomBufferMs  = 200
	DefaultMaxReadFrames = 4096
)

// decodeChunk bounds how many decoded frames are converted per step
const decodeChunk = 5760

// RoomConfig describes the local render side of the room
type RoomConfig struct {
	Render        audio.Format
	BufferMs      int
	MaxReadFrames int // largest ReadRoom request, in frames
	Quality       convert.Quality
}

// stream is one remote participant's decoded audio
type stream struct {
	from     string
	slot     byte
	format   protocol.AudioFormat
	dec      decode.Decoder
	conv     *convert.Converter
	out      audio.BufferList
	ring     *ringbuf.Buffer
	maxWrite int
}

// Room decodes relayed chunks and serves them to the device render callback
type Room struct {
	cfg RoomConfig
	bpf int

	mu      sync.Mutex // guards byslot and setup
	byslot  map[byte]*stream
	active  atomic.Pointer[[]*stream]
	scratch []byte // render thread only

	chunks       atomic.Uint64
	decodeErrors atomic.Uint64
	unknownSlots atomic.Uint64
}

// NewRoom creates a receiver that produces audio in cfg.Render
func NewRoom(cfg RoomConfig) (*Room, error) {
	if cfg.BufferMs == 0 {
		cfg.BufferMs = DefaultRoomBufferMs
	}
	if cfg.MaxReadFrames == 0 {
		cfg.MaxReadFrames = DefaultMaxReadFrames
	}
	if err := cfg.Render.Validate(); err != nil {
		return nil, fmt.Errorf("room: %w", err)
	}
	if !cfg.Render.Interleaved {
		return nil, fmt.Errorf("room: %w: render format must be interleaved", audio.ErrInvalidFormat)
	}
	if cfg.BufferMs < 0 || cfg.MaxReadFrames < 0 {
		return nil, fmt.Errorf("room: sizing options must be positive")
	}

	bpf := cfg.Render.BytesPerFrame()
	r := &Room{
		cfg:     cfg,
		bpf:     bpf,
		byslot:  make(map[byte]*stream),
		scratch: make([]byte, cfg.MaxReadFrames*bpf),
	}
	r.active.Store(&[]*stream{})
	return r, nil
}

// StartStream sets up decoding for a participant announced by stream/start.
// A stream already in the slot is replaced.
func (r *Room) StartStream(start protocol.StreamStart) error {
	if start.Slot < 0 || start.Slot > 255 {
		return fmt.Errorf("room: invalid slot %d", start.Slot)
	}
	wire := start.Format.PCM()
	dec, err := decode.New(start.Format.Codec, wire)
	if err != nil {
		return fmt.Errorf("room: %w", err)
	}
	conv, err := convert.New(convert.Config{
		Source:  dec.Format(),
		Target:  r.cfg.Render,
		Quality: r.cfg.Quality,
	})
	if err != nil {
		dec.Close()
		return fmt.Errorf("room: %w", err)
	}

	maxWrite := conv.MaxOutputFrames(decodeChunk) * r.bpf
	size := max(r.cfg.Render.FramesIn(time.Duration(r.cfg.BufferMs)*time.Millisecond)*r.bpf, 2*maxWrite)
	ring, err := ringbuf.New(size)
	if err != nil {
		dec.Close()
		return fmt.Errorf("room: %w", err)
	}

	s := &stream{
		from:     start.From,
		slot:     byte(start.Slot),
		format:   start.Format,
		dec:      dec,
		conv:     conv,
		out:      audio.NewBufferList(r.cfg.Render, conv.MaxOutputFrames(decodeChunk)),
		ring:     ring,
		maxWrite: maxWrite,
	}

	r.mu.Lock()
	if old := r.byslot[s.slot]; old != nil {
		old.dec.Close()
	}
	r.byslot[s.slot] = s
	r.publishLocked()
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"from":  start.From,
		"slot":  start.Slot,
		"codec": start.Format.Codec,
		"wire":  wire.String(),
	}).Info("Room stream started")
	return nil
}

// EndStream drops the participant in slot
func (r *Room) EndStream(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byslot[byte(slot)]
	if s == nil {
		return
	}
	s.dec.Close()
	delete(r.byslot, byte(slot))
	r.publishLocked()
	log.Printf("Room stream from %s ended", s.from)
}

// publishLocked swaps in a fresh list of active streams for the render thread
func (r *Room) publishLocked() {
	list := make([]*stream, 0, len(r.byslot))
	for _, s := range r.byslot {
		list = append(list, s)
	}
	r.active.Store(&list)
}

// Push decodes one relayed chunk into its stream's ring. It runs on the
// single network reader goroutine.
func (r *Room) Push(slot byte, payload []byte) error {
	r.mu.Lock()
	s := r.byslot[slot]
	r.mu.Unlock()
	if s == nil {
		r.unknownSlots.Add(1)
		return fmt.Errorf("room: no stream in slot %d", slot)
	}
	r.chunks.Add(1)

	pcm, err := s.dec.Decode(payload)
	if err != nil {
		r.decodeErrors.Add(1)
		return err
	}

	src := s.dec.Format()
	srcBpf := src.BytesPerFrame()
	frames := len(pcm) / srcBpf
	for off := 0; off < frames; off += decodeChunk {
		n := min(decodeChunk, frames-off)
		in := audio.BufferList{pcm[off*srcBpf : (off+n)*srcBpf]}
		res, err := s.conv.Convert(in, n, s.out, s.conv.MaxOutputFrames(n))
		if err != nil {
			r.decodeErrors.Add(1)
			return err
		}
		s.ring.Write(s.out[0][:res.Produced*r.bpf])
	}
	return nil
}

// ReadRoom mixes every active stream into p and returns the bytes of room
// audio available. It is safe on the render thread.
func (r *Room) ReadRoom(p []byte) int {
	list := *r.active.Load()
	if len(list) == 0 {
		return 0
	}
	limit := min(len(p), len(r.scratch)) / r.bpf * r.bpf
	p = p[:limit]
	clear(p)

	n := 0
	for _, s := range list {
		got := s.ring.Read(r.scratch[:limit])
		if got < limit {
			s.ring.NoteUnderrun(limit - got)
		}
		s.ring.Trim(s.maxWrite, r.bpf)
		audio.Mix(p[:got], r.scratch[:got], r.cfg.Render, 1)
		n = max(n, got)
	}
	return n
}

// StreamStats describes one remote stream
type StreamStats struct {
	From   string
	Slot   int
	Codec  string
	Fill   int
	Primed bool
	ringbuf.Stats
}

// RoomStats is a snapshot of room counters
type RoomStats struct {
	Streams      []StreamStats
	Chunks       uint64
	DecodeErrors uint64
	UnknownSlots uint64
}

func (r *Room) Stats() RoomStats {
	st := RoomStats{
		Chunks:       r.chunks.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		UnknownSlots: r.unknownSlots.Load(),
	}
	for _, s := range *r.active.Load() {
		st.Streams = append(st.Streams, StreamStats{
			From:   s.from,
			Slot:   int(s.slot),
			Codec:  s.format.Codec,
			Fill:   s.ring.Available(),
			Primed: s.conv.Primed(),
			Stats:  s.ring.Stats(),
		})
	}
	return st
}

// Close ends every stream
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot, s := range r.byslot {
		s.dec.Close()
		delete(r.byslot, slot)
	}
	r.publishLocked()
}
