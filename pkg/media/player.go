// ABOUTME: Host media loop that drives a processor through its lifecycle
// ABOUTME: Reads a source in fixed chunks at playback pace and hands each chunk to the processor
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/tap"
)

// Processor is the host-facing side of a processing tap
type Processor interface {
	Prepare(maxFrames int, format audio.Format) error
	Process(frames int, in, out audio.BufferList) tap.Result
	Unprepare()
	Finalize()
}

// DefaultChunk is the playback quantum of the host loop
const DefaultChunk = 20 * time.Millisecond

// PlayerConfig controls chunking and pacing
type PlayerConfig struct {
	// Chunk is the audio duration handed to each Process call
	Chunk time.Duration
	// Unpaced runs chunks back to back instead of in real time
	Unpaced bool
	// Monitor receives the processor's output after each call
	Monitor func(out audio.BufferList, frames int)
}

// Player plays one source through one processor
type Player struct {
	src    Source
	proc   Processor
	cfg    PlayerConfig
	frames int
	in     audio.BufferList
	out    audio.BufferList

	chunks atomic.Uint64
	played atomic.Uint64
	silent atomic.Uint64
}

// NewPlayer allocates chunk buffers for src's format
func NewPlayer(src Source, proc Processor, cfg PlayerConfig) (*Player, error) {
	if src == nil || proc == nil {
		return nil, fmt.Errorf("media: source and processor are required")
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = DefaultChunk
	}
	f := src.Format()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("media: source: %w", err)
	}
	frames := max(1, f.FramesIn(cfg.Chunk))
	return &Player{
		src:    src,
		proc:   proc,
		cfg:    cfg,
		frames: frames,
		in:     audio.NewBufferList(f, frames),
		out:    audio.NewBufferList(f, frames),
	}, nil
}

// ChunkFrames returns the frames per Process call
func (p *Player) ChunkFrames() int { return p.frames }

// Run prepares the processor and plays until the source ends or ctx is
// cancelled. The processor is unprepared on return.
func (p *Player) Run(ctx context.Context) error {
	f := p.src.Format()
	if err := p.proc.Prepare(p.frames, f); err != nil {
		return fmt.Errorf("media: prepare: %w", err)
	}
	defer p.proc.Unprepare()

	title, artist, _ := p.src.Metadata()
	log.Printf("Playing %s - %s (%s, %d frames per chunk)", title, artist, f, p.frames)

	if p.cfg.Unpaced {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if done, err := p.step(); done {
				return err
			}
		}
	}

	ticker := time.NewTicker(p.cfg.Chunk)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("Playback stopped")
			return nil
		case <-ticker.C:
			if done, err := p.step(); done {
				return err
			}
		}
	}
}

// step plays one chunk and reports whether playback is over
func (p *Player) step() (bool, error) {
	n, err := p.src.Read(p.in, p.frames)
	if n > 0 {
		res := p.proc.Process(n, p.in, p.out)
		p.chunks.Add(1)
		p.played.Add(uint64(n))
		if res.Silent {
			p.silent.Add(1)
		}
		if p.cfg.Monitor != nil {
			p.cfg.Monitor(p.out, n)
		}
	}
	if errors.Is(err, io.EOF) {
		log.Printf("End of stream after %d frames", p.played.Load())
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("media: read: %w", err)
	}
	return false, nil
}

// Close finalizes the processor and closes the source
func (p *Player) Close() error {
	p.proc.Finalize()
	return p.src.Close()
}

// PlayerStats counts what has been played
type PlayerStats struct {
	Chunks       uint64
	Frames       uint64
	SilentChunks uint64
}

func (p *Player) Stats() PlayerStats {
	return PlayerStats{
		Chunks:       p.chunks.Load(),
		Frames:       p.played.Load(),
		SilentChunks: p.silent.Load(),
	}
}
