// ABOUTME: Stateful sample format, channel and sample rate converter
// ABOUTME: Feeds a block resampler in fixed quanta and caches leftover input between calls
package convert

import (
	"fmt"
	"sync/atomic"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// DefaultQuantum is the conversion granularity in frames
const DefaultQuantum = 256

// Quality selects the block resampler
type Quality int

const (
	// QualityRealtime uses the allocation-free cubic interpolator
	QualityRealtime Quality = iota
	// QualityHigh uses a polyphase FIR resampler; it allocates per block
	QualityHigh
)

func (q Quality) String() string {
	switch q {
	case QualityRealtime:
		return "realtime"
	case QualityHigh:
		return "high"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// ParseQuality maps a config string to a Quality
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "", "realtime":
		return QualityRealtime, nil
	case "high":
		return QualityHigh, nil
	default:
		return 0, fmt.Errorf("unknown conversion quality %q (supported: realtime, high)", s)
	}
}

// Config describes one conversion pair
type Config struct {
	Source  audio.Format
	Target  audio.Format
	Quantum int // frames per block, DefaultQuantum when zero
	Quality Quality
}

// Result reports what one Convert call did
type Result struct {
	Produced int  // frames written to the destination
	Residual int  // source frames cached for the next call
	Primed   bool // false only for the first successful call after New or Reset
}

// Converter converts between a fixed source and target format. It is not
// safe for concurrent use; Stats and Primed may be read from any goroutine.
type Converter struct {
	cfg     Config
	outCh   int
	quantum int
	rs      block // nil when the rates match

	cache  []float64 // residual input, already remixed to the target channel count
	cached int
	block  []float64
	out    []float64

	err     error
	primed  atomic.Bool
	dropped atomic.Uint64
}

// New validates the pair and allocates all conversion state
func New(cfg Config) (*Converter, error) {
	if cfg.Quantum == 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.Quantum < 0 {
		return nil, fmt.Errorf("convert: invalid quantum %d", cfg.Quantum)
	}
	if err := cfg.Source.Validate(); err != nil {
		return nil, formatError("source", cfg.Source, err)
	}
	if err := cfg.Target.Validate(); err != nil {
		return nil, formatError("target", cfg.Target, err)
	}
	if err := checkRemix(cfg.Source.Channels, cfg.Target.Channels); err != nil {
		return nil, formatError("target", cfg.Target, err)
	}

	c := &Converter{
		cfg:     cfg,
		outCh:   cfg.Target.Channels,
		quantum: cfg.Quantum,
		cache:   make([]float64, cfg.Quantum*cfg.Target.Channels),
		block:   make([]float64, cfg.Quantum*cfg.Target.Channels),
	}

	if cfg.Source.SampleRate != cfg.Target.SampleRate {
		ratio := cfg.Source.SampleRate / cfg.Target.SampleRate
		switch cfg.Quality {
		case QualityRealtime:
			c.rs = newCubic(ratio, c.outCh, c.quantum)
		case QualityHigh:
			rs, err := newSoxr(cfg.Source.SampleRate, cfg.Target.SampleRate, c.outCh)
			if err != nil {
				return nil, fmt.Errorf("convert: %w", err)
			}
			c.rs = rs
		default:
			return nil, fmt.Errorf("convert: unknown quality %v", cfg.Quality)
		}
		c.out = make([]float64, c.rs.maxOut(c.quantum)*c.outCh)
	}

	return c, nil
}

// Source returns the negotiated source format
func (c *Converter) Source() audio.Format { return c.cfg.Source }

// Target returns the negotiated target format
func (c *Converter) Target() audio.Format { return c.cfg.Target }

// Quantum returns the block size in frames
func (c *Converter) Quantum() int { return c.quantum }

// Primed reports whether a conversion has completed since New or Reset
func (c *Converter) Primed() bool { return c.primed.Load() }

// Dropped returns the number of source frames discarded because neither the
// destination nor the residual cache could hold them
func (c *Converter) Dropped() uint64 { return c.dropped.Load() }

// Err returns the sticky negotiation failure, if any
func (c *Converter) Err() error { return c.err }

// MaxOutputFrames returns a destination size large enough for any call
// with srcFrames input frames, residual cache included
func (c *Converter) MaxOutputFrames(srcFrames int) int {
	if c.rs == nil {
		return srcFrames + c.quantum
	}
	blocks := (srcFrames + c.quantum) / c.quantum
	return blocks * c.rs.maxOut(c.quantum)
}

// Convert converts srcFrames frames of src into dst, which holds room for
// dstFrames frames. Cached residual frames are consumed before src. A
// buffer list that does not match its declared format fails the converter
// until Reset.
func (c *Converter) Convert(src audio.BufferList, srcFrames int, dst audio.BufferList, dstFrames int) (Result, error) {
	if c.err != nil {
		return Result{Residual: c.cached}, c.err
	}
	if err := src.Check(c.cfg.Source, srcFrames); err != nil {
		c.err = formatError("source", c.cfg.Source, err)
		return Result{Residual: c.cached}, c.err
	}
	if err := dst.Check(c.cfg.Target, dstFrames); err != nil {
		c.err = formatError("target", c.cfg.Target, err)
		return Result{Residual: c.cached}, c.err
	}

	var (
		produced int
		err      error
	)
	if c.rs == nil {
		produced = c.repack(src, srcFrames, dst, dstFrames)
	} else {
		produced, err = c.resample(src, srcFrames, dst, dstFrames)
	}
	if err != nil {
		return Result{Produced: produced, Residual: c.cached}, err
	}

	return Result{
		Produced: produced,
		Residual: c.cached,
		Primed:   c.primed.Swap(true),
	}, nil
}

// repack handles equal sample rates: cached frames first, then src, as far
// as dst allows
func (c *Converter) repack(src audio.BufferList, srcFrames int, dst audio.BufferList, dstFrames int) int {
	ch := c.outCh
	produced := min(c.cached, dstFrames)
	if produced > 0 {
		encode(dst, c.cfg.Target, 0, produced, c.cache)
		copy(c.cache, c.cache[produced*ch:c.cached*ch])
		c.cached -= produced
	}

	pos := 0
	for pos < srcFrames && produced < dstFrames && c.cached == 0 {
		n := min(c.quantum, srcFrames-pos, dstFrames-produced)
		decode(src, c.cfg.Source, pos, n, ch, c.block)
		encode(dst, c.cfg.Target, produced, n, c.block)
		pos += n
		produced += n
	}

	c.stash(src, pos, srcFrames)
	return produced
}

// resample feeds whole quanta through the block resampler while dst has
// room for a full block of output
func (c *Converter) resample(src audio.BufferList, srcFrames int, dst audio.BufferList, dstFrames int) (int, error) {
	ch := c.outCh
	blockOut := c.rs.maxOut(c.quantum)
	produced := 0
	pos := 0

	for c.cached+srcFrames-pos >= c.quantum && dstFrames-produced >= blockOut {
		fromCache := c.cached
		copy(c.block, c.cache[:fromCache*ch])
		take := c.quantum - fromCache
		decode(src, c.cfg.Source, pos, take, ch, c.block[fromCache*ch:])

		n, err := c.rs.process(c.block, c.quantum, c.out)
		if err != nil {
			return produced, err
		}
		c.cached = 0
		pos += take

		encode(dst, c.cfg.Target, produced, n, c.out)
		produced += n
	}

	c.stash(src, pos, srcFrames)
	return produced, nil
}

// stash appends the unconsumed tail of src to the residual cache, dropping
// whatever exceeds one quantum
func (c *Converter) stash(src audio.BufferList, pos, srcFrames int) {
	tail := srcFrames - pos
	if tail <= 0 {
		return
	}
	keep := min(tail, c.quantum-c.cached)
	if keep > 0 {
		decode(src, c.cfg.Source, pos, keep, c.outCh, c.cache[c.cached*c.outCh:])
		c.cached += keep
	}
	if tail > keep {
		c.dropped.Add(uint64(tail - keep))
	}
}

// Reset clears the residual cache, resampler history, priming and any
// sticky failure. Call it when the stream restarts.
func (c *Converter) Reset() error {
	c.cached = 0
	c.err = nil
	c.primed.Store(false)
	if c.rs != nil {
		if err := c.rs.reset(); err != nil {
			return fmt.Errorf("convert: %w", err)
		}
	}
	return nil
}
