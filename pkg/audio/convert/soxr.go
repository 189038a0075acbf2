// ABOUTME: High-quality block resampler backed by go-audio-resampling
// ABOUTME: Allocates per block, so it serves non-real-time paths such as the room receiver
package convert

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

type soxr struct {
	ch      int
	ratio   float64
	config  resampling.Config
	rs      resampling.Resampler
	pending []float64 // converted samples that did not fit the caller's buffer
}

func newSoxr(inRate, outRate float64, ch int) (*soxr, error) {
	s := &soxr{
		ch:    ch,
		ratio: inRate / outRate,
		config: resampling.Config{
			InputRate:  inRate,
			OutputRate: outRate,
			Channels:   ch,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		},
	}
	if err := s.reset(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *soxr) maxOut(frames int) int {
	return int(math.Ceil(float64(frames)/s.ratio)) + 1
}

func (s *soxr) process(in []float64, frames int, out []float64) (int, error) {
	res, err := s.rs.Process(in[:frames*s.ch])
	if err != nil {
		return 0, fmt.Errorf("resample: %w", err)
	}
	s.pending = append(s.pending, res...)

	n := min(len(s.pending), len(out)) / s.ch
	copy(out, s.pending[:n*s.ch])
	s.pending = s.pending[:copy(s.pending, s.pending[n*s.ch:])]
	return n, nil
}

func (s *soxr) reset() error {
	config := s.config
	rs, err := resampling.New(&config)
	if err != nil {
		return fmt.Errorf("failed to create resampler: %w", err)
	}
	s.rs = rs
	s.pending = s.pending[:0]
	return nil
}
