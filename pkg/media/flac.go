// ABOUTME: FLAC media source backed by mewkiz/flac
// ABOUTME: Decodes frames of any bit depth to planar float32, carrying partial frames across reads
package media

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// FLACSource decodes a FLAC stream
type FLACSource struct {
	r      io.ReadCloser
	stream *flac.Stream
	format audio.Format
	scale  float64
	title  string
	loop   bool

	// frame being consumed and the next sample index in it
	cur *frame.Frame
	pos int
}

// OpenFLAC opens a FLAC file
func OpenFLAC(path string, loop bool) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	s, err := NewFLAC(f, titleFromPath(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	s.loop = loop
	return s, nil
}

// NewFLAC decodes FLAC data from r. Looping requires r to be seekable.
func NewFLAC(r io.ReadCloser, title string) (*FLACSource, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	if info.NChannels == 0 || info.BitsPerSample == 0 {
		return nil, fmt.Errorf("failed to decode FLAC: invalid stream info")
	}
	log.Printf("Loaded FLAC: %s (sample rate: %d Hz, channels: %d, bit depth: %d)",
		title, info.SampleRate, info.NChannels, info.BitsPerSample)

	return &FLACSource{
		r:      r,
		stream: stream,
		format: audio.Float32Planar(float64(info.SampleRate), int(info.NChannels)),
		scale:  float64(int64(1) << (info.BitsPerSample - 1)),
		title:  title,
	}, nil
}

func (s *FLACSource) Format() audio.Format { return s.format }

func (s *FLACSource) Read(dst audio.BufferList, frames int) (int, error) {
	if err := dst.Check(s.format, frames); err != nil {
		return 0, err
	}

	n := 0
	rewound := false
	for n < frames {
		if s.cur == nil || s.pos >= int(s.cur.BlockSize) {
			fr, err := s.stream.ParseNext()
			if errors.Is(err, io.EOF) {
				if !s.loop || rewound {
					return n, io.EOF
				}
				if err := s.rewind(); err != nil {
					return n, err
				}
				rewound = true
				continue
			}
			if err != nil {
				return n, err
			}
			s.cur, s.pos = fr, 0
			continue
		}
		rewound = false

		take := min(frames-n, int(s.cur.BlockSize)-s.pos)
		for ch := 0; ch < s.format.Channels; ch++ {
			samples := s.cur.Subframes[ch].Samples[s.pos : s.pos+take]
			plane := dst[ch][n*4:]
			for i, v := range samples {
				audio.WriteSample(plane[i*4:], s.format, float64(v)/s.scale)
			}
		}
		s.pos += take
		n += take
	}
	return n, nil
}

func (s *FLACSource) rewind() error {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return io.EOF
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.r)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	s.stream = stream
	s.cur, s.pos = nil, 0
	return nil
}

func (s *FLACSource) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

func (s *FLACSource) Close() error {
	return s.r.Close()
}
