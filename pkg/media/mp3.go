// ABOUTME: MP3 media source backed by go-mp3
// ABOUTME: Decodes 16-bit stereo PCM and deinterleaves it to planar float32
package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// go-mp3 always decodes to interleaved 16-bit stereo
const (
	mp3Channels   = 2
	mp3FrameBytes = mp3Channels * 2
)

// MP3Source decodes an MP3 stream
type MP3Source struct {
	r       io.ReadCloser
	decoder *mp3.Decoder
	format  audio.Format
	title   string
	loop    bool
	buf     []byte
}

// OpenMP3 opens an MP3 file
func OpenMP3(path string, loop bool) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	s, err := NewMP3(f, titleFromPath(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	s.loop = loop
	log.Printf("Loaded MP3: %s (sample rate: %.0f Hz)", s.title, s.format.SampleRate)
	return s, nil
}

// NewMP3 decodes MP3 data from r. Looping requires r to be seekable.
func NewMP3(r io.ReadCloser, title string) (*MP3Source, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	return &MP3Source{
		r:       r,
		decoder: decoder,
		format:  audio.Float32Planar(float64(decoder.SampleRate()), mp3Channels),
		title:   title,
	}, nil
}

func (s *MP3Source) Format() audio.Format { return s.format }

func (s *MP3Source) Read(dst audio.BufferList, frames int) (int, error) {
	if err := dst.Check(s.format, frames); err != nil {
		return 0, err
	}
	need := frames * mp3FrameBytes
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	got := 0
	rewound := false
	var readErr error
	for got < need {
		n, err := s.decoder.Read(buf[got:])
		got += n
		if n > 0 {
			rewound = false
		}
		if errors.Is(err, io.EOF) {
			// an empty stream would rewind forever
			if !s.loop || rewound {
				readErr = io.EOF
				break
			}
			if err := s.rewind(); err != nil {
				readErr = err
				break
			}
			rewound = true
			continue
		}
		if err != nil {
			readErr = err
			break
		}
		if n == 0 {
			break
		}
	}

	n := got / mp3FrameBytes
	for i := 0; i < n; i++ {
		for ch := 0; ch < mp3Channels; ch++ {
			v := int16(binary.LittleEndian.Uint16(buf[i*mp3FrameBytes+ch*2:]))
			audio.WriteSample(dst[ch][i*4:], s.format, float64(v)/32768.0)
		}
	}
	return n, readErr
}

func (s *MP3Source) rewind() error {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return io.EOF
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	decoder, err := mp3.NewDecoder(s.r)
	if err != nil {
		return fmt.Errorf("failed to create new decoder: %w", err)
	}
	s.decoder = decoder
	return nil
}

func (s *MP3Source) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

func (s *MP3Source) Close() error {
	return s.r.Close()
}
