// ABOUTME: Tests for media sources and the host loop
// ABOUTME: Uses a finite fake source and a recording processor
package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/tap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finiteSource struct {
	format audio.Format
	left   int
	closed bool
}

func (s *finiteSource) Format() audio.Format { return s.format }

func (s *finiteSource) Read(dst audio.BufferList, frames int) (int, error) {
	n := min(frames, s.left)
	s.left -= n
	dst.Silence(s.format, n)
	if s.left == 0 {
		return n, io.EOF
	}
	return n, nil
}

func (s *finiteSource) Metadata() (string, string, string) { return "finite", "test", "" }
func (s *finiteSource) Close() error                       { s.closed = true; return nil }

type recordingProcessor struct {
	prepareErr error
	maxFrames  int
	format     audio.Format
	calls      []int
	unprepared int
	finalized  int
}

func (p *recordingProcessor) Prepare(maxFrames int, format audio.Format) error {
	p.maxFrames = maxFrames
	p.format = format
	return p.prepareErr
}

func (p *recordingProcessor) Process(frames int, in, out audio.BufferList) tap.Result {
	p.calls = append(p.calls, frames)
	return tap.Result{Frames: frames}
}

func (p *recordingProcessor) Unprepare() { p.unprepared++ }
func (p *recordingProcessor) Finalize()  { p.finalized++ }

func TestToneIsPlanarAtHalfVolume(t *testing.T) {
	tone := NewTone(DefaultToneHz, 48000, 2)
	f := tone.Format()
	assert.Equal(t, audio.Float32Planar(48000, 2), f)

	bl := audio.NewBufferList(f, 480)
	n, err := tone.Read(bl, 480)
	require.NoError(t, err)
	assert.Equal(t, 480, n)

	peak := 0.0
	for i := 0; i < n; i++ {
		left := audio.ReadSample(bl[0][i*4:], f)
		assert.Equal(t, left, audio.ReadSample(bl[1][i*4:], f))
		peak = max(peak, left)
	}
	assert.InDelta(t, 0.5, peak, 0.01)

	_, err = tone.Read(bl, 481)
	assert.Error(t, err, "buffer too small")
}

func TestToneIsContinuousAcrossReads(t *testing.T) {
	a := NewTone(1000, 48000, 1)
	b := NewTone(1000, 48000, 1)
	f := a.Format()

	whole := audio.NewBufferList(f, 200)
	_, err := a.Read(whole, 200)
	require.NoError(t, err)

	part := audio.NewBufferList(f, 100)
	_, err = b.Read(part, 100)
	require.NoError(t, err)
	_, err = b.Read(part, 100)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		assert.InDelta(t, audio.ReadSample(whole[0][(100+i)*4:], f), audio.ReadSample(part[0][i*4:], f), 1e-6)
	}
}

func TestOpenRejectsUnknownFiles(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp3"), false)
	assert.ErrorContains(t, err, "not found")

	wav := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o644))
	_, err = Open(wav, false)
	assert.ErrorContains(t, err, "unsupported audio format")

	src, err := Open("", false)
	require.NoError(t, err)
	assert.IsType(t, &Tone{}, src)
}

func TestOpenFLACRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.flac")
	require.NoError(t, os.WriteFile(path, []byte("definitely not flac"), 0o644))
	_, err := Open(path, true)
	assert.ErrorContains(t, err, "failed to decode FLAC")
}

func TestPlayerDrivesLifecycle(t *testing.T) {
	src := &finiteSource{format: audio.Float32Planar(48000, 2), left: 1000}
	proc := &recordingProcessor{}

	p, err := NewPlayer(src, proc, PlayerConfig{Chunk: 10 * time.Millisecond, Unpaced: true})
	require.NoError(t, err)
	assert.Equal(t, 480, p.ChunkFrames())

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 480, proc.maxFrames)
	assert.Equal(t, src.format, proc.format)
	assert.Equal(t, []int{480, 480, 40}, proc.calls)
	assert.Equal(t, 1, proc.unprepared)
	assert.Equal(t, 0, proc.finalized)
	assert.Equal(t, PlayerStats{Chunks: 3, Frames: 1000}, p.Stats())

	require.NoError(t, p.Close())
	assert.Equal(t, 1, proc.finalized)
	assert.True(t, src.closed)
}

func TestPlayerReportsPrepareFailure(t *testing.T) {
	reason := errors.New("no device")
	proc := &recordingProcessor{prepareErr: reason}
	p, err := NewPlayer(NewTone(440, 48000, 2), proc, PlayerConfig{Unpaced: true})
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.ErrorIs(t, err, reason)
	assert.Empty(t, proc.calls)
	assert.Equal(t, 0, proc.unprepared)
}

func TestPlayerStopsOnCancel(t *testing.T) {
	proc := &recordingProcessor{}
	p, err := NewPlayer(NewTone(440, 48000, 2), proc, PlayerConfig{Chunk: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.NotEmpty(t, proc.calls)
	assert.Equal(t, 1, proc.unprepared)
}

func TestPlayerMonitorSeesOutput(t *testing.T) {
	src := &finiteSource{format: audio.Float32Planar(44100, 1), left: 441}
	var seen int
	p, err := NewPlayer(src, &recordingProcessor{}, PlayerConfig{
		Unpaced: true,
		Monitor: func(out audio.BufferList, frames int) { seen += frames },
	})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 441, seen)
}
