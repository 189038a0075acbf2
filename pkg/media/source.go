// ABOUTME: Media sources feeding the host pipeline
// ABOUTME: Opens MP3 and FLAC files or HTTP streams and yields planar float32 audio
package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// Source yields decoded audio in planar float32, the canonical processing
// format of the pipeline
type Source interface {
	// Format returns the planar float32 format of the decoded stream
	Format() audio.Format
	// Read decodes up to frames frames into dst and returns the count.
	// io.EOF is returned once a non-looping source is exhausted.
	Read(dst audio.BufferList, frames int) (int, error)
	// Metadata returns title, artist, album
	Metadata() (title, artist, album string)
	Close() error
}

// Open creates a source from a file path or HTTP URL. An empty path yields
// the test tone. Local files loop when loop is set.
func Open(pathOrURL string, loop bool) (Source, error) {
	if pathOrURL == "" {
		return NewTone(DefaultToneHz, 48000, 2), nil
	}

	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return openHTTP(pathOrURL)
	}

	if _, err := os.Stat(pathOrURL); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", pathOrURL)
	}

	switch ext := strings.ToLower(filepath.Ext(pathOrURL)); ext {
	case ".mp3":
		return OpenMP3(pathOrURL, loop)
	case ".flac":
		return OpenFLAC(pathOrURL, loop)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
}

// openHTTP streams an MP3 over HTTP; streams never loop
func openHTTP(url string) (Source, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTTP stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	src, err := NewMP3(resp.Body, "HTTP Stream")
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	log.Printf("Streaming MP3 from HTTP: %s (sample rate: %.0f Hz)", url, src.Format().SampleRate)
	return src, nil
}

// titleFromPath uses the file name without extension as the title
func titleFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
