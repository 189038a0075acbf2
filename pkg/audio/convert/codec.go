// ABOUTME: Unpacks buffer lists into interleaved float frames and packs them back
// ABOUTME: Channel remixing (copy, mono fan-out, average down to mono) happens while unpacking
package convert

import (
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// checkRemix reports whether in channels can be remixed to out channels
func checkRemix(in, out int) error {
	if in == out || in == 1 || out == 1 {
		return nil
	}
	return fmt.Errorf("cannot remix %d channels to %d", in, out)
}

func sampleAt(bl audio.BufferList, f audio.Format, frame, ch int) float64 {
	bps := f.BytesPerSample()
	if f.Interleaved {
		return audio.ReadSample(bl[0][(frame*f.Channels+ch)*bps:], f)
	}
	return audio.ReadSample(bl[ch][frame*bps:], f)
}

// decode unpacks n frames starting at frame off into out, interleaved with
// outCh channels.
func decode(bl audio.BufferList, f audio.Format, off, n, outCh int, out []float64) {
	inCh := f.Channels
	for i := 0; i < n; i++ {
		frame := off + i
		dst := out[i*outCh : (i+1)*outCh]
		switch {
		case inCh == outCh:
			for c := range dst {
				dst[c] = sampleAt(bl, f, frame, c)
			}
		case inCh == 1:
			v := sampleAt(bl, f, frame, 0)
			for c := range dst {
				dst[c] = v
			}
		default:
			sum := 0.0
			for c := 0; c < inCh; c++ {
				sum += sampleAt(bl, f, frame, c)
			}
			dst[0] = sum / float64(inCh)
		}
	}
}

// encode packs n interleaved frames from in into bl starting at frame off
func encode(bl audio.BufferList, f audio.Format, off, n int, in []float64) {
	ch := f.Channels
	bps := f.BytesPerSample()
	for i := 0; i < n; i++ {
		frame := off + i
		for c := 0; c < ch; c++ {
			v := in[i*ch+c]
			if f.Interleaved {
				audio.WriteSample(bl[0][(frame*ch+c)*bps:], f, v)
			} else {
				audio.WriteSample(bl[c][frame*bps:], f, v)
			}
		}
	}
}
