// ABOUTME: Allocation-free Catmull-Rom block resampler for the real-time path
// ABOUTME: Keeps three frames of history so output frame k lands exactly on input time k*ratio
package convert

import "math"

// historyFrames is the look-behind the interpolator keeps between blocks
const historyFrames = 3

// block converts one quantum of interleaved input frames at a time
type block interface {
	// process converts frames frames from in, writing at most len(out)/ch
	// frames to out. It returns the frame count written.
	process(in []float64, frames int, out []float64) (int, error)
	// maxOut bounds the output of one process call for frames input frames
	maxOut(frames int) int
	reset() error
}

type cubic struct {
	ch    int
	ratio float64 // input frames per output frame
	pos   float64 // next output position, relative to the block start
	work  []float64
}

func newCubic(ratio float64, ch, quantum int) *cubic {
	return &cubic{
		ch:    ch,
		ratio: ratio,
		work:  make([]float64, (historyFrames+quantum)*ch),
	}
}

func (c *cubic) maxOut(frames int) int {
	return int(math.Ceil(float64(frames)/c.ratio)) + 1
}

func (c *cubic) process(in []float64, frames int, out []float64) (int, error) {
	ch := c.ch
	copy(c.work[historyFrames*ch:], in[:frames*ch])

	// work[0:3] is history, work[3:3+frames] is this block
	limit := historyFrames + frames
	capacity := len(out) / ch
	n := 0
	for n < capacity {
		base := math.Floor(c.pos)
		i := int(base) + historyFrames
		if i+2 >= limit {
			break
		}
		t := c.pos - base
		for k := 0; k < ch; k++ {
			out[n*ch+k] = catmullRom(
				c.work[(i-1)*ch+k],
				c.work[i*ch+k],
				c.work[(i+1)*ch+k],
				c.work[(i+2)*ch+k],
				t,
			)
		}
		n++
		c.pos += c.ratio
	}

	c.pos -= float64(frames)
	copy(c.work[:historyFrames*ch], c.work[frames*ch:limit*ch])
	return n, nil
}

func (c *cubic) reset() error {
	c.pos = 0
	clear(c.work)
	return nil
}

// catmullRom interpolates between y1 and y2 at fraction t
func catmullRom(y0, y1, y2, y3, t float64) float64 {
	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2
	a3 := y1
	return ((a0*t+a1)*t+a2)*t + a3
}
