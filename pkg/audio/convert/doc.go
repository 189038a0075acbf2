// ABOUTME: Audio format conversion package
// ABOUTME: Converts sample encoding, channel count and sample rate between negotiated formats
// Package convert provides the stateful converter between the tap's
// processing format and a device's hardware format.
//
// Input is consumed in fixed quanta. Frames that do not fill a whole
// quantum, or that do not fit the destination, are kept in a residual cache
// and prepended to the next call. The real-time interpolator starts from
// silence, so the first call never emits uninitialized filter state.
//
// Example:
//
//	c, err := convert.New(convert.Config{
//		Source: audio.Float32Planar(48000, 2),
//		Target: audio.Int16Interleaved(44100, 2),
//	})
//	dst := audio.NewBufferList(c.Target(), c.MaxOutputFrames(512))
//	res, err := c.Convert(src, 512, dst, c.MaxOutputFrames(512))
package convert
