// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, BufferList and sample read, write and mix helpers
// Package audio provides the PCM types shared by the tap, converter and device.
//
// This package defines:
//   - Format: sample rate, channel count, sample size, float or integer,
//     interleaved or planar
//   - BufferList: one buffer for interleaved audio, one per channel for planar
//
// It also provides utilities for working with samples in any supported format:
//   - ReadSample and WriteSample normalize to float64 in [-1, 1] with clipping
//   - Mix and Scale apply gain in place
//   - 16-bit ↔ 24-bit conversions and packed 24-bit helpers
//
// Example:
//
//	f := audio.Float32Planar(48000, 2)
//	bufs := audio.NewBufferList(f, 480)
//	audio.WriteSample(bufs[0], f, 0.5)
//
//	// Convert 16-bit sample to 24-bit range
//	sample24 := audio.SampleFromInt16(sample16)
package audio
