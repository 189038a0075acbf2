// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Provides Decoder interface and implementations for PCM and Opus
// Package decode turns received room audio into interleaved PCM.
//
// Supports: PCM (16-bit and 24-bit), Opus
//
// Example:
//
//	decoder, err := decode.New("opus", audio.Int16Interleaved(48000, 2))
//	pcm, err := decoder.Decode(packet)
package decode
