// ABOUTME: Audio encoder package for encoding PCM to various formats
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode provides audio encoders for outbound transmission.
//
// Supports: PCM (16-bit and 24-bit), Opus
//
// Encoders accept interleaved PCM bytes in any format the audio package
// can describe and produce wire bytes.
//
// Example:
//
//	encoder, err := encode.NewPCM(audio.Int16Interleaved(48000, 2), 24)
//	data, err := encoder.Encode(pcm)
package encode
