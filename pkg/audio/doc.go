// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, the speech stream constants and sample conversions
// Package audio provides fundamental audio types used throughout resonate-tts.
//
// Streamed speech always arrives as raw little-endian PCM16, mono, 44100 Hz
// (SpeechFormat). Playback positions are tracked in frames so that chunk
// boundaries never drift; FramesToDuration converts them back for display.
//
// Example:
//
//	frames := int64(len(chunk) / audio.BytesPerSample)
//	d := audio.FramesToDuration(frames, audio.SampleRate) // 4410 frames -> 100ms
package audio
