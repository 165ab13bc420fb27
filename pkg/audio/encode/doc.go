// ABOUTME: Audio encoder package for PCM bytes and WAV containers
// ABOUTME: Provides PCM16 encoders and the RIFF/WAVE writer used by capture
// Package encode turns samples into bytes.
//
// WAV produces the canonical 44-byte RIFF/WAVE header followed by the PCM
// payload, exactly as captured. PCM16 and FloatPCM16 produce the raw
// little-endian stream format used on the wire.
//
// Example:
//
//	wav := encode.SpeechWAV(captured)
//	os.WriteFile("speech.wav", wav, 0o644)
package encode
