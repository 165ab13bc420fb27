// ABOUTME: Audio decoder package for streamed speech and cached assets
// ABOUTME: Provides the PCM stream decoder plus WAV and MP3 asset decoders
// Package decode turns bytes into samples.
//
// Streamed speech is decoded chunk by chunk with PCMDecoder, which tolerates
// chunks that split a sample. Cached assets are decoded whole by DecodeAsset,
// which recognizes RIFF/WAVE (16-bit PCM) and MP3.
//
// Example:
//
//	decoder, err := decode.NewPCM(audio.SpeechFormat)
//	samples, err := decoder.Decode(chunk)
package decode
