// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation on normalized float samples. Streamed speech is
// already at the device rate; this is used for cached assets.
//
// Example:
//
//	mono := asset.Mono()
//	out := resample.Convert(mono, asset.Format.SampleRate, audio.SampleRate, 1)
package resample
