// ABOUTME: Audio output package for playing scheduled audio
// ABOUTME: Provides the Device interface with oto and mock implementations
// Package output provides audio playback devices.
//
// A Device exposes a hardware-style clock counted in frames. Callers place
// buffers on that clock with Schedule; back-to-back placements render with no
// gap because positions are exact integers. The Oto device plays through the
// host audio stack; the Mock device advances only when a test calls Advance.
//
// Example:
//
//	dev, err := output.NewOto(output.OtoOptions{SampleRate: 44100, Dispatch: loop.Post})
//	at := dev.Clock()
//	v, err := dev.Schedule(samples, at, func() { log.Info("ended") })
package output
