// ABOUTME: Audio type definitions for speech playback
// ABOUTME: Defines the stream format, frame math and sample conversions
package audio

import (
	"fmt"
	"time"
)

const (
	// SampleRate is the rate every synthesized stream is delivered at
	SampleRate = 44100
	// Channels is the channel count of synthesized streams (mono)
	Channels = 1
	// BitDepth is the sample width of synthesized streams
	BitDepth = 16
	// BytesPerSample is the width of one PCM16 sample
	BytesPerSample = BitDepth / 8

	// Int16Scale normalizes PCM16 samples to [-1, 1)
	Int16Scale = 32768.0
)

// Format describes an audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// SpeechFormat is the fixed format of streamed speech: raw PCM16LE mono @ 44100
var SpeechFormat = Format{
	Codec:      "pcm",
	SampleRate: SampleRate,
	Channels:   Channels,
	BitDepth:   BitDepth,
}

// Validate checks that the format can be played by the engine
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth: %d (supported: 16)", f.BitDepth)
	}
	return nil
}

// BytesPerFrame returns the size of one interleaved frame
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// ByteRate returns bytes per second of audio
func (f Format) ByteRate() int {
	return f.SampleRate * f.BytesPerFrame()
}

// FramesToDuration converts a frame count to wall-clock duration at rate
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	// Split to avoid overflow on long streams
	secs := frames / int64(rate)
	rem := frames % int64(rate)
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}

// DurationToFrames converts a duration to the nearest whole frame count
func DurationToFrames(d time.Duration, rate int) int64 {
	return int64((d*time.Duration(rate) + time.Second/2) / time.Second)
}

// Int16ToFloat normalizes a PCM16 sample
func Int16ToFloat(sample int16) float32 {
	return float32(sample) / Int16Scale
}

// FloatToInt16 converts a normalized sample back to PCM16, clipping out-of-range values
func FloatToInt16(sample float32) int16 {
	v := sample * Int16Scale
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
