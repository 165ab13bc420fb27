// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for streaming decoders and the decoded asset type
package decode

import (
	"errors"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// ErrUnknownContainer is returned when an asset is neither WAV nor MP3
var ErrUnknownContainer = errors.New("unknown audio container")

// Decoder decodes a byte stream to normalized float samples
type Decoder interface {
	// Decode converts the next piece of the stream to samples
	Decode(data []byte) ([]float32, error)

	// Close releases decoder resources
	Close() error
}

// Asset is a fully decoded, non-streaming audio file
type Asset struct {
	Format  audio.Format
	Samples []int16 // interleaved
}

// Frames returns the number of frames in the asset
func (a *Asset) Frames() int {
	if a.Format.Channels <= 0 {
		return 0
	}
	return len(a.Samples) / a.Format.Channels
}

// Mono returns the asset downmixed to a single channel as normalized floats
func (a *Asset) Mono() []float32 {
	ch := a.Format.Channels
	if ch <= 0 {
		return nil
	}
	frames := a.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += audio.Int16ToFloat(a.Samples[i*ch+c])
		}
		out[i] = sum / float32(ch)
	}
	return out
}

// DecodeAsset sniffs the container and decodes a whole file
func DecodeAsset(data []byte) (*Asset, error) {
	switch {
	case isWAV(data):
		return ParseWAV(data)
	case isMP3(data):
		return DecodeMP3(data)
	default:
		return nil, ErrUnknownContainer
	}
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	// MPEG frame sync
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}
