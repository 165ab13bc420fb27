// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes whole MP3 assets to interleaved PCM16 samples
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces 16-bit little-endian stereo
const mp3Channels = 2

// DecodeMP3 decodes a complete MP3 file
func DecodeMP3(data []byte) (*Asset, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	numSamples := len(raw) / audio.BytesPerSample
	numSamples -= numSamples % mp3Channels
	samples := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	return &Asset{
		Format: audio.Format{
			Codec:      "mp3",
			SampleRate: decoder.SampleRate(),
			Channels:   mp3Channels,
			BitDepth:   16,
		},
		Samples: samples,
	}, nil
}
