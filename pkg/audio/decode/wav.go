// ABOUTME: WAV container parser
// ABOUTME: Walks RIFF chunks and extracts PCM16 samples from cached assets
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// ParseWAV decodes a RIFF/WAVE file holding 16-bit integer PCM
func ParseWAV(data []byte) (*Asset, error) {
	if !isWAV(data) {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	var (
		format  audio.Format
		haveFmt bool
		pcm     []byte
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Truncated streams often carry a bogus data size
			if id != "data" {
				return nil, fmt.Errorf("wav chunk %q overruns file", id)
			}
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav fmt chunk too short: %d", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body:])
			if audioFormat != 1 {
				return nil, fmt.Errorf("unsupported wav encoding: %d (supported: 1)", audioFormat)
			}
			format = audio.Format{
				Codec:      "pcm",
				Channels:   int(binary.LittleEndian.Uint16(data[body+2:])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4:])),
				BitDepth:   int(binary.LittleEndian.Uint16(data[body+14:])),
			}
			if err := format.Validate(); err != nil {
				return nil, fmt.Errorf("wav format: %w", err)
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}

		// Chunks are word aligned
		pos = end + size%2
	}

	if !haveFmt {
		return nil, errors.New("wav file has no fmt chunk")
	}
	if pcm == nil {
		return nil, errors.New("wav file has no data chunk")
	}

	frameSize := format.BytesPerFrame()
	usable := len(pcm) - len(pcm)%frameSize
	samples := make([]int16, usable/audio.BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	return &Asset{Format: format, Samples: samples}, nil
}
