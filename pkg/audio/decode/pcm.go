// ABOUTME: PCM audio decoder
// ABOUTME: Decodes chunked 16-bit little-endian PCM to normalized float samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// PCMDecoder decodes a PCM16LE stream that arrives in arbitrary chunks.
// Chunk boundaries need not fall on frame boundaries: trailing bytes of an
// incomplete frame are held back and prefixed to the next chunk.
type PCMDecoder struct {
	frameSize int
	carry     []byte
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (*PCMDecoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	return &PCMDecoder{
		frameSize: format.BytesPerFrame(),
	}, nil
}

// Decode converts PCM bytes to float samples in [-1, 1)
func (d *PCMDecoder) Decode(data []byte) ([]float32, error) {
	buf := data
	if len(d.carry) > 0 {
		buf = make([]byte, 0, len(d.carry)+len(data))
		buf = append(buf, d.carry...)
		buf = append(buf, data...)
		d.carry = d.carry[:0]
	}

	usable := len(buf) - len(buf)%d.frameSize
	if usable < len(buf) {
		d.carry = append(d.carry, buf[usable:]...)
	}

	numSamples := usable / audio.BytesPerSample
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		sample16 := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		samples[i] = audio.Int16ToFloat(sample16)
	}
	return samples, nil
}

// Pending returns the number of bytes held back for the next chunk
func (d *PCMDecoder) Pending() int {
	return len(d.carry)
}

// Reset drops any held-back bytes
func (d *PCMDecoder) Reset() {
	d.carry = d.carry[:0]
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	d.Reset()
	return nil
}
