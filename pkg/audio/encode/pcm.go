// ABOUTME: PCM audio encoder
// ABOUTME: Encodes float and int16 samples to 16-bit little-endian PCM bytes
package encode

import (
	"encoding/binary"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// PCM16 encodes int16 samples as little-endian bytes
func PCM16(samples []int16) []byte {
	output := make([]byte, len(samples)*audio.BytesPerSample)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample))
	}
	return output
}

// FloatPCM16 encodes normalized float samples as little-endian PCM16
func FloatPCM16(samples []float32) []byte {
	output := make([]byte, len(samples)*audio.BytesPerSample)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(audio.FloatToInt16(sample)))
	}
	return output
}
