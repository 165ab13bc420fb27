// ABOUTME: WAV container encoder
// ABOUTME: Wraps raw PCM bytes in a canonical 44-byte RIFF/WAVE header
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// WAVHeaderSize is the size of the canonical PCM header
const WAVHeaderSize = 44

// WAV returns pcm wrapped in a RIFF/WAVE container described by format.
// The data bytes are copied verbatim, so an odd-length payload stays odd.
func WAV(pcm []byte, format audio.Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("wav format: %w", err)
	}

	dataSize := uint32(len(pcm))
	blockAlign := uint16(format.BytesPerFrame())
	byteRate := uint32(format.ByteRate())

	buf := make([]byte, WAVHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // integer PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], uint16(format.BitDepth))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
	copy(buf[WAVHeaderSize:], pcm)

	return buf, nil
}

// SpeechWAV wraps captured speech bytes (PCM16LE mono 44100)
func SpeechWAV(pcm []byte) []byte {
	// SpeechFormat always validates
	wav, _ := WAV(pcm, audio.SpeechFormat)
	return wav
}
