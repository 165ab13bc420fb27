// ABOUTME: Capture buffer for raw played chunks
// ABOUTME: Retains pre-decode bytes and builds a WAV container on natural drain
package playback

import (
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/encode"
)

// CaptureFunc receives the finished RIFF/WAVE file
type CaptureFunc func(wav []byte)

type capture struct {
	format   audio.Format
	callback CaptureFunc
	chunks   [][]byte
	size     int
	held     bool
}

func (c *capture) armed() bool {
	return c.callback != nil
}

func (c *capture) append(data []byte) {
	if !c.armed() {
		return
	}
	// Callers may reuse their buffer
	buf := make([]byte, len(data))
	copy(buf, data)
	c.chunks = append(c.chunks, buf)
	c.size += len(buf)
}

// finalize runs on natural drain; a held capture keeps accumulating
func (c *capture) finalize() error {
	if c.held {
		return nil
	}
	return c.flush()
}

// flush concatenates retained chunks into a WAV and disarms
func (c *capture) flush() error {
	if !c.armed() {
		return nil
	}
	pcm := make([]byte, 0, c.size)
	for _, chunk := range c.chunks {
		pcm = append(pcm, chunk...)
	}
	callback := c.callback
	c.clear()

	wav, err := encode.WAV(pcm, c.format)
	if err != nil {
		return err
	}
	callback(wav)
	return nil
}

// clear drops retained chunks and disarms
func (c *capture) clear() {
	c.callback = nil
	c.held = false
	c.chunks = nil
	c.size = 0
}
