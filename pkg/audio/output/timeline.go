// ABOUTME: Frame-clocked mixing timeline shared by the real and mock devices
// ABOUTME: Renders scheduled voices at exact positions and reports their natural end
package output

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// ErrEmptyVoice is returned when scheduling a buffer with no samples
var ErrEmptyVoice = errors.New("cannot schedule empty buffer")

// ErrClosed is returned when scheduling on a closed device
var ErrClosed = errors.New("output closed")

// Timeline mixes scheduled voices into a single mono stream. The position
// counter is the device clock: it advances only as frames are rendered.
type Timeline struct {
	mu         sync.Mutex
	sampleRate int
	position   int64
	voices     map[uint64]*voice
	nextID     uint64
	volume     int
	muted      bool
	closed     bool
	dispatch   Dispatcher
	scratch    []float32
}

type voice struct {
	timeline *Timeline
	id       uint64
	at       int64
	samples  []float32
	onEnded  func()
}

// NewTimeline creates a timeline. Ended callbacks are handed to dispatch;
// a nil dispatch runs them on the rendering goroutine.
func NewTimeline(sampleRate int, dispatch Dispatcher) *Timeline {
	return &Timeline{
		sampleRate: sampleRate,
		voices:     make(map[uint64]*voice),
		volume:     100,
		dispatch:   dispatch,
	}
}

// SampleRate returns the timeline rate
func (t *Timeline) SampleRate() int {
	return t.sampleRate
}

// Clock returns frames rendered so far
func (t *Timeline) Clock() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// Schedule places samples at frame position at
func (t *Timeline) Schedule(samples []float32, at int64, onEnded func()) (Voice, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyVoice
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	t.nextID++
	v := &voice{
		timeline: t,
		id:       t.nextID,
		at:       at,
		samples:  samples,
		onEnded:  onEnded,
	}
	t.voices[v.id] = v
	return v, nil
}

// Halt removes the voice without firing its ended callback
func (v *voice) Halt() {
	t := v.timeline
	t.mu.Lock()
	delete(t.voices, v.id)
	t.mu.Unlock()
}

// Active returns the number of voices not yet ended or halted
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Render mixes the next len(out) frames, advances the clock and fires
// ended callbacks for voices whose last frame was rendered.
func (t *Timeline) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	t.mu.Lock()
	start := t.position
	end := start + int64(len(out))
	multiplier := float32(getVolumeMultiplier(t.volume, t.muted))

	var ended []func()
	for id, v := range t.voices {
		vEnd := v.at + int64(len(v.samples))

		from := max(v.at, start)
		to := min(vEnd, end)
		for pos := from; pos < to; pos++ {
			out[pos-start] += v.samples[pos-v.at] * multiplier
		}

		if vEnd <= end {
			delete(t.voices, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	t.position = end
	t.mu.Unlock()

	for _, fn := range ended {
		if t.dispatch != nil {
			t.dispatch(fn)
		} else {
			fn()
		}
	}
}

// Read renders PCM16LE frames, making the timeline an io.Reader for oto
func (t *Timeline) Read(p []byte) (int, error) {
	frames := len(p) / audio.BytesPerSample
	if frames == 0 {
		return 0, nil
	}
	if cap(t.scratch) < frames {
		t.scratch = make([]float32, frames)
	}
	buf := t.scratch[:frames]
	t.Render(buf)

	for i, s := range buf {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(audio.FloatToInt16(s)))
	}
	return frames * audio.BytesPerSample, nil
}

// Close halts every voice and rejects further scheduling
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.voices = make(map[uint64]*voice)
	return nil
}

// SetVolume sets the volume (0-100)
func (t *Timeline) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	t.mu.Lock()
	t.volume = volume
	t.mu.Unlock()
}

// SetMuted sets mute state
func (t *Timeline) SetMuted(muted bool) {
	t.mu.Lock()
	t.muted = muted
	t.mu.Unlock()
}

// Volume returns current volume
func (t *Timeline) Volume() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// Muted returns mute state
func (t *Timeline) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
