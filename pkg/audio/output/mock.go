// ABOUTME: Mock audio device for tests without real audio hardware
// ABOUTME: Advances the device clock manually and records what was scheduled
package output

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Placement records one Schedule call on the mock
type Placement struct {
	At     int64
	Frames int
}

// Mock implements Device with a clock driven by Advance
type Mock struct {
	*Timeline

	mu         sync.Mutex
	placements []Placement
	rendered   []float32
	record     bool
}

// NewMock creates a mock device. Ended callbacks run synchronously inside
// Advance, on the caller's goroutine.
func NewMock(sampleRate int) *Mock {
	log.Debug("Creating mock audio device for testing", "sample_rate", sampleRate)
	return &Mock{
		Timeline: NewTimeline(sampleRate, nil),
	}
}

// Schedule records the placement and schedules on the timeline
func (m *Mock) Schedule(samples []float32, at int64, onEnded func()) (Voice, error) {
	v, err := m.Timeline.Schedule(samples, at, onEnded)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.placements = append(m.placements, Placement{At: at, Frames: len(samples)})
	m.mu.Unlock()
	return v, nil
}

// Record keeps rendered output for Rendered
func (m *Mock) Record(enabled bool) {
	m.mu.Lock()
	m.record = enabled
	m.mu.Unlock()
}

// Advance renders frames, moving the clock forward
func (m *Mock) Advance(frames int) {
	buf := make([]float32, frames)
	m.Timeline.Render(buf)

	m.mu.Lock()
	if m.record {
		m.rendered = append(m.rendered, buf...)
	}
	m.mu.Unlock()
}

// Placements returns every Schedule call in order
func (m *Mock) Placements() []Placement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Placement(nil), m.placements...)
}

// Rendered returns recorded output
func (m *Mock) Rendered() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float32(nil), m.rendered...)
}
