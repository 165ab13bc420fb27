// ABOUTME: Tests for the playback scheduler
// ABOUTME: Covers gapless placement, stop, natural drain and capture
package playback

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/output"
)

type recordingObserver struct {
	chunks  int
	late    int
	natural int
	stopped int
}

func (o *recordingObserver) ChunkScheduled(frames int, late bool) {
	o.chunks++
	if late {
		o.late++
	}
}

func (o *recordingObserver) EpisodeEnded(natural bool, played time.Duration) {
	if natural {
		o.natural++
	} else {
		o.stopped++
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *output.Mock) {
	t.Helper()
	dev := output.NewMock(audio.SampleRate)
	s, err := NewScheduler(Config{Device: dev})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return s, dev
}

func silence(frames int) []byte {
	return make([]byte, frames*audio.BytesPerSample)
}

func recordStates(s *Scheduler) *[]PlayerState {
	var states []PlayerState
	s.Subscribe(func(st PlayerState) { states = append(states, st) })
	return &states
}

func assertStates(t *testing.T, got, want []PlayerState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, got)
		}
	}
}

func TestNewSchedulerRejectsRateMismatch(t *testing.T) {
	if _, err := NewScheduler(Config{Device: output.NewMock(48000)}); err == nil {
		t.Fatal("expected error for mismatched device rate")
	}
	if _, err := NewScheduler(Config{}); err == nil {
		t.Fatal("expected error for missing device")
	}
}

func TestSchedulerGaplessPlacement(t *testing.T) {
	s, dev := newTestScheduler(t)
	dev.Advance(1000)
	t0 := dev.Clock()

	for _, frames := range []int{4410, 8820, 4410} {
		if err := s.SubmitChunk(silence(frames)); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	placements := dev.Placements()
	expected := []output.Placement{
		{At: t0, Frames: 4410},
		{At: t0 + 4410, Frames: 8820},
		{At: t0 + 13230, Frames: 4410},
	}
	if len(placements) != len(expected) {
		t.Fatalf("expected %d placements, got %d", len(expected), len(placements))
	}
	for i := range expected {
		if placements[i] != expected[i] {
			t.Errorf("placement %d: expected %+v, got %+v", i, expected[i], placements[i])
		}
	}

	starts := []time.Duration{0, 100 * time.Millisecond, 300 * time.Millisecond}
	for i, p := range placements {
		got := audio.FramesToDuration(p.At-t0, audio.SampleRate)
		if got != starts[i] {
			t.Errorf("chunk %d: expected start t0+%v, got t0+%v", i, starts[i], got)
		}
	}

	if s.Scheduled() != 400*time.Millisecond {
		t.Errorf("expected 400ms scheduled, got %v", s.Scheduled())
	}
}

func TestSchedulerRendersContiguousAudio(t *testing.T) {
	s, dev := newTestScheduler(t)
	dev.Record(true)

	a := []int16{1000, 2000, 3000}
	b := []int16{-1000, -2000}
	s.SubmitChunk(pcm(a))
	s.SubmitChunk(pcm(b))
	dev.Advance(5)

	rendered := dev.Rendered()
	want := append(append([]int16{}, a...), b...)
	for i, sample := range want {
		if audio.FloatToInt16(rendered[i]) != sample {
			t.Errorf("frame %d: expected %d, got %d", i, sample, audio.FloatToInt16(rendered[i]))
		}
	}
}

func TestSchedulerNaturalDrain(t *testing.T) {
	s, dev := newTestScheduler(t)
	obs := &recordingObserver{}
	s.obs = obs
	states := recordStates(s)

	s.BeginLoading()
	done := s.OnComplete()

	s.SubmitChunk(silence(100))
	s.SubmitChunk(silence(100))

	dev.Advance(150)
	if done.Settled() {
		t.Fatal("completion resolved before all units ended")
	}
	if s.State() != StatePlaying {
		t.Fatalf("expected playing, got %v", s.State())
	}

	dev.Advance(50)
	if !done.Settled() || done.Err() != nil {
		t.Fatalf("expected resolved completion, settled=%v err=%v", done.Settled(), done.Err())
	}
	if s.Outstanding() != 0 {
		t.Errorf("expected no outstanding units, got %d", s.Outstanding())
	}

	assertStates(t, *states, []PlayerState{StateLoading, StatePlaying, StateIdle})

	if obs.chunks != 2 || obs.natural != 1 || obs.stopped != 0 {
		t.Errorf("unexpected observer counts: %+v", obs)
	}
	if s.Stats().Played != 2 {
		t.Errorf("expected 2 played, got %d", s.Stats().Played)
	}
}

func TestSchedulerStopMidPlayback(t *testing.T) {
	s, dev := newTestScheduler(t)
	states := recordStates(s)
	captured := false
	s.EnableCapture(func([]byte) { captured = true })
	done := s.OnComplete()

	s.SubmitChunk(silence(100))
	s.SubmitChunk(silence(100))
	dev.Advance(50)

	s.Stop()

	if s.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %v", s.State())
	}
	if s.Outstanding() != 0 {
		t.Fatalf("expected no outstanding units, got %d", s.Outstanding())
	}
	if dev.Active() != 0 {
		t.Fatalf("expected device voices halted, got %d", dev.Active())
	}

	dev.Advance(1000)
	if done.Settled() {
		t.Error("stop must never resolve the completion")
	}
	if captured {
		t.Error("stop must not deliver a capture")
	}

	assertStates(t, *states, []PlayerState{StatePlaying, StateStopping, StateIdle})
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t)
	states := recordStates(s)

	s.Stop()
	s.Stop()

	if len(*states) != 0 {
		t.Errorf("stop on idle scheduler notified %v", *states)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle, got %v", s.State())
	}
}

func TestSchedulerStopWhileLoading(t *testing.T) {
	s, _ := newTestScheduler(t)
	states := recordStates(s)

	s.BeginLoading()
	s.Stop()

	assertStates(t, *states, []PlayerState{StateLoading, StateStopping, StateIdle})
}

func TestSchedulerCapture(t *testing.T) {
	s, dev := newTestScheduler(t)
	done := s.OnComplete()

	var wav []byte
	s.EnableCapture(func(b []byte) {
		if done.Settled() {
			t.Error("capture must be delivered before completion resolves")
		}
		wav = b
	})

	s.SubmitChunk([]byte{0x01, 0x02, 0x03, 0x04})
	s.SubmitChunk([]byte{0x05, 0x06, 0x07, 0x08})
	dev.Advance(4)

	if wav == nil {
		t.Fatal("capture callback not invoked")
	}
	if len(wav) != 44+8 {
		t.Fatalf("expected 52 bytes, got %d", len(wav))
	}
	if size := binary.LittleEndian.Uint32(wav[40:]); size != 8 {
		t.Errorf("expected data size 8, got %d", size)
	}
	if !bytes.Equal(wav[44:], []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("payload mismatch: %v", wav[44:])
	}
	if !done.Settled() {
		t.Error("completion not resolved after capture")
	}
}

func TestSchedulerCaptureArmedForOneEpisode(t *testing.T) {
	s, dev := newTestScheduler(t)
	calls := 0
	s.EnableCapture(func([]byte) { calls++ })

	s.SubmitChunk(silence(10))
	dev.Advance(10)
	s.SubmitChunk(silence(10))
	dev.Advance(10)

	if calls != 1 {
		t.Errorf("expected 1 capture, got %d", calls)
	}
}

func TestSchedulerCaptureKeepsOddBytes(t *testing.T) {
	s, dev := newTestScheduler(t)
	var wav []byte
	s.EnableCapture(func(b []byte) { wav = b })

	s.SubmitChunk([]byte{0x00, 0x40, 0x00})
	s.SubmitChunk([]byte{0x40})

	placements := dev.Placements()
	if len(placements) != 2 || placements[1].At != 1 {
		t.Fatalf("expected second unit at frame 1, got %+v", placements)
	}

	dev.Advance(2)
	if !bytes.Equal(wav[44:], []byte{0x00, 0x40, 0x00, 0x40}) {
		t.Errorf("capture must hold raw bytes, got %v", wav[44:])
	}
}

func TestSchedulerLateChunk(t *testing.T) {
	// Ended callbacks queue up like they would behind a busy event loop
	var queued []func()
	dev := output.NewTimeline(audio.SampleRate, func(fn func()) { queued = append(queued, fn) })
	obs := &recordingObserver{}
	s, err := NewScheduler(Config{Device: dev, Observer: obs})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	s.SubmitChunk(silence(100))
	dev.Render(make([]float32, 150))

	s.SubmitChunk(silence(100))
	if s.Stats().Late != 1 || obs.late != 1 {
		t.Errorf("expected 1 late chunk, got stats=%d observer=%d", s.Stats().Late, obs.late)
	}
	units := s.Units()
	var second *PlaybackUnit
	for _, u := range units {
		if u.id == 2 {
			second = u
		}
	}
	if second == nil || second.StartFrame() != 100 {
		t.Fatalf("late chunk must keep its gapless position, got %+v", second)
	}

	for _, fn := range queued {
		fn()
	}
	if s.State() != StatePlaying {
		t.Errorf("expected playing while the late unit is outstanding, got %v", s.State())
	}
	if s.NextStart() != 200 {
		t.Errorf("expected cursor at 200, got %d", s.NextStart())
	}
}

func TestSchedulerNewEpisodeAfterDrain(t *testing.T) {
	s, dev := newTestScheduler(t)

	s.SubmitChunk(silence(10))
	dev.Advance(25)
	if s.State() != StateIdle {
		t.Fatalf("expected idle after drain, got %v", s.State())
	}

	done := s.OnComplete()
	s.SubmitChunk(silence(10))
	placements := dev.Placements()
	if placements[1].At != 25 {
		t.Errorf("new episode must start at device clock 25, got %d", placements[1].At)
	}
	dev.Advance(10)
	if !done.Settled() {
		t.Error("completion requested before the episode should resolve on its drain")
	}
}

func TestSchedulerUnsubscribe(t *testing.T) {
	s, dev := newTestScheduler(t)
	calls := 0
	unsubscribe := s.Subscribe(func(PlayerState) { calls++ })

	s.SubmitChunk(silence(1))
	unsubscribe()
	dev.Advance(1)

	if calls != 1 {
		t.Errorf("expected 1 notification before unsubscribe, got %d", calls)
	}
}

func TestSchedulerListenerOrder(t *testing.T) {
	s, _ := newTestScheduler(t)
	var order []string
	s.Subscribe(func(PlayerState) { order = append(order, "first") })
	s.Subscribe(func(PlayerState) { order = append(order, "second") })

	s.BeginLoading()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected registration order, got %v", order)
	}
}

func TestSchedulerStaleCallbackIgnored(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.SubmitChunk(silence(10))
	oldEpisode := s.episode
	s.Stop()

	states := recordStates(s)
	s.unitEnded(oldEpisode, 1)
	if len(*states) != 0 || s.ended != 0 {
		t.Errorf("stale ended callback changed state: %v", *states)
	}
}

func pcm(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestSchedulerEmptyChunkStartsNothing(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty payload", nil},
		{"lone odd byte", []byte{0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dev := newTestScheduler(t)
			states := recordStates(s)

			s.BeginLoading()
			if err := s.SubmitChunk(tt.data); err != nil {
				t.Fatalf("submit failed: %v", err)
			}

			if s.State() != StateLoading {
				t.Errorf("expected loading, got %v", s.State())
			}
			if s.Outstanding() != 0 || len(dev.Placements()) != 0 {
				t.Errorf("nothing should be scheduled, got %d units", s.Outstanding())
			}

			s.Stop()
			assertStates(t, *states, []PlayerState{StateLoading, StateStopping, StateIdle})
		})
	}
}

func TestSchedulerOddByteThenSamples(t *testing.T) {
	s, dev := newTestScheduler(t)
	done := s.OnComplete()

	s.SubmitChunk([]byte{0x00})
	if s.State() != StateIdle {
		t.Fatalf("expected idle before any samples, got %v", s.State())
	}
	s.SubmitChunk([]byte{0x40, 0x00, 0x40})

	placements := dev.Placements()
	if len(placements) != 1 || placements[0].Frames != 2 {
		t.Fatalf("expected one 2-frame unit, got %+v", placements)
	}
	dev.Advance(2)
	if !done.Settled() || s.State() != StateIdle {
		t.Errorf("expected drained episode, settled=%v state=%v", done.Settled(), s.State())
	}
}

func TestSchedulerHeldCaptureSpansEpisodes(t *testing.T) {
	s, dev := newTestScheduler(t)
	var wavs [][]byte
	s.EnableCapture(func(b []byte) { wavs = append(wavs, b) })
	s.HoldCapture()

	s.SubmitChunk([]byte{0x01, 0x02})
	dev.Advance(1)
	if len(wavs) != 0 {
		t.Fatal("held capture delivered on drain")
	}
	s.SubmitChunk([]byte{0x03, 0x04})
	dev.Advance(1)

	if err := s.FlushCapture(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(wavs) != 1 {
		t.Fatalf("expected one capture, got %d", len(wavs))
	}
	if !bytes.Equal(wavs[0][44:], []byte{1, 2, 3, 4}) {
		t.Errorf("capture should span both episodes, got %v", wavs[0][44:])
	}

	// Flushing again is a no-op once delivered
	s.FlushCapture()
	if len(wavs) != 1 {
		t.Errorf("capture delivered twice")
	}
}

func TestSchedulerStopDiscardsHeldCapture(t *testing.T) {
	s, dev := newTestScheduler(t)
	captured := false
	s.EnableCapture(func([]byte) { captured = true })
	s.HoldCapture()

	s.SubmitChunk(silence(10))
	dev.Advance(5)
	s.Stop()
	s.FlushCapture()

	if captured {
		t.Error("stop must discard a held capture")
	}
}
