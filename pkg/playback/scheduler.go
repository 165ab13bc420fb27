// ABOUTME: Gapless playback scheduler for streamed speech chunks
// ABOUTME: Places each chunk at the previous chunk's end on the device clock
package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/output"
	"github.com/charmbracelet/log"
)

// Observer receives scheduling events, typically to record metrics
type Observer interface {
	ChunkScheduled(frames int, late bool)
	EpisodeEnded(natural bool, played time.Duration)
}

// Config configures a Scheduler
type Config struct {
	Device   output.Device
	Format   audio.Format // defaults to audio.SpeechFormat
	Observer Observer
	Logger   *log.Logger
}

// SchedulerStats tracks scheduler metrics
type SchedulerStats struct {
	Received  int64
	Scheduled int64
	Played    int64
	Late      int64
	Halted    int64
}

// PlaybackUnit is one decoded chunk placed on the device clock
type PlaybackUnit struct {
	id     uint64
	start  int64
	frames int
	voice  output.Voice
}

// StartFrame returns the device frame the unit starts at
func (u *PlaybackUnit) StartFrame() int64 { return u.start }

// Frames returns the unit length
func (u *PlaybackUnit) Frames() int { return u.frames }

// Scheduler turns an ordered stream of PCM chunks into gapless playback.
// It is not safe for concurrent use: every method, and the device's ended
// callbacks, must run on the same event loop.
type Scheduler struct {
	device  output.Device
	format  audio.Format
	decoder *decode.PCMDecoder
	logger  *log.Logger
	obs     Observer

	state     PlayerState
	listeners Listeners

	// Episode bookkeeping: an episode runs from the first chunk after idle
	// until natural drain or stop.
	episode    uint64
	started    bool
	manualStop bool
	origin     int64
	nextStart  int64
	units      map[uint64]*PlaybackUnit
	nextUnitID uint64
	created    int
	ended      int

	completion *Completion
	capture    capture

	stats SchedulerStats
}

// NewScheduler creates a scheduler bound to a device
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Device == nil {
		return nil, errors.New("scheduler requires an output device")
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.SpeechFormat
	}
	if cfg.Format.Channels != 1 {
		return nil, fmt.Errorf("unsupported channel count: %d (supported: 1)", cfg.Format.Channels)
	}
	if cfg.Device.SampleRate() != cfg.Format.SampleRate {
		return nil, fmt.Errorf("device rate %d does not match stream rate %d",
			cfg.Device.SampleRate(), cfg.Format.SampleRate)
	}

	decoder, err := decode.NewPCM(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = log.WithPrefix("scheduler")
	}

	return &Scheduler{
		device:  cfg.Device,
		format:  cfg.Format,
		decoder: decoder,
		logger:  cfg.Logger,
		obs:     cfg.Observer,
		state:   StateIdle,
		units:   make(map[uint64]*PlaybackUnit),
		capture: capture{format: cfg.Format},
	}, nil
}

// State returns the current player state
func (s *Scheduler) State() PlayerState {
	return s.state
}

// Subscribe registers fn for every future state transition
func (s *Scheduler) Subscribe(fn Listener) (unsubscribe func()) {
	return s.listeners.Add(fn)
}

// Stats returns a copy of the scheduler counters
func (s *Scheduler) Stats() SchedulerStats {
	return s.stats
}

// Outstanding returns the number of units scheduled and not yet ended
func (s *Scheduler) Outstanding() int {
	return len(s.units)
}

// Units returns the outstanding units in no particular order
func (s *Scheduler) Units() []*PlaybackUnit {
	units := make([]*PlaybackUnit, 0, len(s.units))
	for _, u := range s.units {
		units = append(units, u)
	}
	return units
}

// NextStart returns the frame the next chunk will start at
func (s *Scheduler) NextStart() int64 {
	return s.nextStart
}

// Scheduled returns the length of audio scheduled in the current episode
func (s *Scheduler) Scheduled() time.Duration {
	if !s.started {
		return 0
	}
	return audio.FramesToDuration(s.nextStart-s.origin, s.format.SampleRate)
}

// BeginLoading marks the scheduler as waiting for its first chunk
func (s *Scheduler) BeginLoading() {
	if s.state == StateIdle {
		s.setState(StateLoading)
	}
}

// OnComplete returns the natural-completion future of the current (or next)
// episode. It resolves once every unit has ended without a stop.
func (s *Scheduler) OnComplete() *Completion {
	if s.completion == nil {
		s.completion = NewCompletion()
	}
	return s.completion
}

// EnableCapture retains raw chunks until the episode drains naturally, then
// hands the WAV container to fn. A stop discards the capture.
func (s *Scheduler) EnableCapture(fn CaptureFunc) {
	s.capture.callback = fn
}

// HoldCapture keeps an armed capture across natural drains so it spans
// several episodes. The owner delivers it with FlushCapture.
func (s *Scheduler) HoldCapture() {
	s.capture.held = true
}

// FlushCapture delivers a held capture now. It is a no-op when capture is
// not armed, for example after a stop.
func (s *Scheduler) FlushCapture() error {
	return s.capture.flush()
}

// SubmitChunk schedules one raw PCM chunk immediately after the previous one
func (s *Scheduler) SubmitChunk(data []byte) error {
	s.stats.Received++
	s.capture.append(data)

	samples, err := s.decoder.Decode(data)
	if err != nil {
		return fmt.Errorf("failed to decode chunk: %w", err)
	}
	// An empty payload or a lone odd byte starts nothing
	if len(samples) == 0 {
		return nil
	}

	if !s.started {
		s.started = true
		s.manualStop = false
		s.origin = s.device.Clock()
		s.nextStart = s.origin
		s.OnComplete()
		s.logger.Debug("Episode started", "episode", s.episode, "origin", s.origin)
	}

	if s.state == StateIdle || s.state == StateLoading {
		s.setState(StatePlaying)
	}

	now := s.device.Clock()
	late := s.nextStart < now
	if late {
		s.stats.Late++
		s.logger.Warn("Chunk arrived after its start time",
			"behind", audio.FramesToDuration(now-s.nextStart, s.format.SampleRate),
			"chunk", s.stats.Received)
	}

	s.nextUnitID++
	unit := &PlaybackUnit{
		id:     s.nextUnitID,
		start:  s.nextStart,
		frames: len(samples),
	}

	episode := s.episode
	voice, err := s.device.Schedule(samples, unit.start, func() {
		s.unitEnded(episode, unit.id)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule chunk: %w", err)
	}
	unit.voice = voice

	s.units[unit.id] = unit
	s.created++
	s.nextStart += int64(unit.frames)
	s.stats.Scheduled++

	if s.obs != nil {
		s.obs.ChunkScheduled(unit.frames, late)
	}

	if s.stats.Scheduled <= 3 {
		s.logger.Debug("Scheduled chunk",
			"unit", unit.id,
			"start", unit.start,
			"frames", unit.frames,
			"lead", audio.FramesToDuration(unit.start-now, s.format.SampleRate))
	}

	return nil
}

// Stop halts all outstanding audio and returns to idle. The completion
// future of the episode is abandoned and any capture is discarded.
func (s *Scheduler) Stop() {
	if s.state == StateIdle && !s.started && len(s.units) == 0 {
		s.capture.clear()
		return
	}

	s.manualStop = true
	s.setState(StateStopping)

	for id, unit := range s.units {
		unit.voice.Halt()
		delete(s.units, id)
		s.stats.Halted++
	}

	played := s.playedSoFar()
	s.capture.clear()
	s.completion = nil
	s.resetEpisode()

	if s.obs != nil {
		s.obs.EpisodeEnded(false, played)
	}
	s.logger.Debug("Stopped", "played", played)

	s.setState(StateIdle)
}

func (s *Scheduler) unitEnded(episode, id uint64) {
	if episode != s.episode {
		return
	}
	if _, ok := s.units[id]; !ok {
		return
	}
	delete(s.units, id)
	s.ended++
	s.stats.Played++

	if len(s.units) == 0 && s.created > 0 && s.ended == s.created && !s.manualStop {
		s.drain()
	}
}

// drain finishes an episode whose every unit played to the end
func (s *Scheduler) drain() {
	played := s.Scheduled()
	if s.decoder.Pending() > 0 {
		s.logger.Warn("Dropping incomplete trailing sample", "bytes", s.decoder.Pending())
	}

	if err := s.capture.finalize(); err != nil {
		s.logger.Error("Failed to encode capture", "error", err)
	}

	completion := s.completion
	s.completion = nil
	s.resetEpisode()

	if s.obs != nil {
		s.obs.EpisodeEnded(true, played)
	}
	s.logger.Debug("Playback drained", "played", played)

	s.setState(StateIdle)
	if completion != nil {
		completion.Resolve()
	}
}

func (s *Scheduler) playedSoFar() time.Duration {
	if !s.started {
		return 0
	}
	elapsed := min(s.device.Clock(), s.nextStart) - s.origin
	return audio.FramesToDuration(max(elapsed, 0), s.format.SampleRate)
}

func (s *Scheduler) resetEpisode() {
	s.episode++
	s.started = false
	s.created = 0
	s.ended = 0
	s.origin = 0
	s.nextStart = 0
	s.decoder.Reset()
}

func (s *Scheduler) setState(state PlayerState) {
	if s.state == state {
		return
	}
	s.state = state
	s.listeners.Notify(state)
}
