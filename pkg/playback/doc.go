// ABOUTME: Playback package scheduling streamed speech on an output device
// ABOUTME: Provides Scheduler, PlayerState, Completion and WAV capture
// Package playback schedules streamed PCM chunks for gapless playback.
//
// A Scheduler keeps a cursor on the device clock. The first chunk of an
// episode starts at the device's current frame; every later chunk starts
// exactly where the previous one ends, regardless of when it arrived. An
// episode ends either naturally, when every scheduled unit has played out,
// or by Stop. Only a natural end resolves the completion future and
// delivers the optional WAV capture.
//
// The Scheduler is single-threaded: call it, and deliver the device's
// ended callbacks, from one event loop.
//
// Example:
//
//	s, err := playback.NewScheduler(playback.Config{Device: dev})
//	s.Subscribe(func(st playback.PlayerState) { log.Info("state", "state", st) })
//	done := s.OnComplete()
//	s.SubmitChunk(pcm)
package playback
