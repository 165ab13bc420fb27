// ABOUTME: Tests for the session orchestrator
// ABOUTME: Drives streaming and cached playback on an event loop with a mock device
package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/internal/eventloop"
	"github.com/Resonate-Protocol/resonate-tts/internal/server"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
	"github.com/Resonate-Protocol/resonate-tts/pkg/protocol"
	"github.com/gorilla/websocket"
)

type fakeAssets struct {
	mu    sync.Mutex
	data  map[string][]byte
	err   error
	block chan struct{}
}

func (f *fakeAssets) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.data[url], nil
}

type countingObserver struct {
	started map[Kind]int
	ended   map[Outcome]int
}

func (c *countingObserver) SessionStarted(kind Kind)                { c.started[kind]++ }
func (c *countingObserver) SessionEnded(kind Kind, outcome Outcome) { c.ended[outcome]++ }

type harness struct {
	t      *testing.T
	loop   *eventloop.Loop
	device *output.Mock
	orch   *Orchestrator
	assets *fakeAssets
	obs    *countingObserver
	synth  *server.ToneSynthesizer
}

func newHarness(t *testing.T, controlURL string) *harness {
	t.Helper()

	loop := eventloop.New(0)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	synth := server.NewToneSynthesizer()
	if controlURL == "" {
		srv := server.New(server.Config{ChunkDuration: 10 * time.Millisecond, Synthesizer: synth})
		ts := httptest.NewServer(srv.Handler())
		t.Cleanup(ts.Close)
		controlURL = ts.URL + "/token"
	}

	h := &harness{
		t:      t,
		loop:   loop,
		device: output.NewMock(audio.SampleRate),
		assets: &fakeAssets{data: make(map[string][]byte)},
		obs:    &countingObserver{started: map[Kind]int{}, ended: map[Outcome]int{}},
		synth:  synth,
	}

	orch, err := NewOrchestrator(Config{
		Device:    h.device,
		Dispatch:  loop.Post,
		Transport: protocol.Config{ControlURL: controlURL},
		Assets:    h.assets,
		Observer:  h.obs,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	h.orch = orch
	return h
}

// do runs fn on the loop
func (h *harness) do(fn func()) {
	h.t.Helper()
	err := h.loop.Call(context.Background(), func() error {
		fn()
		return nil
	})
	if err != nil {
		h.t.Fatalf("loop call failed: %v", err)
	}
}

// until polls cond on the loop
func (h *harness) until(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		h.do(func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

// stateLog records transitions; written and read on the loop only
type stateLog struct {
	states []playback.PlayerState
}

func (s *stateLog) record(st playback.PlayerState) {
	s.states = append(s.states, st)
}

func (s *stateLog) last() playback.PlayerState {
	if len(s.states) == 0 {
		return playback.StateIdle
	}
	return s.states[len(s.states)-1]
}

func TestStopAllOnFreshRegistry(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1/token")
	h.do(func() {
		h.orch.StopAll()
		h.orch.StopAll()
		if h.orch.Active() != 0 {
			t.Errorf("expected empty registry, got %d", h.orch.Active())
		}
	})
	if len(h.obs.ended) != 0 {
		t.Errorf("no work should have ended: %v", h.obs.ended)
	}
}

func TestNewOrchestratorValidation(t *testing.T) {
	if _, err := NewOrchestrator(Config{Dispatch: func(func()) {}}); err == nil {
		t.Error("expected error without device")
	}
	if _, err := NewOrchestrator(Config{Device: output.NewMock(audio.SampleRate)}); err == nil {
		t.Error("expected error without dispatch")
	}
}

func TestStreamingPlaysToCompletion(t *testing.T) {
	h := newHarness(t, "")

	var (
		id       string
		log      stateLog
		captured []byte
		done     bool
	)
	h.do(func() {
		var err error
		id, err = h.orch.PlayStreamingText(context.Background(), "hi", Options{
			OnStateChange: log.record,
			OnCapture:     func(wav []byte) { captured = wav },
			OnComplete:    func() { done = true },
			OnError:       func(err error) { t.Errorf("unexpected error: %v", err) },
		})
		if err != nil {
			t.Errorf("play failed: %v", err)
		}
		if log.last() != playback.StateLoading {
			t.Errorf("expected loading immediately, got %v", log.last())
		}
		if h.orch.Active() != 1 {
			t.Errorf("expected one active session, got %d", h.orch.Active())
		}
	})

	expected := h.synth.Synthesize("hi", audio.SampleRate)
	wantChunks := int64((len(expected) + 440) / 441)

	// Let the whole stream arrive before the device clock moves
	h.until("stream delivered", func() bool {
		sess, ok := h.orch.Session(id)
		return ok && sess.Client().Received() == wantChunks && !sess.Client().Connected()
	})

	h.do(func() {
		sess, _ := h.orch.Session(id)
		if sess.State() != playback.StatePlaying {
			t.Errorf("expected playing, got %v", sess.State())
		}
		if got := sess.Scheduler().NextStart(); got != int64(len(expected)) {
			t.Errorf("expected cursor at %d, got %d", len(expected), got)
		}
	})

	h.until("completion", func() bool {
		h.device.Advance(4410)
		return done
	})

	h.do(func() {
		if h.orch.Active() != 0 {
			t.Errorf("completed session still registered")
		}
		if _, ok := h.orch.Session(id); ok {
			t.Error("session lookup should fail after completion")
		}
		if log.last() != playback.StateIdle {
			t.Errorf("expected idle, got %v", log.last())
		}
	})

	want := encode.SpeechWAV(encode.PCM16(expected))
	if !bytes.Equal(captured, want) {
		t.Errorf("capture differs: got %d bytes, want %d", len(captured), len(want))
	}
	if h.obs.started[KindStreaming] != 1 || h.obs.ended[OutcomeCompleted] != 1 {
		t.Errorf("unexpected lifecycle counts: %v %v", h.obs.started, h.obs.ended)
	}
}

func TestStreamingReplacesPreviousSession(t *testing.T) {
	h := newHarness(t, "")

	var first, second string
	var firstLog stateLog
	firstDone := false

	h.do(func() {
		first, _ = h.orch.PlayStreamingText(context.Background(), "abc", Options{
			OnStateChange: firstLog.record,
			OnComplete:    func() { firstDone = true },
		})
	})
	h.until("first session playing", func() bool {
		return firstLog.last() == playback.StatePlaying
	})

	var firstSess *Session
	h.do(func() {
		firstSess, _ = h.orch.Session(first)
		second, _ = h.orch.PlayStreamingText(context.Background(), "d", Options{})

		if firstSess.Active() {
			t.Error("first session should be stopped")
		}
		if firstSess.State() != playback.StateIdle || firstSess.Scheduler().Outstanding() != 0 {
			t.Errorf("first session not torn down: %v, %d units", firstSess.State(), firstSess.Scheduler().Outstanding())
		}
		if firstSess.Client().Active() {
			t.Error("first client should ignore further messages")
		}
		if h.orch.Active() != 1 {
			t.Errorf("expected exactly one active session, got %d", h.orch.Active())
		}
		if _, ok := h.orch.Session(second); !ok {
			t.Error("second session not registered")
		}
	})

	h.until("second session done", func() bool {
		h.device.Advance(4410)
		return h.orch.Active() == 0
	})
	if firstDone {
		t.Error("stopped session must not complete")
	}
	if h.obs.ended[OutcomeStopped] != 1 || h.obs.ended[OutcomeCompleted] != 1 {
		t.Errorf("unexpected outcomes: %v", h.obs.ended)
	}
}

func TestStreamingStartFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	h := newHarness(t, ts.URL)

	var (
		id     string
		log    stateLog
		gotErr error
	)
	h.do(func() {
		id, _ = h.orch.PlayStreamingText(context.Background(), "hi", Options{
			OnStateChange: log.record,
			OnError:       func(err error) { gotErr = err },
		})
	})
	h.until("error", func() bool { return gotErr != nil })

	if !errors.Is(gotErr, protocol.ErrToken) {
		t.Errorf("expected ErrToken, got %v", gotErr)
	}
	h.do(func() {
		if h.orch.Active() != 0 {
			t.Error("failed session still registered")
		}
		if _, ok := h.orch.Session(id); ok {
			t.Error("failed session lookup should fail")
		}
		if log.last() != playback.StateIdle {
			t.Errorf("expected idle after failure, got %v", log.last())
		}
	})
	if h.obs.ended[OutcomeFailed] != 1 {
		t.Errorf("expected one failure, got %v", h.obs.ended)
	}
}

func TestStopAllDuringConnect(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		http.Error(w, "late", http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	defer close(release)
	h := newHarness(t, ts.URL)

	errs := 0
	var sess *Session
	h.do(func() {
		id, _ := h.orch.PlayStreamingText(context.Background(), "hi", Options{
			OnError: func(error) { errs++ },
		})
		sess, _ = h.orch.Session(id)
		h.orch.StopAll()
	})

	time.Sleep(50 * time.Millisecond)
	h.do(func() {
		if sess.Active() || sess.Err() != nil {
			t.Errorf("stopped session changed after stop: active=%v err=%v", sess.Active(), sess.Err())
		}
		if errs != 0 {
			t.Errorf("stop must not report an error, got %d", errs)
		}
	})
}

func stereoWAV(t *testing.T, rate, frames int) []byte {
	t.Helper()
	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	data, err := encode.WAV(encode.PCM16(samples), audio.Format{Codec: "pcm", SampleRate: rate, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("failed to build wav: %v", err)
	}
	return data
}

func TestCachedAssetPlays(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1/token")
	h.assets.data["chime.wav"] = stereoWAV(t, 22050, 2205)

	var (
		result *playback.Completion
		log    stateLog
	)
	h.do(func() {
		var err error
		result, err = h.orch.PlayCachedAsset(context.Background(), "chime.wav", Options{OnStateChange: log.record})
		if err != nil {
			t.Errorf("play failed: %v", err)
		}
	})
	h.until("asset playing", func() bool { return log.last() == playback.StatePlaying })

	placements := h.device.Placements()
	if len(placements) != 1 {
		t.Fatalf("expected one placement, got %d", len(placements))
	}
	if f := placements[0].Frames; f < 4408 || f > 4412 {
		t.Errorf("expected about 4410 resampled frames, got %d", f)
	}

	h.do(func() { h.device.Advance(4500) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := result.Wait(ctx); err != nil {
		t.Fatalf("expected natural completion, got %v", err)
	}
	h.do(func() {
		if h.orch.Active() != 0 {
			t.Error("asset still registered after completion")
		}
		if log.last() != playback.StateIdle {
			t.Errorf("expected idle, got %v", log.last())
		}
	})
}

func TestCachedAssetStopRejects(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1/token")
	h.assets.data["a.wav"] = stereoWAV(t, audio.SampleRate, 4410)

	var result *playback.Completion
	h.do(func() {
		result, _ = h.orch.PlayCachedAsset(context.Background(), "a.wav", Options{})
	})
	h.until("asset playing", func() bool { return h.device.Active() == 1 })

	h.do(func() {
		h.orch.StopAll()
		if h.device.Active() != 0 {
			t.Error("voice not halted")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := result.Wait(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestCachedAssetLoadError(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1/token")
	h.assets.err = errors.New("not found")

	var result *playback.Completion
	var gotErr error
	h.do(func() {
		result, _ = h.orch.PlayCachedAsset(context.Background(), "missing.wav", Options{
			OnError: func(err error) { gotErr = err },
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := result.Wait(ctx)
	if err == nil || errors.Is(err, ErrStopped) {
		t.Fatalf("expected load error, got %v", err)
	}
	h.do(func() {
		if gotErr == nil {
			t.Error("OnError not called")
		}
		if h.orch.Active() != 0 {
			t.Error("failed asset still registered")
		}
	})
}

func TestCachedAssetUndecodable(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1/token")
	h.assets.data["junk"] = []byte("definitely not audio")

	var result *playback.Completion
	h.do(func() {
		result, _ = h.orch.PlayCachedAsset(context.Background(), "junk", Options{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := result.Wait(ctx); err == nil {
		t.Error("expected decode failure")
	}
}

func TestStreamingStopsCachedAsset(t *testing.T) {
	h := newHarness(t, "")
	h.assets.block = make(chan struct{})
	defer close(h.assets.block)

	var result *playback.Completion
	h.do(func() {
		result, _ = h.orch.PlayCachedAsset(context.Background(), "slow.wav", Options{})
		h.orch.PlayStreamingText(context.Background(), "a", Options{})

		if h.orch.Active() != 1 {
			t.Errorf("expected only the streaming session, got %d", h.orch.Active())
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := result.Wait(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestCachedAssetWithoutSource(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1/token")
	h.orch.config.Assets = nil
	h.do(func() {
		if _, err := h.orch.PlayCachedAsset(context.Background(), "x", Options{}); !errors.Is(err, ErrNoAssets) {
			t.Errorf("expected ErrNoAssets, got %v", err)
		}
	})
}

// scriptedBackend issues tokens and runs script on each stream
func scriptedBackend(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.TokenResponse{URL: "/stream"})
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req protocol.GenerationRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		script(conn)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL + "/token"
}

func sendChunk(conn *websocket.Conn, pcm []byte) {
	conn.WriteJSON(protocol.ServerMessage{
		Type: protocol.TypeChunk,
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

func TestStreamingWithoutPlayableAudioCompletes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty chunk", ""},
		{"lone odd byte", "AQ=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := scriptedBackend(t, func(conn *websocket.Conn) {
				conn.WriteJSON(protocol.ServerMessage{Type: protocol.TypeChunk, Data: tt.data})
				conn.WriteJSON(protocol.ServerMessage{Type: protocol.TypeDone})
				time.Sleep(100 * time.Millisecond)
			})
			h := newHarness(t, url)

			var (
				log    stateLog
				done   bool
				gotErr error
			)
			h.do(func() {
				h.orch.PlayStreamingText(context.Background(), "hi", Options{
					OnStateChange: log.record,
					OnComplete:    func() { done = true },
					OnError:       func(err error) { gotErr = err },
				})
			})
			h.until("session finished", func() bool {
				return h.orch.Active() == 0
			})

			h.do(func() {
				if !done || gotErr != nil {
					t.Errorf("expected completion, done=%v err=%v", done, gotErr)
				}
				if log.last() != playback.StateIdle {
					t.Errorf("expected idle, got %v", log.last())
				}
			})
			if h.obs.ended[OutcomeCompleted] != 1 {
				t.Errorf("unexpected outcomes: %v", h.obs.ended)
			}
		})
	}
}

func TestStreamingCaptureSpansUnderrun(t *testing.T) {
	first := encode.PCM16(make([]int16, 441))
	second := make([]int16, 441)
	for i := range second {
		second[i] = int16(i)
	}
	secondPCM := encode.PCM16(second)

	release := make(chan struct{})
	url := scriptedBackend(t, func(conn *websocket.Conn) {
		sendChunk(conn, first)
		select {
		case <-release:
		case <-time.After(5 * time.Second):
			return
		}
		sendChunk(conn, secondPCM)
		conn.WriteJSON(protocol.ServerMessage{Type: protocol.TypeDone})
		time.Sleep(100 * time.Millisecond)
	})
	h := newHarness(t, url)

	var (
		id       string
		captured []byte
		done     bool
	)
	h.do(func() {
		id, _ = h.orch.PlayStreamingText(context.Background(), "hi", Options{
			OnCapture:  func(wav []byte) { captured = wav },
			OnComplete: func() { done = true },
		})
	})
	h.until("first chunk", func() bool {
		sess, ok := h.orch.Session(id)
		return ok && sess.Client().Received() == 1
	})

	// Drain the first chunk while the stream is still open
	h.do(func() {
		h.device.Advance(441)
		sess, ok := h.orch.Session(id)
		if !ok || sess.State() != playback.StateIdle {
			t.Errorf("expected a live session in idle after underrun")
		}
		if captured != nil || done {
			t.Error("underrun must not finish the session or deliver the capture")
		}
	})

	close(release)
	h.until("completion", func() bool {
		h.device.Advance(441)
		return done
	})

	want := encode.SpeechWAV(append(append([]byte(nil), first...), secondPCM...))
	if !bytes.Equal(captured, want) {
		t.Errorf("capture should hold both episodes: got %d bytes, want %d", len(captured), len(want))
	}
}
