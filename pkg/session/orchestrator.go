// ABOUTME: Session orchestrator for streaming speech playback
// ABOUTME: Stops existing work, then binds a new client and scheduler per request
package session

import (
	"context"
	"errors"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
	"github.com/Resonate-Protocol/resonate-tts/pkg/protocol"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// AssetSource fetches cached asset bytes by URL
type AssetSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Observer receives session lifecycle events, typically to record metrics
type Observer interface {
	SessionStarted(kind Kind)
	SessionEnded(kind Kind, outcome Outcome)
}

// Config configures an Orchestrator
type Config struct {
	Device output.Device

	// Dispatch posts work onto the event loop that owns the orchestrator
	Dispatch func(func())

	// Transport is the template for every session's client. Dispatch,
	// OnError and OnDone are overridden.
	Transport protocol.Config

	Assets   AssetSource
	Registry *Registry

	SchedulerObserver playback.Observer
	TransportObserver protocol.Observer
	Observer          Observer

	Logger *log.Logger
}

// Options carries per-request callbacks, all invoked on the event loop
type Options struct {
	OnStateChange playback.Listener
	OnCapture     playback.CaptureFunc
	OnComplete    func()
	OnError       func(error)
}

// Orchestrator starts and stops playback work. It is not safe for
// concurrent use; call it from the event loop only.
type Orchestrator struct {
	config   Config
	registry *Registry
	logger   *log.Logger
}

// NewOrchestrator creates an orchestrator for one output device
func NewOrchestrator(config Config) (*Orchestrator, error) {
	if config.Device == nil {
		return nil, errors.New("orchestrator requires an output device")
	}
	if config.Dispatch == nil {
		return nil, errors.New("orchestrator requires a dispatch function")
	}
	if config.Registry == nil {
		config.Registry = NewRegistry()
	}
	if config.Logger == nil {
		config.Logger = log.WithPrefix("session")
	}

	return &Orchestrator{
		config:   config,
		registry: config.Registry,
		logger:   config.Logger,
	}, nil
}

// Active returns the number of registered sessions and assets
func (o *Orchestrator) Active() int {
	return o.registry.Len()
}

// Session returns the registered session with id
func (o *Orchestrator) Session(id string) (*Session, bool) {
	return o.registry.Session(id)
}

// PlayStreamingText stops any current playback and streams text into a new
// session. It returns the session id without waiting for the connection;
// start failures are reported through opts.OnError.
func (o *Orchestrator) PlayStreamingText(ctx context.Context, text string, opts Options) (string, error) {
	o.StopAll()

	scheduler, err := o.newScheduler(opts)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		id:        uuid.New().String(),
		scheduler: scheduler,
		cancel:    cancel,
		active:    true,
	}

	transport := o.config.Transport
	transport.Dispatch = o.config.Dispatch
	transport.OnError = func(err error) { o.fail(sess, opts, err) }
	transport.OnDone = func() { o.streamDone(sess, opts) }
	if transport.Observer == nil {
		transport.Observer = o.config.TransportObserver
	}

	// One WAV for the whole stream, underruns included
	if opts.OnCapture != nil {
		scheduler.HoldCapture()
	}

	client, err := protocol.NewClient(transport, scheduler)
	if err != nil {
		cancel()
		return "", err
	}
	sess.client = client

	o.watchCompletion(sess, opts)
	o.registry.add(sess)
	o.started(KindStreaming)
	scheduler.BeginLoading()

	o.logger.Info("Session started", "session", sess.id, "chars", len(text))

	go func() {
		if err := client.GenerateSpeech(ctx, text); err != nil {
			o.config.Dispatch(func() { o.fail(sess, opts, err) })
		}
	}()

	return sess.id, nil
}

// StopAll stops the cached asset and every session, then empties the
// registry. Safe to call with nothing playing.
func (o *Orchestrator) StopAll() {
	sessions, cached := o.registry.drain()

	if cached != nil && cached.stop() {
		o.ended(KindCached, OutcomeStopped)
		o.logger.Debug("Stopped cached asset", "url", cached.url)
	}
	for _, sess := range sessions {
		if sess.stop() {
			o.ended(KindStreaming, OutcomeStopped)
			o.logger.Debug("Stopped session", "session", sess.id)
		}
	}
}

func (o *Orchestrator) newScheduler(opts Options) (*playback.Scheduler, error) {
	scheduler, err := playback.NewScheduler(playback.Config{
		Device:   o.config.Device,
		Observer: o.config.SchedulerObserver,
	})
	if err != nil {
		return nil, err
	}
	if opts.OnStateChange != nil {
		scheduler.Subscribe(opts.OnStateChange)
	}
	if opts.OnCapture != nil {
		scheduler.EnableCapture(opts.OnCapture)
	}
	return scheduler, nil
}

// watchCompletion finishes the session on natural drain. A drain while the
// stream is still open is an underrun; later chunks start a new episode.
func (o *Orchestrator) watchCompletion(sess *Session, opts Options) {
	sess.scheduler.OnComplete().Then(func(err error) {
		if err != nil || !sess.active {
			return
		}
		if sess.client.Connected() {
			o.logger.Warn("Playback drained before the stream finished", "session", sess.id)
			o.watchCompletion(sess, opts)
			return
		}
		o.complete(sess, opts)
	})
}

// streamDone handles the end of the stream. Normally audio is still playing
// and completion follows the drain.
func (o *Orchestrator) streamDone(sess *Session, opts Options) {
	if !sess.active {
		return
	}
	switch {
	case sess.client.Received() == 0:
		o.logger.Warn("Stream finished without audio", "session", sess.id)
		sess.scheduler.Stop()
		o.complete(sess, opts)
	case sess.scheduler.Outstanding() == 0:
		// Nothing left to drain, either because playback already drained or
		// because no chunk decoded to any samples
		if sess.scheduler.State() != playback.StateIdle {
			o.logger.Warn("Stream finished without playable audio", "session", sess.id)
			sess.scheduler.Stop()
		}
		o.complete(sess, opts)
	}
}

func (o *Orchestrator) complete(sess *Session, opts Options) {
	if err := sess.scheduler.FlushCapture(); err != nil {
		o.logger.Error("Failed to encode capture", "session", sess.id, "error", err)
	}

	sess.active = false
	sess.cancel()
	sess.client.Stop()
	o.registry.remove(sess)
	o.ended(KindStreaming, OutcomeCompleted)

	o.logger.Info("Session complete", "session", sess.id, "chunks", sess.client.Received())

	if opts.OnComplete != nil {
		opts.OnComplete()
	}
}

// fail ends a session after a token, connection or stream error
func (o *Orchestrator) fail(sess *Session, opts Options, err error) {
	if !sess.active {
		return
	}
	sess.err = err
	sess.stop()
	o.registry.remove(sess)
	o.ended(KindStreaming, OutcomeFailed)

	o.logger.Error("Session failed", "session", sess.id, "error", err)

	if opts.OnError != nil {
		opts.OnError(err)
	}
}

func (o *Orchestrator) started(kind Kind) {
	if o.config.Observer != nil {
		o.config.Observer.SessionStarted(kind)
	}
}

func (o *Orchestrator) ended(kind Kind, outcome Outcome) {
	if o.config.Observer != nil {
		o.config.Observer.SessionEnded(kind, outcome)
	}
}
