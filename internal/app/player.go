// ABOUTME: Main player application orchestration
// ABOUTME: Coordinates the event loop, audio device, sessions, metrics and UI
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/internal/assetcache"
	"github.com/Resonate-Protocol/resonate-tts/internal/config"
	"github.com/Resonate-Protocol/resonate-tts/internal/discovery"
	"github.com/Resonate-Protocol/resonate-tts/internal/eventloop"
	"github.com/Resonate-Protocol/resonate-tts/internal/observe"
	"github.com/Resonate-Protocol/resonate-tts/internal/ui"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
	"github.com/Resonate-Protocol/resonate-tts/pkg/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const statusInterval = 100 * time.Millisecond

// DeviceFactory opens the output device; dispatch delivers its callbacks
// onto the event loop
type DeviceFactory func(dispatch output.Dispatcher) (output.Device, error)

// Config holds player configuration
type Config struct {
	Settings    config.Config
	UseTUI      bool
	CapturePath string        // WAV written after natural completion
	NewDevice   DeviceFactory // defaults to the host audio device
}

// Request selects what to play
type Request struct {
	Text     string
	AssetURL string
}

// Player represents the main player application
type Player struct {
	config   Config
	loop     *eventloop.Loop
	device   output.Device
	orch     *session.Orchestrator
	provider *observe.Provider
	tuiProg  *tea.Program
	controls *ui.Controls
	logger   *log.Logger

	controlURL string

	// Owned by the event loop
	last      Request
	sessionID string
	result    chan error
}

// New creates a new player
func New(cfg Config) *Player {
	if cfg.NewDevice == nil {
		cfg.NewDevice = func(dispatch output.Dispatcher) (output.Device, error) {
			dev, err := output.NewOto(output.OtoOptions{
				SampleRate: audio.SampleRate,
				BufferSize: cfg.Settings.Buffer,
				Dispatch:   dispatch,
			})
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	}

	return &Player{
		config: cfg,
		loop:   eventloop.New(eventloop.DefaultQueueSize),
		logger: log.WithPrefix("player"),
		result: make(chan error, 1),
	}
}

// Run plays req and returns once it finishes. With the TUI enabled it keeps
// running until the user quits.
func (p *Player) Run(ctx context.Context, req Request) error {
	if req.Text == "" && req.AssetURL == "" {
		return errors.New("nothing to play")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.Text != "" {
		url, err := p.resolveControlURL(ctx)
		if err != nil {
			return err
		}
		p.controlURL = url
	}

	defer p.teardown()
	if err := p.setup(); err != nil {
		return err
	}

	if p.config.UseTUI {
		p.controls = ui.NewControls()
		prog, err := ui.Run(p.controls)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		p.tuiProg = prog
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.loop.Run(gctx)
	})

	if addr := p.config.Settings.MetricsAddr; addr != "" {
		g.Go(func() error {
			return p.provider.Serve(gctx, addr)
		})
	}

	if p.config.UseTUI {
		prog := p.tuiProg
		g.Go(func() error {
			_, err := prog.Run()
			cancel()
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			prog.Quit()
			return nil
		})
		g.Go(func() error {
			p.handleControls(gctx, cancel)
			return nil
		})
		g.Go(func() error {
			prog.Send(ui.StatusMsg{ControlURL: p.controlURL, Volume: p.config.Settings.Volume})
			p.statusLoop(gctx)
			return nil
		})
	}

	var playErr error
	g.Go(func() error {
		err := p.loop.Call(gctx, func() error {
			return p.start(gctx, req)
		})
		if err != nil {
			playErr = err
			cancel()
			return nil
		}

		select {
		case playErr = <-p.result:
		case <-gctx.Done():
			return nil
		}
		if !p.config.UseTUI {
			cancel()
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if playErr != nil {
		return playErr
	}
	return err
}

// resolveControlURL uses the configured endpoint or finds one over mDNS
func (p *Player) resolveControlURL(ctx context.Context) (string, error) {
	if url := p.config.Settings.ControlURL; url != "" {
		return url, nil
	}

	p.logger.Info("No control URL configured, browsing mDNS", "timeout", p.config.Settings.DiscoverTimeout)
	mgr := discovery.NewManager(discovery.Config{})
	defer mgr.Stop()

	lookupCtx, cancel := context.WithTimeout(ctx, p.config.Settings.DiscoverTimeout)
	defer cancel()

	server, err := mgr.Lookup(lookupCtx)
	if err != nil {
		return "", err
	}
	p.logger.Info("Discovered synthesis server", "name", server.Name, "url", server.ControlURL())
	return server.ControlURL(), nil
}

func (p *Player) setup() error {
	provider, err := observe.NewProvider("resonate-tts")
	if err != nil {
		return fmt.Errorf("failed to create metrics provider: %w", err)
	}
	p.provider = provider

	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	assets, err := assetcache.New(assetcache.Config{Dir: p.config.Settings.AssetDir})
	if err != nil {
		return err
	}

	device, err := p.config.NewDevice(p.loop.Post)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	p.device = device
	p.applyVolume(p.config.Settings.Volume, false)

	transport := p.config.Settings.TransportConfig()
	transport.ControlURL = p.controlURL

	orch, err := session.NewOrchestrator(session.Config{
		Device:            device,
		Dispatch:          p.loop.Post,
		Transport:         transport,
		Assets:            assets,
		SchedulerObserver: metrics,
		TransportObserver: metrics,
		Observer:          metrics,
	})
	if err != nil {
		return err
	}
	p.orch = orch
	return nil
}

// teardown runs after the loop has exited, so the orchestrator is safe to
// touch from here
func (p *Player) teardown() {
	if p.orch != nil {
		p.orch.StopAll()
	}
	if p.device != nil {
		if err := p.device.Close(); err != nil {
			p.logger.Warn("Failed to close audio device", "error", err)
		}
	}
	if p.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := p.provider.Shutdown(ctx); err != nil {
			p.logger.Warn("Failed to shut down metrics", "error", err)
		}
	}
}

// start begins playback; runs on the loop
func (p *Player) start(ctx context.Context, req Request) error {
	p.last = req

	opts := session.Options{
		OnStateChange: p.stateChanged,
		OnComplete: func() {
			p.logger.Info("Playback complete")
			p.sendStatus(ui.StatusMsg{Finished: true})
			p.finish(nil)
		},
		OnError: func(err error) {
			p.sendStatus(ui.StatusMsg{Err: err})
			p.finish(err)
		},
	}
	if p.config.CapturePath != "" {
		opts.OnCapture = p.writeCapture
	}

	if req.AssetURL != "" {
		if _, err := p.orch.PlayCachedAsset(ctx, req.AssetURL, opts); err != nil {
			return err
		}
		p.sessionID = ""
		p.sendStatus(ui.StatusMsg{ControlURL: p.controlURL, SessionID: "asset", Text: req.AssetURL})
		return nil
	}

	id, err := p.orch.PlayStreamingText(ctx, req.Text, opts)
	if err != nil {
		return err
	}
	p.sessionID = id
	p.sendStatus(ui.StatusMsg{ControlURL: p.controlURL, SessionID: id, Text: req.Text})
	return nil
}

// finish reports the outcome of the first playback
func (p *Player) finish(err error) {
	select {
	case p.result <- err:
	default:
	}
}

func (p *Player) stateChanged(state playback.PlayerState) {
	if p.tuiProg == nil {
		p.logger.Debug("State changed", "state", state)
		return
	}
	p.sendStatus(ui.StatusMsg{State: &state})
}

func (p *Player) writeCapture(wav []byte) {
	if err := os.WriteFile(p.config.CapturePath, wav, 0644); err != nil {
		p.logger.Error("Failed to write capture", "path", p.config.CapturePath, "error", err)
		return
	}
	p.logger.Info("Capture written", "path", p.config.CapturePath, "bytes", len(wav))
}

func (p *Player) sendStatus(msg ui.StatusMsg) {
	if p.tuiProg != nil {
		p.tuiProg.Send(msg)
	}
}

// applyVolume forwards to devices that support it
func (p *Player) applyVolume(volume int, muted bool) {
	dev, ok := p.device.(interface {
		SetVolume(int)
		SetMuted(bool)
	})
	if !ok {
		return
	}
	dev.SetVolume(volume)
	dev.SetMuted(muted)
}

// handleControls forwards TUI key commands to the loop
func (p *Player) handleControls(ctx context.Context, quit func()) {
	for {
		select {
		case msg := <-p.controls.Volume:
			p.applyVolume(msg.Volume, msg.Muted)

		case <-p.controls.Stop:
			p.loop.Post(func() {
				p.logger.Info("Stopping playback")
				p.orch.StopAll()
			})

		case <-p.controls.Replay:
			p.loop.Post(func() {
				if err := p.start(ctx, p.last); err != nil {
					p.sendStatus(ui.StatusMsg{Err: err})
				}
			})

		case <-p.controls.Quit:
			quit()
			return

		case <-ctx.Done():
			return
		}
	}
}

// statusLoop pushes scheduler stats to the TUI
func (p *Player) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var msg ui.StatusMsg
			err := p.loop.Call(ctx, func() error {
				msg = p.snapshot()
				return nil
			})
			if err != nil {
				return
			}
			p.sendStatus(msg)

		case <-ctx.Done():
			return
		}
	}
}

// snapshot reads the current session; runs on the loop
func (p *Player) snapshot() ui.StatusMsg {
	sess, ok := p.orch.Session(p.sessionID)
	if !ok {
		return ui.StatusMsg{}
	}
	sched := sess.Scheduler()
	stats := sched.Stats()
	state := sched.State()

	var ahead time.Duration
	if lead := sched.NextStart() - p.device.Clock(); state == playback.StatePlaying && lead > 0 {
		ahead = audio.FramesToDuration(lead, p.device.SampleRate())
	}

	return ui.StatusMsg{State: &state, Stats: &stats, Buffered: ahead}
}

// Stop stops all playback; safe from any goroutine
func (p *Player) Stop() {
	p.loop.Post(func() {
		if p.orch != nil {
			p.orch.StopAll()
		}
	})
}
