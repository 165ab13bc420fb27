// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds the mixing timeline into one persistent oto player
package output

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// DefaultBufferSize is the oto player buffer. The device clock leads what is
// audible by roughly this much.
const DefaultBufferSize = 50 * time.Millisecond

// Oto output implementation using oto library
type Oto struct {
	*Timeline
	otoCtx *oto.Context
	player *oto.Player
	logger *log.Logger
}

// OtoOptions configures the oto device
type OtoOptions struct {
	SampleRate int
	BufferSize time.Duration
	Dispatch   Dispatcher
}

// NewOto opens the host audio device. oto permits one context per process,
// so a process should open at most one Oto.
func NewOto(opts OtoOptions) (*Oto, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	op := &oto.NewContextOptions{
		SampleRate:   opts.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   opts.BufferSize,
	}

	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o := &Oto{
		Timeline: NewTimeline(opts.SampleRate, opts.Dispatch),
		otoCtx:   otoCtx,
		logger:   log.WithPrefix("oto"),
	}

	// Persistent player pulls silence or mixed voices from the timeline
	o.player = otoCtx.NewPlayer(o.Timeline)
	o.player.Play()

	o.logger.Info("Audio output initialized", "sample_rate", opts.SampleRate, "buffer", opts.BufferSize)

	return o, nil
}

// Close releases output resources
func (o *Oto) Close() error {
	o.Timeline.Close()
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			o.logger.Warn("Failed to close player", "error", err)
		}
		o.player = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}
