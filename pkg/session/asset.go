// ABOUTME: Cached asset playback through the orchestrator
// ABOUTME: Fetches, decodes and plays one complete audio file
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/resample"
	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
)

// PlayCachedAsset stops any current playback and plays the asset at url.
// The returned completion resolves when the asset plays out, rejects with
// the load error, or rejects with ErrStopped if playback is stopped first.
func (o *Orchestrator) PlayCachedAsset(ctx context.Context, url string, opts Options) (*playback.Completion, error) {
	o.StopAll()

	if o.config.Assets == nil {
		return nil, ErrNoAssets
	}

	scheduler, err := o.newScheduler(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &assetHandle{
		url:       url,
		scheduler: scheduler,
		result:    playback.NewCompletion(),
		cancel:    cancel,
		active:    true,
	}

	scheduler.OnComplete().Then(func(err error) {
		if err != nil || !h.active {
			return
		}
		h.active = false
		h.cancel()
		o.registry.clearCached(h)
		o.ended(KindCached, OutcomeCompleted)
		o.logger.Info("Cached asset complete", "url", url)

		h.result.Resolve()
		if opts.OnComplete != nil {
			opts.OnComplete()
		}
	})

	o.registry.setCached(h)
	o.started(KindCached)
	scheduler.BeginLoading()

	o.logger.Info("Loading cached asset", "url", url)

	rate := o.config.Device.SampleRate()
	go func() {
		pcm, err := o.loadAsset(ctx, url, rate)
		o.config.Dispatch(func() { o.assetLoaded(h, opts, pcm, err) })
	}()

	return h.result, nil
}

func (o *Orchestrator) assetLoaded(h *assetHandle, opts Options, pcm []byte, err error) {
	if !h.active {
		return
	}
	if err == nil {
		err = h.scheduler.SubmitChunk(pcm)
	}
	if err == nil {
		return
	}

	h.active = false
	h.cancel()
	h.scheduler.Stop()
	o.registry.clearCached(h)
	o.ended(KindCached, OutcomeFailed)
	o.logger.Error("Cached asset failed", "url", h.url, "error", err)

	h.result.Reject(err)
	if opts.OnError != nil {
		opts.OnError(err)
	}
}

// loadAsset returns the asset as mono PCM16 at the device rate
func (o *Orchestrator) loadAsset(ctx context.Context, url string, rate int) ([]byte, error) {
	data, err := o.config.Assets.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}

	asset, err := decode.DecodeAsset(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode asset: %w", err)
	}
	if asset.Frames() == 0 {
		return nil, errors.New("asset contains no audio")
	}

	samples := resample.Convert(asset.Mono(), asset.Format.SampleRate, rate, 1)
	return encode.FloatPCM16(samples), nil
}
