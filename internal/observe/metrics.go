// Package observe records playback metrics through OpenTelemetry and exposes
// them for Prometheus scraping.
//
// Metrics implements the observer interfaces of the scheduler, the transport
// client and the session orchestrator, so one instance can be handed to all
// three. Tests should build it with NewMetrics and an SDK ManualReader.
package observe

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
	"github.com/Resonate-Protocol/resonate-tts/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-tts/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all metrics
const meterName = "github.com/Resonate-Protocol/resonate-tts"

// Metrics holds the instruments. Safe for concurrent use.
type Metrics struct {
	ChunksReceived  metric.Int64Counter
	BytesReceived   metric.Int64Counter
	DecodeFailures  metric.Int64Counter
	ChunksScheduled metric.Int64Counter
	FramesScheduled metric.Int64Counter

	// Episodes counts ended playback episodes by attribute "outcome"
	Episodes       metric.Int64Counter
	PlayedDuration metric.Float64Histogram

	ActiveSessions metric.Int64UpDownCounter
	// SessionsEnded counts sessions by "kind" and "outcome"
	SessionsEnded metric.Int64Counter
}

var (
	_ playback.Observer = (*Metrics)(nil)
	_ protocol.Observer = (*Metrics)(nil)
	_ session.Observer  = (*Metrics)(nil)
)

// playedBuckets are histogram boundaries in seconds for utterance lengths
var playedBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80}

// NewMetrics creates all instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksReceived, err = m.Int64Counter("resonate_tts.chunks.received",
		metric.WithDescription("Audio chunks received from the synthesis backend."),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("resonate_tts.bytes.received",
		metric.WithDescription("Decoded PCM bytes received from the synthesis backend."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("resonate_tts.decode.failures",
		metric.WithDescription("Chunks whose payload could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("resonate_tts.chunks.scheduled",
		metric.WithDescription("Chunks placed on the device clock, by lateness."),
	); err != nil {
		return nil, err
	}
	if met.FramesScheduled, err = m.Int64Counter("resonate_tts.frames.scheduled",
		metric.WithDescription("Audio frames placed on the device clock."),
	); err != nil {
		return nil, err
	}
	if met.Episodes, err = m.Int64Counter("resonate_tts.episodes",
		metric.WithDescription("Ended playback episodes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlayedDuration, err = m.Float64Histogram("resonate_tts.played.duration",
		metric.WithDescription("Audio played per episode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playedBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("resonate_tts.sessions.active",
		metric.WithDescription("Playback sessions currently registered."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("resonate_tts.sessions.ended",
		metric.WithDescription("Ended playback sessions by kind and outcome."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ChunkReceived implements protocol.Observer
func (m *Metrics) ChunkReceived(bytes int) {
	ctx := context.Background()
	m.ChunksReceived.Add(ctx, 1)
	m.BytesReceived.Add(ctx, int64(bytes))
}

// DecodeFailed implements protocol.Observer
func (m *Metrics) DecodeFailed() {
	m.DecodeFailures.Add(context.Background(), 1)
}

// ChunkScheduled implements playback.Observer
func (m *Metrics) ChunkScheduled(frames int, late bool) {
	ctx := context.Background()
	m.ChunksScheduled.Add(ctx, 1, metric.WithAttributes(attribute.Bool("late", late)))
	m.FramesScheduled.Add(ctx, int64(frames))
}

// EpisodeEnded implements playback.Observer
func (m *Metrics) EpisodeEnded(natural bool, played time.Duration) {
	ctx := context.Background()
	outcome := "stopped"
	if natural {
		outcome = "drained"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Episodes.Add(ctx, 1, attrs)
	m.PlayedDuration.Record(ctx, played.Seconds(), attrs)
}

// SessionStarted implements session.Observer
func (m *Metrics) SessionStarted(kind session.Kind) {
	m.ActiveSessions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", string(kind))))
}

// SessionEnded implements session.Observer
func (m *Metrics) SessionEnded(kind session.Kind, outcome session.Outcome) {
	ctx := context.Background()
	m.ActiveSessions.Add(ctx, -1,
		metric.WithAttributes(attribute.String("kind", string(kind))))
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", string(outcome)),
	))
}
