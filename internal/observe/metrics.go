// Package observe holds the OpenTelemetry instruments recorded by the
// pipeline, the translator and the delivery worker. A Prometheus exporter
// bridge is installed by [InitProvider] so the same numbers are scraped from
// /metrics.
//
// Every Record method is safe on a nil *Metrics, so components built without
// metrics need no special casing.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MimeLyc/livesub"

// Recognition outcomes.
const (
	OutcomeRecognized  = "recognized"
	OutcomeNoSpeech    = "no_speech"
	OutcomeUnavailable = "unavailable"
	OutcomeTimeout     = "timeout"
)

// Token outcomes of word by word translation.
const (
	TokenPreserved  = "preserved"
	TokenTranslated = "translated"
	TokenFallback   = "fallback"
)

type Metrics struct {
	// STTDuration tracks transcription latency per segment.
	STTDuration metric.Float64Histogram
	// TranslateDuration tracks latency of one TranslateLine call.
	TranslateDuration metric.Float64Histogram

	// Recognitions counts listening iterations by outcome.
	Recognitions metric.Int64Counter
	// Tokens counts tokens by outcome: preserved, translated, fallback.
	Tokens metric.Int64Counter
	// LinesPublished counts transcript lines appended.
	LinesPublished metric.Int64Counter
	// Deliveries counts mail deliveries by status.
	Deliveries metric.Int64Counter
	// Exports counts written documents by trigger (end, cron, manual).
	Exports metric.Int64Counter

	// ActiveSessions is 1 while a pipeline loop is running.
	ActiveSessions metric.Int64UpDownCounter
	// SubtitleSubscribers tracks connected SSE and websocket clients.
	SubtitleSubscribers metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("livesub.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("livesub.translate.duration",
		metric.WithDescription("Latency of translating one recognized line."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Recognitions, err = m.Int64Counter("livesub.recognitions",
		metric.WithDescription("Listening iterations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("livesub.tokens",
		metric.WithDescription("Translated tokens by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LinesPublished, err = m.Int64Counter("livesub.lines.published",
		metric.WithDescription("Transcript lines appended to the session."),
	); err != nil {
		return nil, err
	}
	if met.Deliveries, err = m.Int64Counter("livesub.deliveries",
		metric.WithDescription("Document deliveries by status."),
	); err != nil {
		return nil, err
	}
	if met.Exports, err = m.Int64Counter("livesub.exports",
		metric.WithDescription("Exported documents by trigger."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("livesub.active_sessions",
		metric.WithDescription("Number of running pipeline loops."),
	); err != nil {
		return nil, err
	}
	if met.SubtitleSubscribers, err = m.Int64UpDownCounter("livesub.subtitle_subscribers",
		metric.WithDescription("Connected subtitle stream clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) RecordRecognition(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Recognitions.Add(ctx, 1, attrs)
	if outcome != OutcomeTimeout {
		m.STTDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *Metrics) RecordTranslation(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.TranslateDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) RecordToken(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Tokens.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordLine(ctx context.Context) {
	if m == nil {
		return
	}
	m.LinesPublished.Add(ctx, 1)
}

func (m *Metrics) RecordDelivery(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordExport(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.Exports.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// SessionStarted and SessionStopped bracket a running loop.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// SubscriberDelta adjusts the subtitle subscriber gauge by n.
func (m *Metrics) SubscriberDelta(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.SubtitleSubscribers.Add(ctx, n)
}
