package observe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordRecognition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognition(ctx, OutcomeRecognized, 200*time.Millisecond)
	m.RecordRecognition(ctx, OutcomeRecognized, 300*time.Millisecond)
	m.RecordRecognition(ctx, OutcomeNoSpeech, 100*time.Millisecond)
	m.RecordRecognition(ctx, OutcomeTimeout, 0)

	rm := collect(t, reader)
	rec := findMetric(rm, "livesub.recognitions")
	assert.Equal(t, int64(2), sumFor(t, rec, "outcome", OutcomeRecognized))
	assert.Equal(t, int64(1), sumFor(t, rec, "outcome", OutcomeNoSpeech))
	assert.Equal(t, int64(1), sumFor(t, rec, "outcome", OutcomeTimeout))

	hist := findMetric(rm, "livesub.stt.duration")
	require.NotNil(t, hist)
	h, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count, "timeouts carry no latency")
}

func TestRecordTokensAndLines(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToken(ctx, TokenPreserved)
	m.RecordToken(ctx, TokenTranslated)
	m.RecordToken(ctx, TokenTranslated)
	m.RecordToken(ctx, TokenFallback)
	m.RecordLine(ctx)
	m.RecordDelivery(ctx, "sent")
	m.RecordExport(ctx, "end")

	rm := collect(t, reader)
	tokens := findMetric(rm, "livesub.tokens")
	assert.Equal(t, int64(2), sumFor(t, tokens, "outcome", TokenTranslated))
	assert.Equal(t, int64(1), sumFor(t, tokens, "outcome", TokenPreserved))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "livesub.lines.published"), "", ""))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "livesub.deliveries"), "status", "sent"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "livesub.exports"), "trigger", "end"))
}

func TestSessionGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.SubscriberDelta(ctx, 2)
	m.SubscriberDelta(ctx, -1)

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "livesub.active_sessions"), "", ""))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "livesub.subtitle_subscribers"), "", ""))

	m.SessionStopped(ctx)
	rm = collect(t, reader)
	assert.Equal(t, int64(0), sumFor(t, findMetric(rm, "livesub.active_sessions"), "", ""))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordRecognition(ctx, OutcomeRecognized, time.Second)
		m.RecordTranslation(ctx, time.Second)
		m.RecordToken(ctx, TokenFallback)
		m.RecordLine(ctx)
		m.RecordDelivery(ctx, "failed")
		m.RecordExport(ctx, "cron")
		m.SessionStarted(ctx)
		m.SessionStopped(ctx)
		m.SubscriberDelta(ctx, 1)
	})
}
