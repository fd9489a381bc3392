package speech

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	segments metric.Int64Histogram
	audio    metric.Float64Counter
}

func newMetrics(log *slog.Logger) *metrics {
	m, err := buildMetrics(otel.Meter("github.com/loqalabs/loqa-tts/speech"))
	if err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		m, _ = buildMetrics(noop.NewMeterProvider().Meter("noop"))
	}
	return m
}

func buildMetrics(meter metric.Meter) (*metrics, error) {
	requests, err := meter.Int64Counter("loqa.tts.requests",
		metric.WithDescription("Synthesis requests by response status"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("loqa.tts.latency",
		metric.WithDescription("End-to-end synthesis latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	segments, err := meter.Int64Histogram("loqa.tts.segments",
		metric.WithDescription("Segments produced per request"))
	if err != nil {
		return nil, err
	}
	audio, err := meter.Float64Counter("loqa.tts.audio",
		metric.WithDescription("Seconds of audio produced"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{requests: requests, latency: latency, segments: segments, audio: audio}, nil
}

func (m *metrics) record(ctx context.Context, status int, res Result, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", strconv.Itoa(status)))
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, elapsed.Seconds(), attrs)
	if status == 200 {
		m.segments.Record(ctx, int64(res.Segments))
		m.audio.Add(ctx, res.Audio.Seconds())
	}
}
