package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// SlogLogger delegates to log/slog for structured logging. The teacher
	// repo wraps goa.design/clue/log here; this module has no Goa service
	// layer to bind clue to, so it uses the stdlib structured logger
	// instead (see DESIGN.md).
	SlogLogger struct {
		logger *slog.Logger
	}

	// OtelMetrics delegates to an OpenTelemetry meter.
	OtelMetrics struct {
		meter    metric.Meter
		counters map[string]metric.Float64Counter
	}

	// OtelTracer delegates to an OpenTelemetry tracer.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewSlogLogger constructs a Logger backed by the given slog.Logger. If l is
// nil, slog.Default() is used.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	s.logger.DebugContext(ctx, msg, keyvals...)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	s.logger.InfoContext(ctx, msg, keyvals...)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	s.logger.WarnContext(ctx, msg, keyvals...)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	s.logger.ErrorContext(ctx, msg, keyvals...)
}

// NewOtelMetrics constructs a Metrics recorder using the named OTEL meter.
// Configure the global MeterProvider before calling this, otherwise
// measurements are discarded by the default no-op provider.
func NewOtelMetrics(instrumentationName string) Metrics {
	return &OtelMetrics{
		meter:    otel.Meter(instrumentationName),
		counters: make(map[string]metric.Float64Counter),
	}
}

func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(attrsFromTags(tags)...))
}

func (m *OtelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(attrsFromTags(tags)...))
}

func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, err := m.meter.Float64UpDownCounter(name)
	if err != nil {
		return
	}
	g.Add(context.Background(), value, metric.WithAttributes(attrsFromTags(tags)...))
}

// NewOtelTracer constructs a Tracer using the named OTEL tracer.
func NewOtelTracer(instrumentationName string) Tracer {
	return &OtelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *OtelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(name)
	_ = keyvals
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

func attrsFromTags(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
