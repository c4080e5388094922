// Package telemetry defines the logging, metrics, and tracing interfaces
// the engine's runtime packages use instead of calling fmt or the stdlib
// log package directly. A Noop implementation is provided for tests; for
// production deployments SlogLogger wraps log/slog and OtelMetrics/
// OtelTracer bridge to OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
)

type (
	// Logger emits structured, leveled log messages. Keyvals follow the
	// slog convention: alternating key, value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. Tags follow the
	// alternating key, value convention used by Logger.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans for a named operation.
	Tracer interface {
		Start(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is the subset of an OpenTelemetry span this module needs.
	Span interface {
		End()
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error)
	}
)
