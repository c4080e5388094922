package toolregistry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/conductorrun/conductor/errs"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/telemetry"
)

// DefaultCallTimeout is the per-call timeout applied when a Method does
// not set its own (spec.md §4.2: "default 60 s").
const DefaultCallTimeout = 60 * time.Second

// Call is a single tool invocation request.
type Call struct {
	ToolCallID string
	Name       string
	Args       json.RawMessage
}

// Result is the outcome of executing a Call. Exactly one of Output or
// Error is meaningful: a schema, handler, timeout or cancellation failure
// is reported through Error (a tool-defined business failure arrives as
// Output, see Method), never as a Go error from Execute, so the calling agent always
// sees a ToolResult it can feed back to its Brain.
type Result struct {
	ToolCallID string
	Name       string
	Output     json.RawMessage
	Error      *errs.Error
	Duration   time.Duration
	Attempts   int
}

// stats accumulates per-method execution counters (spec.md §4.2:
// "Records every call in an execution-stats counter").
type stats struct {
	Count      int64
	ErrorCount int64
	TotalNanos int64
}

// Executor validates and dispatches Calls against a Registry, enforcing
// per-call timeouts, an optional global concurrency cap, and a retry
// policy scoped to transport failures only.
type Executor struct {
	registry    *Registry
	bus         *eventbus.Bus
	logger      telemetry.Logger
	tracer      telemetry.Tracer
	metrics     telemetry.Metrics
	concurrency chan struct{} // nil means unbounded

	statsMu sync.Mutex
	stats   map[string]*stats
}

// Option configures an Executor, following the teacher's option-function
// style (executor.Option in runtime/toolregistry/executor).
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithTracer sets the executor's tracer.
func WithTracer(t telemetry.Tracer) Option { return func(e *Executor) { e.tracer = t } }

// WithMetrics sets the executor's metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithMaxConcurrency caps the number of tool calls this Executor runs at
// once. Zero (the default) leaves concurrency unbounded within a task, per
// spec.md §4.2.
func WithMaxConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = make(chan struct{}, n)
		}
	}
}

// NewExecutor constructs an Executor bound to registry and publishing
// lifecycle events to bus.
func NewExecutor(registry *Registry, bus *eventbus.Bus, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		bus:      bus,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		metrics:  telemetry.NewNoopMetrics(),
		stats:    make(map[string]*stats),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute validates call.Args against the method's precompiled schema,
// dispatches the handler under a per-call timeout and (if configured) a
// concurrency slot, retries transport failures per the method's
// RetryPolicy, and publishes tool_call_start/tool_call_result events.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	ctx, span := e.tracer.Start(ctx, "toolregistry.execute")
	defer span.End()
	span.AddEvent("toolregistry.call_start", "name", call.Name, "tool_call_id", call.ToolCallID)

	start := time.Now()
	e.bus.Publish(eventbus.KindToolCallStart, map[string]any{
		"tool_call_id": call.ToolCallID,
		"name":         call.Name,
	})

	result := e.execute(ctx, call)
	result.Duration = time.Since(start)

	e.recordStats(call.Name, result)
	e.metrics.IncCounter("toolregistry.calls", 1, "tool", call.Name)
	e.metrics.RecordTimer("toolregistry.call_duration", result.Duration, "tool", call.Name)
	if result.Error != nil {
		e.metrics.IncCounter("toolregistry.errors", 1, "tool", call.Name)
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.bus.Publish(eventbus.KindToolCallResult, map[string]any{
		"tool_call_id": call.ToolCallID,
		"name":         call.Name,
		"error":        result.Error,
		"duration_ms":  result.Duration.Milliseconds(),
	})
	return result
}

func (e *Executor) execute(ctx context.Context, call Call) Result {
	method, ok := e.registry.Get(call.Name)
	if !ok {
		return Result{ToolCallID: call.ToolCallID, Name: call.Name,
			Error: errs.Newf(errs.KindToolSchemaError, "unknown tool %q", call.Name)}
	}

	if err := e.validateArgs(call.Name, call.Args); err != nil {
		return Result{ToolCallID: call.ToolCallID, Name: call.Name, Error: err}
	}

	timeout := DefaultCallTimeout
	if method.Timeout > 0 {
		timeout = time.Duration(method.Timeout * float64(time.Second))
	}

	policy := method.Retry
	if policy.MaxAttempts <= 0 {
		policy = RetryPolicy{MaxAttempts: 1}
	}

	var lastErr *errs.Error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if e.concurrency != nil {
			select {
			case e.concurrency <- struct{}{}:
			case <-ctx.Done():
				return Result{ToolCallID: call.ToolCallID, Name: call.Name,
					Error: errs.Wrap(errs.KindCancelled, "waiting for concurrency slot", ctx.Err()), Attempts: attempt}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := method.Handler(callCtx, call.Args)
		cancel()
		if e.concurrency != nil {
			<-e.concurrency
		}

		if err == nil {
			return Result{ToolCallID: call.ToolCallID, Name: call.Name, Output: output, Attempts: attempt}
		}

		if callCtx.Err() != nil {
			lastErr = errs.Wrap(errs.KindTimeout, "tool call exceeded its timeout", callCtx.Err())
		} else {
			lastErr = errs.Wrap(errs.KindToolExecutionError, "tool handler returned an error", err)
		}

		// Only transport-level (handler-returned Go error) failures retry;
		// schema errors never reach here and business failures are expected
		// to be reported as successful Output with a tool-defined failure
		// shape, not a Go error.
		if attempt < policy.MaxAttempts && policy.Backoff != nil {
			delay := time.Duration(policy.Backoff(attempt) * float64(time.Second))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{ToolCallID: call.ToolCallID, Name: call.Name,
					Error: errs.Wrap(errs.KindCancelled, "cancelled during retry backoff", ctx.Err()), Attempts: attempt}
			}
		}
	}

	return Result{ToolCallID: call.ToolCallID, Name: call.Name, Error: lastErr, Attempts: policy.MaxAttempts}
}

func (e *Executor) validateArgs(name string, args json.RawMessage) *errs.Error {
	compiled := e.registry.CompiledSchema(name)
	if compiled == nil {
		return nil
	}
	var data any
	if len(args) == 0 {
		data = map[string]any{}
	} else if err := json.Unmarshal(args, &data); err != nil {
		return errs.Wrap(errs.KindToolSchemaError, "tool arguments are not valid JSON", err)
	}
	if err := compiled.Validate(data); err != nil {
		return errs.Wrap(errs.KindToolSchemaError, "tool arguments failed schema validation", err)
	}
	return nil
}

func (e *Executor) recordStats(name string, r Result) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[name]
	if !ok {
		s = &stats{}
		e.stats[name] = s
	}
	s.Count++
	s.TotalNanos += r.Duration.Nanoseconds()
	if r.Error != nil {
		s.ErrorCount++
	}
}

// Stats returns a snapshot of per-method execution counters.
func (e *Executor) Stats(name string) (count, errorCount int64, totalDuration time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[name]
	if !ok {
		return 0, 0, 0
	}
	return s.Count, s.ErrorCount, time.Duration(s.TotalNanos)
}
