// Package toolregistry implements the per-task isolated tool catalog and
// validated dispatcher described in spec.md §4.2. Each Task constructs its
// own Registry and Executor (spec.md's "isolation rule": a tool registered
// for task A must never be visible to task B), modeled on the teacher's
// Client/SpecLookup/Executor split in
// runtime/toolregistry/executor/executor.go, collapsed from a remote
// registry-gateway dispatch into a local in-process call since this
// module has no service-mesh layer.
package toolregistry

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// RetryPolicy configures Executor retry behavior for a single ToolCall.
// Retries only ever apply to transport-level failures (spec.md §4.2).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// BackoffFunc returns the delay to wait before retry attempt n (1-based).
type BackoffFunc func(attempt int) (delaySeconds float64)

// DefaultRetryPolicy retries twice with a short linearly growing backoff
// (0.5 s before the second attempt, 1 s before the third), matching the
// teacher's default transport-retry posture in await_errors.go-adjacent
// client code (no policy configured means a small bounded retry, not zero
// and not unbounded).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(attempt int) float64 { return float64(attempt) * 0.5 },
	}
}

// Method is a single invocable capability. Name must be unique within a
// Registry. Schema is the raw JSON Schema document describing Args, the
// same shape the teacher's registry service validates payloads against
// (registry/service.go's validatePayloadJSONAgainstSchema). Handlers are
// responsible for their own business-error reporting (returned as Output
// carrying a tool-defined failure shape, not a Go error) — a Go error
// return from Handler is always treated as a transport-level failure
// eligible for retry.
type Method struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
	Retry       RetryPolicy
	Timeout     float64 // seconds; 0 means DefaultCallTimeout
}

// Tool groups one or more related Methods under a single registration
// call, mirroring the teacher's toolset grouping (spec.md: "a tool exposes
// one or more named methods").
type Tool interface {
	Methods() []Method
}

// Schema is the LLM-facing description of a method: name, description,
// and its JSON Schema parameters, as returned by Registry.Schemas.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GenerateSchema builds a JSON Schema document from a Go struct's field
// tags using invopop/jsonschema, for tools whose argument shape is a
// concrete struct rather than a hand-written schema document.
func GenerateSchema(v any) (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	return json.Marshal(reflector.Reflect(v))
}
