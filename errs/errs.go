// Package errs defines the error taxonomy shared across the orchestration
// engine. Errors are distinguished by Kind, not by string matching, and
// support errors.Is/errors.As through a causal chain.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the distinct error categories the engine can surface.
// Each Kind corresponds to a specific failure mode documented by the
// component that raises it.
type Kind string

const (
	// KindPlanInvalid indicates a cyclic dependency graph, an unknown agent
	// reference, or a malformed plan item.
	KindPlanInvalid Kind = "plan_invalid"
	// KindPlanGenerationFailed indicates the planning Brain could not
	// produce a valid plan within the bounded repair budget.
	KindPlanGenerationFailed Kind = "plan_generation_failed"
	// KindAgentUnknown indicates a plan references an agent absent from the
	// team configuration.
	KindAgentUnknown Kind = "agent_unknown"
	// KindBrainUnavailable indicates a transport failure to the Brain that
	// persisted past the retry budget.
	KindBrainUnavailable Kind = "brain_unavailable"
	// KindToolSchemaError indicates tool call arguments failed schema
	// validation. Recoverable: surfaced to the agent as a ToolResult.
	KindToolSchemaError Kind = "tool_schema_error"
	// KindToolExecutionError indicates a tool raised or exceeded its
	// timeout. Recoverable: surfaced to the agent as a ToolResult.
	KindToolExecutionError Kind = "tool_execution_error"
	// KindArtifactMissing indicates an agent signalled completion but a
	// declared artifact was not found in the workspace.
	KindArtifactMissing Kind = "artifact_missing"
	// KindPathEscape indicates a workspace path attempted to leave the
	// task's root directory. Fatal for the call, not for the task.
	KindPathEscape Kind = "path_escape"
	// KindCancelled indicates cooperative cancellation terminated the
	// operation.
	KindCancelled Kind = "cancelled"
	// KindTimeout indicates a deadline elapsed before completion.
	KindTimeout Kind = "timeout"
)

// Error is the concrete error type raised by the engine. It carries a Kind
// for programmatic dispatch, a human-readable Message, and an optional
// Cause for error chain traversal via errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap constructs an Error of the given kind that wraps cause. If cause is
// nil, Wrap returns a nil *Error; stored in an error interface value, that
// nil pointer compares non-nil to nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	if message == "" {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/errors.As to walk
// the chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, supporting
// errors.Is(err, errs.New(errs.KindPathEscape, "")) style sentinel checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Of reports the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is an *Error of the given kind anywhere in its
// causal chain.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}

// Recoverable reports whether an error kind should be surfaced to the agent
// as a ToolResult rather than failing the PlanItem outright (spec.md §7).
func Recoverable(kind Kind) bool {
	switch kind {
	case KindToolSchemaError, KindToolExecutionError:
		return true
	default:
		return false
	}
}
