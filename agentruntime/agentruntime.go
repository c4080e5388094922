// Package agentruntime drives a single agent's bounded tool-call loop
// (spec.md §4.5): call the Brain, dispatch any requested tool calls
// concurrently through the Executor, feed results back, and repeat until
// the Brain returns terminal text or the round budget is exhausted.
//
// The concurrent-dispatch-then-gather shape is grounded on
// evoclaw/internal/orchestrator/toolloop.go's executeParallel: a fast path
// for a single call, and an errgroup.WithContext fan-out with pre-allocated
// result slots (no mutex needed) for more than one. Cooperative
// cancellation between rounds mirrors the teacher's
// runtime/agent/runtime/workflow_await_queue.go pattern of observing
// cancellation between awaited futures rather than pre-empting in flight
// work.
package agentruntime

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conductorrun/conductor/brain"
	"github.com/conductorrun/conductor/errs"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/telemetry"
	"github.com/conductorrun/conductor/toolregistry"
	"github.com/conductorrun/conductor/workspace"
)

// DefaultMaxToolRounds bounds how many Brain↔tool round trips a single Step
// performs before forcing a terminal answer (spec.md §4.5: "default 10").
const DefaultMaxToolRounds = 10

// DefaultSpillThreshold is the tool-result size above which a result is
// spilled to the Workspace and replaced in the conversation with a
// reference, rather than inlined (one of spec.md §9's Open Questions,
// resolved in SPEC_FULL.md §4.6 as a 32KiB default).
const DefaultSpillThreshold = 32 * 1024

// Executor is the subset of toolregistry.Executor a Runtime needs. Kept as
// an interface so tests can substitute a fake without a real Registry.
type Executor interface {
	Execute(ctx context.Context, call toolregistry.Call) toolregistry.Result
}

// Runtime drives one agent's tool-call loop.
type Runtime struct {
	AgentName     string
	Brain         brain.Brain
	Executor      Executor
	Schemas       []toolregistry.Schema
	Bus           *eventbus.Bus
	Logger        telemetry.Logger
	Tracer        telemetry.Tracer
	MaxToolRounds int

	Workspace      workspace.Workspace // optional; nil disables result spilling
	SpillThreshold int
}

// Option configures a Runtime.
type Option func(*Runtime)

func WithLogger(l telemetry.Logger) Option { return func(r *Runtime) { r.Logger = l } }
func WithTracer(t telemetry.Tracer) Option { return func(r *Runtime) { r.Tracer = t } }
func WithMaxToolRounds(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.MaxToolRounds = n
		}
	}
}

// WithResultSpilling enables spilling tool results larger than threshold to
// ws as an artifact, replacing the conversation entry with a reference
// (spec.md §9 Open Question, resolved in SPEC_FULL.md §4.6). threshold<=0
// uses DefaultSpillThreshold.
func WithResultSpilling(ws workspace.Workspace, threshold int) Option {
	return func(r *Runtime) {
		r.Workspace = ws
		if threshold > 0 {
			r.SpillThreshold = threshold
		} else {
			r.SpillThreshold = DefaultSpillThreshold
		}
	}
}

// New constructs a Runtime for a single named agent.
func New(agentName string, b brain.Brain, executor Executor, schemas []toolregistry.Schema, bus *eventbus.Bus, opts ...Option) *Runtime {
	r := &Runtime{
		AgentName:     agentName,
		Brain:         b,
		Executor:      executor,
		Schemas:       schemas,
		Bus:           bus,
		Logger:        telemetry.NewNoopLogger(),
		Tracer:        telemetry.NewNoopTracer(),
		MaxToolRounds: DefaultMaxToolRounds,
		SpillThreshold: DefaultSpillThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ToolRound records one round trip of a Step's tool-call loop: the calls
// the Brain requested and the Executor's result for each, in request
// order. Callers that persist a per-agent conversation (the orchestrator
// package's dispatchItem) replay these into their own history representation
// instead of discarding them with everything but the final text.
type ToolRound struct {
	ToolCalls []brain.ToolCall
	Results   []toolregistry.Result
}

// StepResult is the outcome of one bounded tool-call loop.
type StepResult struct {
	Final        brain.Message
	Rounds       int
	BudgetForced bool
	ToolRounds   []ToolRound
}

// Step runs the algorithm in spec.md §4.5: call the Brain; if it asks for
// tool calls, dispatch them concurrently, append results, and loop; once
// it returns terminal text (or the round budget is exhausted and a
// tools-disabled call is forced), return the final assistant message.
func (r *Runtime) Step(ctx context.Context, systemPrompt string, history []brain.Message) (StepResult, error) {
	ctx, span := r.Tracer.Start(ctx, "agentruntime.step")
	defer span.End()

	messages := append([]brain.Message(nil), history...)
	roundsLeft := r.MaxToolRounds
	rounds := 0
	var toolRounds []ToolRound

	for {
		if err := ctx.Err(); err != nil {
			return StepResult{}, errs.Wrap(errs.KindCancelled, "agent step cancelled", err)
		}

		schemas := r.Schemas
		budgetForced := roundsLeft <= 0
		if budgetForced {
			schemas = nil
			messages = append(messages, brain.Message{
				Role: brain.RoleSystem,
				Text: "tool-call budget exhausted; respond with a final textual answer",
			})
		}

		resp, err := r.Brain.Generate(ctx, messages, schemas, systemPrompt)
		if err != nil {
			r.Bus.Publish(eventbus.KindTaskUpdate, map[string]any{"status": "error", "agent": r.AgentName})
			return StepResult{}, errs.Wrap(errs.KindBrainUnavailable, "brain generation failed", err)
		}

		if resp.IsTerminal() || budgetForced {
			final := brain.Message{Role: brain.RoleAssistant, AgentName: r.AgentName, Text: resp.Text}
			r.Bus.Publish(eventbus.KindMessage, final)
			return StepResult{Final: final, Rounds: rounds, BudgetForced: budgetForced, ToolRounds: toolRounds}, nil
		}

		assistantTurn := brain.Message{Role: brain.RoleAssistant, AgentName: r.AgentName, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantTurn)

		for _, tc := range resp.ToolCalls {
			r.Bus.Publish(eventbus.KindToolCallStart, map[string]any{"tool_call_id": tc.ID, "name": tc.Name})
		}

		results := r.dispatch(ctx, resp.ToolCalls)
		toolRounds = append(toolRounds, ToolRound{ToolCalls: resp.ToolCalls, Results: append([]toolregistry.Result(nil), results...)})
		for i, tc := range resp.ToolCalls {
			res := results[i]
			messages = append(messages, r.toolResultMessage(ctx, tc, res))
			r.Bus.Publish(eventbus.KindToolCallResult, map[string]any{
				"tool_call_id": tc.ID, "name": tc.Name, "error": res.Error,
			})
		}

		rounds++
		roundsLeft--
	}
}

// dispatch runs every call concurrently via an errgroup (evoclaw's
// executeParallel shape), writing each result into its pre-allocated
// index so no per-result mutex is needed, and takes the single-call fast
// path without spawning a goroutine at all.
func (r *Runtime) dispatch(ctx context.Context, calls []brain.ToolCall) []toolregistry.Result {
	results := make([]toolregistry.Result, len(calls))
	if len(calls) == 0 {
		return results
	}
	if len(calls) == 1 {
		results[0] = r.Executor.Execute(ctx, toolregistry.Call{ToolCallID: calls[0].ID, Name: calls[0].Name, Args: calls[0].Args})
		return results
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				results[i] = toolregistry.Result{ToolCallID: call.ID, Name: call.Name,
					Error: errs.Wrap(errs.KindCancelled, "cancelled before dispatch", gCtx.Err())}
				return nil
			default:
			}
			results[i] = r.Executor.Execute(ctx, toolregistry.Call{ToolCallID: call.ID, Name: call.Name, Args: call.Args})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// toolResultMessage turns a Result into the brain.Message fed back into
// the conversation, spilling large successful outputs to the Workspace and
// substituting a small JSON reference in their place when spilling is
// enabled (SpillThreshold > 0 and Workspace != nil).
func (r *Runtime) toolResultMessage(ctx context.Context, tc brain.ToolCall, res toolregistry.Result) brain.Message {
	text := ""
	switch {
	case res.Error != nil:
		text = res.Error.Error()
	case r.Workspace != nil && r.SpillThreshold > 0 && len(res.Output) > r.SpillThreshold:
		name := fmt.Sprintf("tool-results/%s.json", tc.ID)
		if _, err := r.Workspace.Write(ctx, name, res.Output, "application/json", "tool result spill"); err != nil {
			text = string(res.Output)
		} else {
			ref, _ := json.Marshal(map[string]string{"spilled_to": name})
			text = string(ref)
		}
	default:
		text = string(res.Output)
	}
	return brain.Message{Role: brain.RoleTool, ToolCallID: tc.ID, Text: text}
}
