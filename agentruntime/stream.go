package agentruntime

import (
	"context"

	"github.com/conductorrun/conductor/brain"
	"github.com/conductorrun/conductor/errs"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/toolregistry"
)

// StreamStep behaves like Step, except that once the Brain's response is
// terminal text, that text is emitted incrementally as stream_chunk
// events (message_id + is_final), and only once the stream ends is the
// complete assistant Message appended to history and a message event
// published (spec.md §4.5 "Streaming variant").
//
// Tool-call rounds are not streamed: the Brain either asks for tools
// (handled identically to Step) or produces terminal text, which is the
// only thing streamed.
func (r *Runtime) StreamStep(ctx context.Context, messageID, systemPrompt string, history []brain.Message) (StepResult, error) {
	ctx, span := r.Tracer.Start(ctx, "agentruntime.stream_step")
	defer span.End()

	messages := append([]brain.Message(nil), history...)
	roundsLeft := r.MaxToolRounds
	rounds := 0
	var toolRounds []ToolRound

	for {
		if err := ctx.Err(); err != nil {
			return StepResult{}, errs.Wrap(errs.KindCancelled, "agent stream step cancelled", err)
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

		chunks, err := r.Brain.Stream(ctx, messages, schemas, systemPrompt)
		if err != nil {
			r.Bus.Publish(eventbus.KindTaskUpdate, map[string]any{"status": "error", "agent": r.AgentName})
			return StepResult{}, errs.Wrap(errs.KindBrainUnavailable, "brain stream failed", err)
		}

		var text string
		var toolCalls []brain.ToolCall
		var streamErr error
		for chunk := range chunks {
			switch chunk.Kind {
			case brain.ChunkText:
				text += chunk.Text
				r.Bus.Publish(eventbus.KindStreamChunk, map[string]any{
					"message_id": messageID, "text": chunk.Text, "is_final": false,
				})
			case brain.ChunkToolCalls:
				toolCalls = chunk.ToolCalls
			case brain.ChunkEnd:
				streamErr = chunk.Err
			}

			// Cooperative cancellation between streamed chunks (spec.md §4.5:
			// "between Brain-streaming chunks"), not mid-chunk.
			if ctx.Err() != nil {
				return StepResult{}, errs.Wrap(errs.KindCancelled, "agent stream step cancelled", ctx.Err())
			}
		}
		if streamErr != nil {
			r.Bus.Publish(eventbus.KindTaskUpdate, map[string]any{"status": "error", "agent": r.AgentName})
			return StepResult{}, errs.Wrap(errs.KindBrainUnavailable, "brain stream ended with an error", streamErr)
		}

		if len(toolCalls) == 0 || budgetForced {
			r.Bus.Publish(eventbus.KindStreamChunk, map[string]any{"message_id": messageID, "text": "", "is_final": true})
			final := brain.Message{Role: brain.RoleAssistant, AgentName: r.AgentName, Text: text}
			r.Bus.Publish(eventbus.KindMessage, final)
			return StepResult{Final: final, Rounds: rounds, BudgetForced: budgetForced, ToolRounds: toolRounds}, nil
		}

		assistantTurn := brain.Message{Role: brain.RoleAssistant, AgentName: r.AgentName, ToolCalls: toolCalls}
		messages = append(messages, assistantTurn)

		for _, tc := range toolCalls {
			r.Bus.Publish(eventbus.KindToolCallStart, map[string]any{"tool_call_id": tc.ID, "name": tc.Name})
		}
		results := r.dispatch(ctx, toolCalls)
		toolRounds = append(toolRounds, ToolRound{ToolCalls: toolCalls, Results: append([]toolregistry.Result(nil), results...)})
		for i, tc := range toolCalls {
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
