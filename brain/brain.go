// Package brain abstracts the language-model provider the rest of the
// module treats as an external collaborator (spec.md §1, §6). The
// contract is narrowed from the teacher's fused Planner (which drives an
// entire workflow turn, selecting tools and integrating results) down to
// a single request/response generation step — turn-driving moves to
// agentruntime, matching spec.md §4.5 more closely than the teacher's
// Planner/PlanResult shape.
package brain

import (
	"context"
	"encoding/json"

	"github.com/conductorrun/conductor/toolregistry"
)

// Role identifies who authored a Message in the conversation passed to a
// Brain.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a single invocation the Brain asked the caller to perform.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Message is the wire format a Brain consumes: one turn of the
// conversation, generalized from task.Message (spec.md §3's Message,
// which carries richer ordered parts/timestamp/id for persistence) down
// to the flat shape a model API expects.
type Message struct {
	Role       Role
	AgentName  string
	Text       string
	ToolCalls  []ToolCall // set when Role == RoleAssistant and the turn requested tools
	ToolCallID string     // set when Role == RoleTool, correlates to the ToolCall.ID it answers
}

// AssistantMessage is what Generate returns: either terminal text (len(ToolCalls)==0)
// or one or more tool calls to execute before the turn can complete
// (spec.md §6: "returns either terminal text or tool_calls").
type AssistantMessage struct {
	Text      string
	ToolCalls []ToolCall
}

// IsTerminal reports whether this response ends the turn (no further tool
// calls requested).
func (m AssistantMessage) IsTerminal() bool { return len(m.ToolCalls) == 0 }

// ChunkKind identifies the kind of event delivered by Stream.
type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkToolCalls ChunkKind = "tool_calls"
	ChunkEnd       ChunkKind = "end"
)

// StreamChunk is a single increment of a streamed generation.
type StreamChunk struct {
	Kind      ChunkKind
	Text      string     // set when Kind == ChunkText
	ToolCalls []ToolCall // set when Kind == ChunkToolCalls
	Err       error      // set when the stream terminates abnormally
}

// Brain is the language-model abstraction the core consumes (spec.md §6).
// Implementations must surface transport failures distinctly from
// content-level refusals: a refusal is ordinary terminal text returned
// with a nil error; a transport failure is a non-nil error. agentruntime
// does not retry: it wraps the first non-nil error from Generate or Stream
// as errs.KindBrainUnavailable and ends the step.
type Brain interface {
	// Generate produces one assistant turn given the conversation so far,
	// the tool schemas available this turn (nil or empty disables tools),
	// and an optional system prompt override.
	Generate(ctx context.Context, messages []Message, schemas []toolregistry.Schema, systemPrompt string) (AssistantMessage, error)

	// Stream behaves like Generate but delivers the assistant's terminal
	// text incrementally. The returned channel always ends with a
	// ChunkEnd chunk (possibly carrying Err) and is then closed.
	Stream(ctx context.Context, messages []Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan StreamChunk, error)
}
