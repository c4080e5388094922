package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductorrun/conductor/brain"
)

// PartKind identifies the variant of a Part (spec.md §3 "Message... parts
// (ordered list of {text | tool_call | tool_result | attachment_ref})").
type PartKind string

const (
	PartText          PartKind = "text"
	PartToolCall       PartKind = "tool_call"
	PartToolResult     PartKind = "tool_result"
	PartAttachmentRef  PartKind = "attachment_ref"
)

// ToolCallPart names a tool the assistant invoked.
type ToolCallPart struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
}

// ToolResultPart answers a ToolCallPart with the same CallID. Per spec.md
// §3, every ToolCallPart observed in a History must be answered by exactly
// one ToolResultPart before the next assistant message (invariant 4, §8).
type ToolResultPart struct {
	CallID  string          `json:"call_id"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Part is one element of a Message's ordered content. Exactly one of the
// typed fields is populated, selected by Kind.
type Part struct {
	Kind          PartKind        `json:"kind"`
	Text          string          `json:"text,omitempty"`
	ToolCall      *ToolCallPart   `json:"tool_call,omitempty"`
	ToolResult    *ToolResultPart `json:"tool_result,omitempty"`
	AttachmentRef string          `json:"attachment_ref,omitempty"`
}

// Message is one entry in a Task's History (spec.md §3). Role reuses
// brain.Role since a Message is ultimately replayed into a Brain call as
// the AgentRuntime builds its per-agent conversation view.
type Message struct {
	ID        string      `json:"id"`
	Role      brain.Role  `json:"role"`
	AgentName string      `json:"agent_name,omitempty"`
	Parts     []Part      `json:"parts"`
	Timestamp time.Time   `json:"timestamp"`
}

// Text concatenates every text Part, the common case of rendering a
// Message for a briefing or transcript view.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// NewUserMessage constructs a user-role Message from plain text.
func NewUserMessage(text string) Message {
	return Message{ID: uuid.NewString(), Role: brain.RoleUser, Parts: []Part{{Kind: PartText, Text: text}}, Timestamp: time.Now()}
}

// NewAssistantMessage constructs an assistant-role Message from an
// AgentRuntime's terminal reply.
func NewAssistantMessage(agentName, text string) Message {
	return Message{ID: uuid.NewString(), Role: brain.RoleAssistant, AgentName: agentName,
		Parts: []Part{{Kind: PartText, Text: text}}, Timestamp: time.Now()}
}

// NewToolCallMessage constructs an assistant-role Message recording a turn
// where agentName's AgentRuntime requested one or more tool calls rather
// than returning terminal text (spec.md §3 "tool_call" Part). One Part per
// call, in request order.
func NewToolCallMessage(agentName string, calls []brain.ToolCall) Message {
	parts := make([]Part, len(calls))
	for i, c := range calls {
		parts[i] = Part{Kind: PartToolCall, ToolCall: &ToolCallPart{CallID: c.ID, Name: c.Name, Args: c.Args}}
	}
	return Message{ID: uuid.NewString(), Role: brain.RoleAssistant, AgentName: agentName, Parts: parts, Timestamp: time.Now()}
}

// NewToolResultMessage constructs a tool-role Message answering the
// ToolCallPart with the given callID (spec.md §3 "tool_result" Part,
// invariant 4: every ToolCallPart is answered by exactly one
// ToolResultPart before the next assistant message).
func NewToolResultMessage(callID string, success bool, payload json.RawMessage, errMsg string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      brain.RoleTool,
		Parts:     []Part{{Kind: PartToolResult, ToolResult: &ToolResultPart{CallID: callID, Success: success, Payload: payload, Error: errMsg}}},
		Timestamp: time.Now(),
	}
}

// History is the append-only, ordered sequence of Messages for a Task
// (spec.md §3 "Messages are append-only within a History"). Safe for
// concurrent use.
type History struct {
	mu       sync.Mutex
	messages []Message
}

// NewHistory constructs an empty History.
func NewHistory() *History { return &History{} }

// Append adds m to the end of the History, assigning an ID and timestamp
// if unset.
func (h *History) Append(m Message) Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	h.messages = append(h.messages, m)
	return m
}

// Messages returns a defensive copy of every Message in append order.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of Messages appended so far.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// BrainMessages projects the History into the []brain.Message shape an
// AgentRuntime.Step call consumes, flattening tool_call/tool_result Parts
// into the Brain package's own ToolCall records and dropping
// attachment_ref parts (the reference Brain implementations in this module
// do not consume attachments).
func (h *History) BrainMessages() []brain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]brain.Message, 0, len(h.messages))
	for _, m := range h.messages {
		bm := brain.Message{Role: m.Role, AgentName: m.AgentName}
		for _, p := range m.Parts {
			switch p.Kind {
			case PartText:
				bm.Text += p.Text
			case PartToolCall:
				bm.ToolCalls = append(bm.ToolCalls, brain.ToolCall{ID: p.ToolCall.CallID, Name: p.ToolCall.Name, Args: p.ToolCall.Args})
			case PartToolResult:
				bm.ToolCallID = p.ToolResult.CallID
				if p.ToolResult.Error != "" {
					bm.Text = p.ToolResult.Error
				} else {
					bm.Text = string(p.ToolResult.Payload)
				}
			}
		}
		out = append(out, bm)
	}
	return out
}
