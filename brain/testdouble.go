package brain

import (
	"context"
	"sync"

	"github.com/conductorrun/conductor/errs"
	"github.com/conductorrun/conductor/toolregistry"
)

// Static always returns the same response, regardless of input. Useful
// for tests that only need a Brain that terminates immediately.
type Static struct {
	Response AssistantMessage
	Err      error
}

func (s Static) Generate(ctx context.Context, _ []Message, _ []toolregistry.Schema, _ string) (AssistantMessage, error) {
	if s.Err != nil {
		return AssistantMessage{}, s.Err
	}
	return s.Response, nil
}

func (s Static) Stream(ctx context.Context, messages []Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan StreamChunk, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	ch := make(chan StreamChunk, 2)
	if len(s.Response.ToolCalls) > 0 {
		ch <- StreamChunk{Kind: ChunkToolCalls, ToolCalls: s.Response.ToolCalls}
	} else {
		ch <- StreamChunk{Kind: ChunkText, Text: s.Response.Text}
	}
	ch <- StreamChunk{Kind: ChunkEnd}
	close(ch)
	return ch, nil
}

// Scripted replays a fixed sequence of responses, one per Generate call,
// so tests can drive a multi-round tool-call loop deterministically (the
// S1-S6 scenarios in spec.md §8 all shape a Brain this way: respond with
// a tool call, then on the next turn respond with terminal text). Calling
// Generate past the end of Responses returns ErrScriptExhausted.
type Scripted struct {
	mu        sync.Mutex
	Responses []AssistantMessage
	next      int
	Calls     []ScriptedCall
}

// ScriptedCall records one invocation for test assertions.
type ScriptedCall struct {
	Messages     []Message
	Schemas      []toolregistry.Schema
	SystemPrompt string
}

// ErrScriptExhausted is returned once every scripted response has been
// consumed.
var ErrScriptExhausted = errs.New(errs.KindBrainUnavailable, "scripted brain has no more responses")

func (s *Scripted) Generate(ctx context.Context, messages []Message, schemas []toolregistry.Schema, systemPrompt string) (AssistantMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, ScriptedCall{Messages: messages, Schemas: schemas, SystemPrompt: systemPrompt})
	if s.next >= len(s.Responses) {
		return AssistantMessage{}, ErrScriptExhausted
	}
	resp := s.Responses[s.next]
	s.next++
	return resp, nil
}

func (s *Scripted) Stream(ctx context.Context, messages []Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan StreamChunk, error) {
	resp, err := s.Generate(ctx, messages, schemas, systemPrompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 2)
	if len(resp.ToolCalls) > 0 {
		ch <- StreamChunk{Kind: ChunkToolCalls, ToolCalls: resp.ToolCalls}
	} else {
		ch <- StreamChunk{Kind: ChunkText, Text: resp.Text}
	}
	ch <- StreamChunk{Kind: ChunkEnd}
	close(ch)
	return ch, nil
}

// CallCount returns how many times Generate has been invoked so far.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

var _ Brain = Static{}
var _ Brain = (*Scripted)(nil)
