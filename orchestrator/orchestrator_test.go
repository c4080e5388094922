package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorrun/conductor/agentruntime"
	"github.com/conductorrun/conductor/brain"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/orchestrator"
	"github.com/conductorrun/conductor/plan"
	"github.com/conductorrun/conductor/task"
	"github.com/conductorrun/conductor/tool"
	"github.com/conductorrun/conductor/toolregistry"
	"github.com/conductorrun/conductor/workspace"
)

// twoAgentTeam matches the researcher/writer roster spec.md §8's S1
// scenario names.
func twoAgentTeam() task.TeamConfig {
	return task.TeamConfig{
		Name: "report-team",
		Agents: []task.AgentConfig{
			{Name: "researcher", Description: "gathers background material"},
			{Name: "writer", Description: "drafts the final report"},
		},
	}
}

// planningBrain answers both plan-generation and chat-classification
// calls, routed by systemPrompt prefix the same way cmd/orchestrator's
// demo Brain does, but scripted per test via planJSON/classifyResponses.
type planningBrain struct {
	planJSON   string
	classifies []string
	next       int
}

func (b *planningBrain) Generate(ctx context.Context, messages []brain.Message, _ []toolregistry.Schema, systemPrompt string) (brain.AssistantMessage, error) {
	if len(systemPrompt) >= len("Classify") && systemPrompt[:8] == "Classify" {
		if b.next >= len(b.classifies) {
			return brain.AssistantMessage{Text: `{"kind":"qa","answer":"noted"}`}, nil
		}
		resp := b.classifies[b.next]
		b.next++
		return brain.AssistantMessage{Text: resp}, nil
	}
	return brain.AssistantMessage{Text: b.planJSON}, nil
}

func (b *planningBrain) Stream(ctx context.Context, messages []brain.Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan brain.StreamChunk, error) {
	resp, err := b.Generate(ctx, messages, schemas, systemPrompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan brain.StreamChunk, 2)
	ch <- brain.StreamChunk{Kind: brain.ChunkText, Text: resp.Text}
	ch <- brain.StreamChunk{Kind: brain.ChunkEnd}
	close(ch)
	return ch, nil
}

var _ brain.Brain = (*planningBrain)(nil)

// writeThenDoneBrain emits one fswrite tool call naming artifact, then a
// terminal confirmation once it sees the tool's result.
type writeThenDoneBrain struct {
	artifact string
	agent    string
}

func (b writeThenDoneBrain) Generate(ctx context.Context, messages []brain.Message, _ []toolregistry.Schema, _ string) (brain.AssistantMessage, error) {
	if len(messages) > 0 && messages[len(messages)-1].Role == brain.RoleTool {
		return brain.AssistantMessage{Text: fmt.Sprintf("%s: done", b.agent)}, nil
	}
	args, err := json.Marshal(map[string]string{"name": b.artifact, "content": fmt.Sprintf("content of %s by %s", b.artifact, b.agent)})
	if err != nil {
		return brain.AssistantMessage{}, err
	}
	return brain.AssistantMessage{ToolCalls: []brain.ToolCall{{ID: "call-1", Name: "fswrite", Args: args}}}, nil
}

func (b writeThenDoneBrain) Stream(ctx context.Context, messages []brain.Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan brain.StreamChunk, error) {
	resp, err := b.Generate(ctx, messages, schemas, systemPrompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan brain.StreamChunk, 2)
	if len(resp.ToolCalls) > 0 {
		ch <- brain.StreamChunk{Kind: brain.ChunkToolCalls, ToolCalls: resp.ToolCalls}
	} else {
		ch <- brain.StreamChunk{Kind: brain.ChunkText, Text: resp.Text}
	}
	ch <- brain.StreamChunk{Kind: brain.ChunkEnd}
	close(ch)
	return ch, nil
}

var _ brain.Brain = writeThenDoneBrain{}

// newWorkspaceFactory builds an orchestrator.WorkspaceFactory rooted under
// t.TempDir(), one FS directory per task id.
func newWorkspaceFactory(t *testing.T) orchestrator.WorkspaceFactory {
	t.Helper()
	root := t.TempDir()
	return func(taskID string) (workspace.Workspace, error) {
		return workspace.NewFS(filepath.Join(root, taskID))
	}
}

// newRuntimeFactory builds an orchestrator.RuntimeFactory that registers
// the fswrite/fsread reference tools once per Task and wires each
// configured agent to the Brain agentBrains names it by.
func newRuntimeFactory(agentBrains map[string]brain.Brain) orchestrator.RuntimeFactory {
	return func(ctx context.Context, ac task.AgentConfig, t *task.Task) (*agentruntime.Runtime, error) {
		if _, ok := t.Registry.Get("fswrite"); !ok {
			if err := t.Registry.Register(tool.NewFSWrite(t.Workspace, t.Bus)); err != nil {
				return nil, err
			}
			if err := t.Registry.Register(tool.NewFSRead(t.Workspace)); err != nil {
				return nil, err
			}
		}
		schemas, err := t.Registry.Schemas([]string{"fswrite", "fsread"})
		if err != nil {
			return nil, err
		}
		b, ok := agentBrains[ac.Name]
		if !ok {
			return nil, fmt.Errorf("no test brain registered for agent %q", ac.Name)
		}
		return agentruntime.New(ac.Name, b, t.Executor, schemas, t.Bus, agentruntime.WithResultSpilling(t.Workspace, 0)), nil
	}
}

func linearPlanJSON(t *testing.T) string {
	t.Helper()
	items := []plan.Item{
		{ID: "t1", Agent: "researcher", Action: "produce research_hello.md"},
		{ID: "t2", Agent: "writer", Action: "produce report.md using research_hello.md", Dependencies: []string{"t1"}},
	}
	data, err := json.Marshal(items)
	require.NoError(t, err)
	return string(data)
}

// TestLinearPlanCompletesBothItems covers spec.md §8 S1: a linear two-item
// plan, two step() calls end with is_complete()==true, both artifacts
// present in the workspace, and a task_update for each completed item.
func TestLinearPlanCompletesBothItems(t *testing.T) {
	cfg := twoAgentTeam()
	pb := &planningBrain{planJSON: linearPlanJSON(t)}
	rf := newRuntimeFactory(map[string]brain.Brain{
		"researcher": writeThenDoneBrain{artifact: "research_hello.md", agent: "researcher"},
		"writer":     writeThenDoneBrain{artifact: "report.md", agent: "writer"},
	})
	o := orchestrator.New(cfg, pb, newWorkspaceFactory(t), rf)

	id, err := o.Start(context.Background(), "write hello world report")
	require.NoError(t, err)

	sub, err := o.SubscribeEvents(id)
	require.NoError(t, err)
	var taskUpdates int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events() {
			if ev.Kind == eventbus.KindTaskUpdate {
				taskUpdates++
			}
		}
	}()

	_, err = o.Step(id)
	require.NoError(t, err)
	complete, err := o.IsComplete(id)
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = o.Step(id)
	require.NoError(t, err)
	complete, err = o.IsComplete(id)
	require.NoError(t, err)
	assert.True(t, complete)

	tsk, ok := o.Task(id)
	require.True(t, ok)
	require.NoError(t, tsk.Close())
	<-done
	assert.GreaterOrEqual(t, taskUpdates, 2, "expected at least one task_update per completed item")

	_, ok, err = tsk.Workspace.Read(context.Background(), "research_hello.md", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = tsk.Workspace.Read(context.Background(), "report.md", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestHaltPolicyFailsTaskAndTerminatesStepping covers spec.md §8 S4: a
// halt-policy item whose agent never produces its declared artifact fails
// the task, and a subsequent step() call returns "already terminated".
func TestHaltPolicyFailsTaskAndTerminatesStepping(t *testing.T) {
	cfg := task.TeamConfig{
		Name:   "solo-team",
		Agents: []task.AgentConfig{{Name: "researcher", Description: "gathers background material"}},
	}
	items := []plan.Item{
		{ID: "t1", Agent: "researcher", Action: "produce research_hello.md", OnFailurePolicy: plan.OnFailureHalt},
	}
	data, err := json.Marshal(items)
	require.NoError(t, err)
	pb := &planningBrain{planJSON: string(data)}

	// silentBrain never calls fswrite, so the declared artifact is never
	// written and dispatchItem's artifact probe fails the item.
	silentBrain := brain.Static{Response: brain.AssistantMessage{Text: "researcher: nothing to report"}}
	rf := newRuntimeFactory(map[string]brain.Brain{"researcher": silentBrain})
	o := orchestrator.New(cfg, pb, newWorkspaceFactory(t), rf)

	id, err := o.Start(context.Background(), "write hello world report")
	require.NoError(t, err)

	_, err = o.Step(id)
	require.Error(t, err)

	tsk, ok := o.Task(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, tsk.Status())

	text, err := o.Step(id)
	require.NoError(t, err)
	assert.Equal(t, "already terminated", text)
}

// TestCancelClosesEventBus covers spec.md §8 S5: cancel() transitions the
// task to cancelled and closes the EventBus so its subscription's channel
// drains to closed.
func TestCancelClosesEventBus(t *testing.T) {
	cfg := twoAgentTeam()
	pb := &planningBrain{planJSON: linearPlanJSON(t)}
	rf := newRuntimeFactory(map[string]brain.Brain{
		"researcher": writeThenDoneBrain{artifact: "research_hello.md", agent: "researcher"},
		"writer":     writeThenDoneBrain{artifact: "report.md", agent: "writer"},
	})
	o := orchestrator.New(cfg, pb, newWorkspaceFactory(t), rf)

	id, err := o.Start(context.Background(), "write hello world report")
	require.NoError(t, err)

	sub, err := o.SubscribeEvents(id)
	require.NoError(t, err)

	require.NoError(t, o.Cancel(id))

	tsk, ok := o.Task(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusCancelled, tsk.Status())

	for range sub.Events() {
	}
}

// TestTwoTasksHaveIsolatedWorkspacesAndRegistries covers spec.md §8 S6:
// two tasks writing an artifact of the same name produce distinct bytes in
// distinct workspaces, and each Task gets its own ToolRegistry.
func TestTwoTasksHaveIsolatedWorkspacesAndRegistries(t *testing.T) {
	cfg := task.TeamConfig{
		Name:   "solo-team",
		Agents: []task.AgentConfig{{Name: "writer", Description: "writes reports"}},
	}
	items := []plan.Item{{ID: "t1", Agent: "writer", Action: "produce report.md"}}
	data, err := json.Marshal(items)
	require.NoError(t, err)

	pbA := &planningBrain{planJSON: string(data)}
	pbB := &planningBrain{planJSON: string(data)}
	rfA := newRuntimeFactory(map[string]brain.Brain{"writer": writeThenDoneBrain{artifact: "report.md", agent: "writer-a"}})
	rfB := newRuntimeFactory(map[string]brain.Brain{"writer": writeThenDoneBrain{artifact: "report.md", agent: "writer-b"}})

	root := t.TempDir()
	wsFactory := func(prefix string) orchestrator.WorkspaceFactory {
		return func(taskID string) (workspace.Workspace, error) {
			return workspace.NewFS(filepath.Join(root, prefix, taskID))
		}
	}

	oa := orchestrator.New(cfg, pbA, wsFactory("a"), rfA)
	ob := orchestrator.New(cfg, pbB, wsFactory("b"), rfB)

	idA, err := oa.Start(context.Background(), "goal A")
	require.NoError(t, err)
	idB, err := ob.Start(context.Background(), "goal B")
	require.NoError(t, err)

	_, err = oa.Step(idA)
	require.NoError(t, err)
	_, err = ob.Step(idB)
	require.NoError(t, err)

	tA, _ := oa.Task(idA)
	tB, _ := ob.Task(idB)

	contentA, ok, err := tA.Workspace.Read(context.Background(), "report.md", 0)
	require.NoError(t, err)
	require.True(t, ok)
	contentB, ok, err := tB.Workspace.Read(context.Background(), "report.md", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, string(contentA), string(contentB))

	_, ok = tA.Registry.Get("fswrite")
	assert.True(t, ok)
	_, ok = tB.Registry.Get("fswrite")
	assert.True(t, ok)
	assert.NotSame(t, tA.Registry, tB.Registry)
}

// TestChatRevisionPreservesCompletedItem covers spec.md §8 S3: after t1
// completes, a chat message classified as a revision produces a plan where
// t1 stays completed and t2 is replaced.
func TestChatRevisionPreservesCompletedItem(t *testing.T) {
	cfg := twoAgentTeam()
	revisedItems := []plan.Item{
		{ID: "t1", Agent: "researcher", Action: "produce research_hello.md", Status: plan.StatusCompleted},
		{ID: "t2-fr", Agent: "writer", Action: "produce report.md in French using research_hello.md", Dependencies: []string{"t1"}},
	}
	revisedJSON, err := json.Marshal(revisedItems)
	require.NoError(t, err)

	pb := &planningBrain{
		planJSON:   linearPlanJSON(t),
		classifies: []string{`{"kind":"revision"}`},
	}
	// revisePlan's second Generate call (the revision attempt itself)
	// rides the same planningBrain.Generate method, which routes by
	// systemPrompt prefix; seed a second planJSON-shaped response by
	// wrapping with a tiny adapter.
	rb := &revisionBrain{planningBrain: pb, revisedJSON: string(revisedJSON)}

	rf := newRuntimeFactory(map[string]brain.Brain{
		"researcher": writeThenDoneBrain{artifact: "research_hello.md", agent: "researcher"},
		"writer":     writeThenDoneBrain{artifact: "report.md", agent: "writer"},
	})
	o := orchestrator.New(cfg, rb, newWorkspaceFactory(t), rf)

	id, err := o.Start(context.Background(), "write hello world report")
	require.NoError(t, err)

	_, err = o.Step(id)
	require.NoError(t, err)

	tsk, ok := o.Task(id)
	require.True(t, ok)
	it1, ok := tsk.Plan.Get("t1")
	require.True(t, ok)
	require.Equal(t, plan.StatusCompleted, it1.Status)

	reply, err := o.Chat(id, "use a French tone in the final report")
	require.NoError(t, err)
	assert.Equal(t, "plan revised", reply)

	it1After, ok := tsk.Plan.Get("t1")
	require.True(t, ok)
	assert.Equal(t, plan.StatusCompleted, it1After.Status, "t1 must stay completed across a revision")
	_, hasOldT2 := tsk.Plan.Get("t2")
	_, hasNewT2 := tsk.Plan.Get("t2-fr")
	assert.False(t, hasOldT2)
	assert.True(t, hasNewT2)
}

// revisionBrain wraps a planningBrain so that its second "planning" style
// call (the one revisePlan issues to propose a revised plan) returns a
// different script than the first (the initial plan generation).
type revisionBrain struct {
	*planningBrain
	revisedJSON string
	planCalls   int
}

func (b *revisionBrain) Generate(ctx context.Context, messages []brain.Message, schemas []toolregistry.Schema, systemPrompt string) (brain.AssistantMessage, error) {
	if len(systemPrompt) >= len("Classify") && systemPrompt[:8] == "Classify" {
		return b.planningBrain.Generate(ctx, messages, schemas, systemPrompt)
	}
	b.planCalls++
	if b.planCalls == 1 {
		return brain.AssistantMessage{Text: b.planningBrain.planJSON}, nil
	}
	return brain.AssistantMessage{Text: b.revisedJSON}, nil
}

func (b *revisionBrain) Stream(ctx context.Context, messages []brain.Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan brain.StreamChunk, error) {
	resp, err := b.Generate(ctx, messages, schemas, systemPrompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan brain.StreamChunk, 2)
	ch <- brain.StreamChunk{Kind: brain.ChunkText, Text: resp.Text}
	ch <- brain.StreamChunk{Kind: brain.ChunkEnd}
	close(ch)
	return ch, nil
}

var _ brain.Brain = (*revisionBrain)(nil)
