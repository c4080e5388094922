package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductorrun/conductor/agentruntime"
	"github.com/conductorrun/conductor/brain"
	"github.com/conductorrun/conductor/config"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/orchestrator"
	"github.com/conductorrun/conductor/plan"
	"github.com/conductorrun/conductor/task"
	"github.com/conductorrun/conductor/tool"
	"github.com/conductorrun/conductor/toolregistry"
	"github.com/conductorrun/conductor/workspace"
)

// DefaultMaxSteps bounds how many times runGoal's loop calls step()
// before giving up, guarding the demo against a misbehaving Brain double
// that never converges.
const DefaultMaxSteps = 50

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		workDir    string
		maxSteps   int
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Start a task for goal and drive its plan to completion",
		Long: `Loads a TeamConfig, starts a Task for goal, and calls step() in a loop
until the plan completes, fails, or is cancelled, printing a line per step
and the final artifact listing.

Every AgentRuntime is wired to an in-process demonstration Brain rather
than a real model provider (spec.md §1 scopes the LLM provider as an
external collaborator behind the Brain interface) — this command proves
the wiring end to end, it does not call out to a real LLM.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd.Context(), args[0], configPath, workDir, maxSteps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "team.yaml", "path to a TeamConfig YAML file")
	cmd.Flags().StringVarP(&workDir, "workspace-dir", "w", "./orchestrator-runs", "directory under which per-task workspaces are created")
	cmd.Flags().IntVar(&maxSteps, "max-steps", DefaultMaxSteps, "maximum number of step() calls before giving up")
	return cmd
}

func runGoal(ctx context.Context, goal, configPath, workDir string, maxSteps int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load team config: %w", err)
	}

	wsFactory := func(taskID string) (workspace.Workspace, error) {
		return workspace.NewFS(filepath.Join(workDir, taskID))
	}

	o := orchestrator.New(cfg, demoPlanningBrain{cfg: cfg}, wsFactory, demoRuntimeFactory)

	taskID, err := o.Start(ctx, goal)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	fmt.Printf("started task %s\n", taskID)

	sub, err := o.SubscribeEvents(taskID)
	if err != nil {
		return err
	}
	go printEvents(sub.Events())

	for i := 0; i < maxSteps; i++ {
		text, err := o.Step(taskID)
		if err != nil {
			fmt.Printf("step %d: error: %v\n", i+1, err)
			break
		}
		fmt.Printf("step %d: %s\n", i+1, text)

		done, _ := o.IsComplete(taskID)
		if done {
			break
		}
		if text == "already terminated" {
			break
		}
	}

	t, _ := o.Task(taskID)
	if t == nil {
		return nil
	}
	fmt.Printf("final status: %s\n", t.Status())
	if t.Plan != nil {
		summary := t.Plan.ProgressSummary()
		fmt.Printf("plan progress: %+v\n", summary)
	}
	artifacts, err := t.Workspace.List(ctx)
	if err == nil {
		fmt.Println("artifacts:")
		for _, a := range artifacts {
			fmt.Printf("  %s (v%d, %d bytes)\n", a.Name, a.LatestVer, a.Size)
		}
	}
	return t.Close()
}

// printEvents drains a subscription's event stream to stderr until the
// bus closes, giving a live trace alongside the step-by-step stdout
// output (spec.md §4.6 "subscribe_events() → stream").
func printEvents(events <-chan eventbus.Event) {
	for ev := range events {
		fmt.Fprintf(os.Stderr, "[event] %s %s\n", ev.Kind, formatPayload(ev.Payload))
	}
}

func formatPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}

// demoRuntimeFactory builds one AgentRuntime per configured team member,
// lazily registering the shared fswrite/fsread demonstration tools on the
// Task's Registry exactly once (spec.md §4.2 "a tool registered in task A
// MUST NOT be visible to task B" — each Task gets its own Registry, but
// within a Task every agent shares it).
func demoRuntimeFactory(ctx context.Context, ac task.AgentConfig, t *task.Task) (*agentruntime.Runtime, error) {
	if _, ok := t.Registry.Get("fswrite"); !ok {
		if err := t.Registry.Register(tool.NewFSWrite(t.Workspace, t.Bus)); err != nil {
			return nil, err
		}
		if err := t.Registry.Register(tool.NewFSRead(t.Workspace)); err != nil {
			return nil, err
		}
	}

	names := ac.Tools
	if len(names) == 0 {
		names = []string{"fswrite", "fsread"}
	}
	schemas, err := t.Registry.Schemas(names)
	if err != nil {
		return nil, err
	}

	rt := agentruntime.New(ac.Name, demoAgentBrain{agentName: ac.Name}, t.Executor, schemas, t.Bus,
		agentruntime.WithResultSpilling(t.Workspace, 0))
	return rt, nil
}

// demoPlanningBrain answers both plan-generation and chat-classification
// calls: it produces a linear plan with one item per configured agent (in
// roster order, each depending on the previous), and a fixed
// acknowledging verdict for chat classification. A real deployment
// replaces this with a Brain backed by an actual model provider.
type demoPlanningBrain struct {
	cfg task.TeamConfig
}

func (b demoPlanningBrain) Generate(ctx context.Context, messages []brain.Message, _ []toolregistry.Schema, systemPrompt string) (brain.AssistantMessage, error) {
	if strings.HasPrefix(systemPrompt, "Classify the user's message") {
		return brain.AssistantMessage{Text: `{"kind":"qa","answer":"noted"}`}, nil
	}

	goal := ""
	if len(messages) > 0 {
		goal = messages[0].Text
	}

	items := make([]plan.Item, 0, len(b.cfg.Agents))
	var prevID string
	for i, a := range b.cfg.Agents {
		id := fmt.Sprintf("t%d", i+1)
		var deps []string
		if prevID != "" {
			deps = []string{prevID}
		}
		items = append(items, plan.Item{
			ID:              id,
			Agent:           a.Name,
			Dependencies:    deps,
			Action:          fmt.Sprintf("write %s-notes.md summarizing this agent's contribution to: %s", a.Name, goal),
			Status:          plan.StatusPending,
			OnFailurePolicy: plan.OnFailureProceed,
		})
		prevID = id
	}

	data, err := json.Marshal(items)
	if err != nil {
		return brain.AssistantMessage{}, err
	}
	return brain.AssistantMessage{Text: string(data)}, nil
}

func (b demoPlanningBrain) Stream(ctx context.Context, messages []brain.Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan brain.StreamChunk, error) {
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

// demoAgentBrain drives a trivial two-turn tool loop: on its first call it
// writes the artifact declared in the briefing via fswrite, and on the
// next call (after seeing the tool result) returns terminal text.
type demoAgentBrain struct {
	agentName string
}

func (b demoAgentBrain) Generate(ctx context.Context, messages []brain.Message, _ []toolregistry.Schema, _ string) (brain.AssistantMessage, error) {
	if len(messages) > 0 && messages[len(messages)-1].Role == brain.RoleTool {
		return brain.AssistantMessage{Text: fmt.Sprintf("%s: done", b.agentName)}, nil
	}

	name := firstDeclaredArtifact(lastUserText(messages))
	if name == "" {
		return brain.AssistantMessage{Text: fmt.Sprintf("%s: nothing declared to write", b.agentName)}, nil
	}
	args, err := json.Marshal(map[string]string{
		"name":    name,
		"content": fmt.Sprintf("Notes from %s, written at %s.\n", b.agentName, time.Now().Format(time.RFC3339)),
	})
	if err != nil {
		return brain.AssistantMessage{}, err
	}
	return brain.AssistantMessage{ToolCalls: []brain.ToolCall{{ID: "call-1", Name: "fswrite", Args: args}}}, nil
}

func (b demoAgentBrain) Stream(ctx context.Context, messages []brain.Message, schemas []toolregistry.Schema, systemPrompt string) (<-chan brain.StreamChunk, error) {
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

func lastUserText(messages []brain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == brain.RoleUser {
			return messages[i].Text
		}
	}
	return ""
}

func firstDeclaredArtifact(action string) string {
	names := workspace.Declared(action)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
