// Package orchestrator implements the Orchestrator (a.k.a. XAgent, spec.md
// §4.6): the lead coordinator exposed to the user. It owns plan generation
// (with bounded repair), the plan-driven dispatch loop, plan revision via
// chat, and task lifecycle (start/cancel/subscribe).
//
// Grounded on the top-level plan/dispatch/revise coordinator shape in
// NeboLoop's internal/agent/orchestrator/orchestrator.go (an Orchestrator
// that owns a map of managed work units and dispatches against a shared
// tool executor) and cagent's pkg/runtime/task_runtime.go task-state-
// machine-driven step loop (StartTask/Resume/IsWaiting — generalized here
// from a single resumable task to a Plan of many dispatchable items). The
// per-round call-Brain-then-apply-policy-then-loop control flow follows
// the teacher's agents/runtime/runtime.go, adapted from single-agent
// turns to plan-item dispatch.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/conductorrun/conductor/agentruntime"
	"github.com/conductorrun/conductor/brain"
	"github.com/conductorrun/conductor/errs"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/plan"
	"github.com/conductorrun/conductor/task"
	"github.com/conductorrun/conductor/telemetry"
	"github.com/conductorrun/conductor/workspace"
)

// MaxRepairAttempts bounds how many times the planning Brain is asked to
// fix an invalid plan (or an invalid revision) before the Orchestrator
// gives up (spec.md §4.6 steps 1 and revision step c: "bounded to 3
// attempts").
const MaxRepairAttempts = 3

// RuntimeFactory builds the AgentRuntime backing one configured team
// member for a newly started Task. Called once per agent at Start time;
// the returned Runtime is registered on t under cfg.Name.
type RuntimeFactory func(ctx context.Context, cfg task.AgentConfig, t *task.Task) (*agentruntime.Runtime, error)

// WorkspaceFactory constructs the Workspace backing a new Task, keyed by
// the Task's pre-assigned ID so callers can lay out per-task storage
// (e.g. a directory named after taskID).
type WorkspaceFactory func(taskID string) (workspace.Workspace, error)

// entry tracks the live state the Orchestrator manages per Task.
type entry struct {
	task   *task.Task
	ctx    context.Context
	cancel context.CancelFunc

	// planMessages is the Orchestrator's private planning conversation
	// with its own Brain: separate from the Task's user-facing History,
	// since plan JSON exchanges are not conversational content (spec.md
	// §4.6 "the planning Brain (the Orchestrator's own Brain)").
	planMessages []brain.Message
}

// Orchestrator coordinates one or more Tasks against a shared TeamConfig,
// planning Brain, Workspace factory and per-agent RuntimeFactory.
type Orchestrator struct {
	cfg            task.TeamConfig
	planningBrain  brain.Brain
	wsFactory      WorkspaceFactory
	runtimeFactory RuntimeFactory
	logger         telemetry.Logger
	tracer         telemetry.Tracer
	metrics        telemetry.Metrics

	mu    sync.Mutex
	tasks map[string]*entry
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l telemetry.Logger) Option   { return func(o *Orchestrator) { o.logger = l } }
func WithTracer(t telemetry.Tracer) Option   { return func(o *Orchestrator) { o.tracer = t } }
func WithMetrics(m telemetry.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New constructs an Orchestrator. planningBrain answers plan-generation
// and chat-classification calls; runtimeFactory builds one AgentRuntime
// per cfg.Agents entry for every Task this Orchestrator starts.
func New(cfg task.TeamConfig, planningBrain brain.Brain, wsFactory WorkspaceFactory, runtimeFactory RuntimeFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:            cfg,
		planningBrain:  planningBrain,
		wsFactory:      wsFactory,
		runtimeFactory: runtimeFactory,
		logger:         telemetry.NewNoopLogger(),
		tracer:         telemetry.NewNoopTracer(),
		metrics:        telemetry.NewNoopMetrics(),
		tasks:          make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start creates a new Task for goal, persists the initial user message,
// and returns its ID without beginning execution (spec.md §4.6 "do not
// begin execution. Returns immediately").
func (o *Orchestrator) Start(ctx context.Context, goal string) (string, error) {
	id := uuid.NewString()
	ws, err := o.wsFactory(id)
	if err != nil {
		return "", errs.Wrap(errs.KindPlanInvalid, "failed to provision task workspace", err)
	}

	t := task.New(o.cfg, ws, goal, task.WithID(id), task.WithLogger(o.logger), task.WithTracer(o.tracer), task.WithMetrics(o.metrics))
	taskCtx, cancel := context.WithCancel(ctx)
	// Task.Context installs cancel internally; capture the same ctx so
	// Cancel() (called either on the Task or through this Orchestrator)
	// aborts in-flight work identically (spec.md §5 cancellation).
	taskCtx = t.Context(taskCtx)

	for _, ac := range o.cfg.Agents {
		rt, err := o.runtimeFactory(ctx, ac, t)
		if err != nil {
			cancel()
			return "", errs.Wrap(errs.KindAgentUnknown, fmt.Sprintf("failed to build runtime for agent %q", ac.Name), err)
		}
		t.RegisterRuntime(ac.Name, rt)
	}

	e := &entry{task: t, ctx: taskCtx, cancel: cancel}
	o.mu.Lock()
	o.tasks[id] = e
	o.mu.Unlock()
	o.persistHistory(taskCtx, e)
	return id, nil
}

// Task returns the underlying task.Task for id, for callers (tests, the
// reference CLI) that need direct read access.
func (o *Orchestrator) Task(id string) (*task.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	return e.task, true
}

func (o *Orchestrator) entry(id string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[id]
	if !ok {
		return nil, errs.Newf(errs.KindPlanInvalid, "unknown task %q", id)
	}
	return e, nil
}

// IsComplete reports whether id's Plan is fully completed/skipped
// (spec.md §4.6 "is_complete() → bool"). A Task with no plan yet is not
// complete.
func (o *Orchestrator) IsComplete(id string) (bool, error) {
	e, err := o.entry(id)
	if err != nil {
		return false, err
	}
	if e.task.Plan == nil {
		return false, nil
	}
	return e.task.Plan.IsComplete(), nil
}

// Cancel aborts id's Task (spec.md §4.6 "cancel()").
func (o *Orchestrator) Cancel(id string) error {
	e, err := o.entry(id)
	if err != nil {
		return err
	}
	e.task.Cancel()
	return nil
}

// SubscribeEvents returns a live subscription to id's event stream
// (spec.md §4.6 "subscribe_events() → stream").
func (o *Orchestrator) SubscribeEvents(id string) (*eventbus.Subscription, error) {
	e, err := o.entry(id)
	if err != nil {
		return nil, err
	}
	return e.task.Bus.Subscribe(), nil
}

// StepAll dispatches every currently actionable, agent-disjoint PlanItem
// concurrently via errgroup and returns the status text from each
// dispatch, for callers that want throughput over Step's one-item-per-call
// contract (resolved Open Question #1, SPEC_FULL.md §4.6).
func (o *Orchestrator) StepAll(id string) ([]string, error) {
	e, err := o.entry(id)
	if err != nil {
		return nil, err
	}
	if err := o.ensurePlan(e.ctx, e); err != nil {
		return nil, err
	}

	items := e.task.Plan.AllActionable(0)
	items = disjointByAgent(items)
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]string, len(items))
	g, gctx := errgroup.WithContext(e.ctx)
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			text, dispatchErr := o.dispatchItem(gctx, e, it)
			results[i] = text
			return dispatchErr
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// disjointByAgent keeps at most one item per agent, in plan order, so
// StepAll never dispatches two items to the same AgentRuntime at once
// (spec.md §5 "a given AgentRuntime MUST process at most one step at a
// time").
func disjointByAgent(items []plan.Item) []plan.Item {
	seen := make(map[string]bool, len(items))
	out := make([]plan.Item, 0, len(items))
	for _, it := range items {
		if seen[it.Agent] {
			continue
		}
		seen[it.Agent] = true
		out = append(out, it)
	}
	return out
}

// Step advances the plan by exactly one dispatchable unit (resolved Open
// Question #1, SPEC_FULL.md §4.6: "step() dispatches exactly one
// actionable PlanItem per call"). The caller is expected to loop `while
// !IsComplete` (spec.md §4.6 step 9).
func (o *Orchestrator) Step(id string) (string, error) {
	e, err := o.entry(id)
	if err != nil {
		return "", err
	}

	if e.task.Status() == task.StatusPending {
		e.task.SetStatus(task.StatusRunning)
	}
	if s := e.task.Status(); s == task.StatusCompleted || s == task.StatusFailed || s == task.StatusCancelled {
		return "already terminated", nil
	}

	if err := o.ensurePlan(e.ctx, e); err != nil {
		return "", err
	}

	if e.task.Plan.IsComplete() {
		e.task.SetStatus(task.StatusCompleted)
		e.task.Bus.Close()
		return "plan already complete", nil
	}

	item, ok := e.task.Plan.NextActionable()
	if !ok {
		return o.handleDeadlock(e)
	}

	text, err := o.dispatchItem(e.ctx, e, item)
	if err != nil {
		return text, err
	}

	if e.task.Plan.IsComplete() {
		e.task.SetStatus(task.StatusCompleted)
		e.task.Bus.Close()
	}
	return text, nil
}

// ensurePlan generates the Task's initial Plan from its recorded goal if
// one does not yet exist (spec.md §4.6 step 1).
func (o *Orchestrator) ensurePlan(ctx context.Context, e *entry) error {
	if e.task.Plan != nil {
		return nil
	}
	goal := ""
	if msgs := e.task.History.Messages(); len(msgs) > 0 {
		goal = msgs[0].Text()
	}
	if len(e.planMessages) == 0 {
		e.planMessages = []brain.Message{{Role: brain.RoleUser, Text: goal}}
	}
	if err := o.generatePlan(ctx, e); err != nil {
		e.task.Fail("plan generation failed", err)
		return err
	}
	return nil
}

// generatePlan drives the Brain↔validate↔repair loop of spec.md §4.6 step
// 1: ask the planning Brain for a plan, validate it (every item's agent is
// in the team, the dependency graph is acyclic, every action is
// non-empty), and on failure feed the error back for a bounded number of
// repair attempts before giving up with PlanGenerationFailed.
func (o *Orchestrator) generatePlan(ctx context.Context, e *entry) error {
	sysPrompt := o.planningSystemPrompt()
	var lastErr error
	for attempt := 1; attempt <= MaxRepairAttempts; attempt++ {
		resp, err := o.planningBrain.Generate(ctx, e.planMessages, nil, sysPrompt)
		if err != nil {
			return errs.Wrap(errs.KindPlanGenerationFailed, "planning brain call failed", err)
		}
		e.planMessages = append(e.planMessages, brain.Message{Role: brain.RoleAssistant, Text: resp.Text})

		items, err := parsePlanItems(resp.Text)
		if err == nil {
			normalizeItems(items)
			if err = o.validateAgents(items); err == nil {
				var p *plan.Plan
				if p, err = plan.New(items); err == nil {
					e.task.Plan = p
					o.persistPlan(ctx, e)
					return nil
				}
			}
		}

		lastErr = err
		e.planMessages = append(e.planMessages, brain.Message{
			Role: brain.RoleSystem,
			Text: fmt.Sprintf("plan invalid: %v. Respond again with a corrected JSON array only.", err),
		})
	}
	return errs.Wrap(errs.KindPlanGenerationFailed,
		fmt.Sprintf("planning brain failed to produce a valid plan after %d attempts", MaxRepairAttempts), lastErr)
}

// planningSystemPrompt composes the Orchestrator's own Brain's system
// prompt for plan generation and repair: the team roster, advisory
// handoffs, and the expected JSON shape (spec.md §4.6 step 1, §6
// "handoffs... advisory input to the planner").
func (o *Orchestrator) planningSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are the planning module of a multi-agent task orchestrator. Given a goal " +
		"and a team roster, produce a JSON array of plan items and nothing else (no prose, no " +
		"code fence). Each item has: id (a short unique string), action (a natural-language " +
		"instruction that names the exact artifact filenames the agent must write), agent (must " +
		"be one of the team's agent names below), dependencies (array of other items' ids), and " +
		"on_failure_policy (one of \"proceed\", \"halt\", \"escalate\"; default \"proceed\").\n\nTeam:\n")
	for _, a := range o.cfg.Agents {
		fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
	}
	if len(o.cfg.Handoffs) > 0 {
		b.WriteString("\nAdvisory handoffs (not enforced, but a useful hint for sequencing):\n")
		for _, h := range o.cfg.Handoffs {
			fmt.Fprintf(&b, "- %s -> %s when %s\n", h.FromAgent, h.ToAgent, h.Condition)
		}
	}
	return b.String()
}

// parsePlanItems decodes the Brain's response text as a JSON array of
// plan.Item, tolerating a markdown code fence around it, and rejects an
// empty plan or an item with a blank action up front (spec.md §4.6 step 1
// "every action is non-empty").
func parsePlanItems(text string) ([]plan.Item, error) {
	var items []plan.Item
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &items); err != nil {
		return nil, fmt.Errorf("invalid JSON plan: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("plan has no items")
	}
	for _, it := range items {
		if strings.TrimSpace(it.Action) == "" {
			return nil, fmt.Errorf("item %q has an empty action", it.ID)
		}
	}
	return items, nil
}

// stripCodeFence removes a leading/trailing ``` or ```json fence some
// Brain implementations wrap structured output in.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// normalizeItems fills the defaults a freshly-generated item omits:
// pending status and a proceed failure policy.
func normalizeItems(items []plan.Item) {
	for i := range items {
		if items[i].Status == "" {
			items[i].Status = plan.StatusPending
		}
		if items[i].OnFailurePolicy == "" {
			items[i].OnFailurePolicy = plan.OnFailureProceed
		}
	}
}

// validateAgents checks every item's agent resolves in the team
// (spec.md §4.6 step 1 "every item's agent is in the team").
func (o *Orchestrator) validateAgents(items []plan.Item) error {
	for _, it := range items {
		if !o.cfg.HasAgent(it.Agent) {
			return errs.Newf(errs.KindAgentUnknown, "item %q references unknown agent %q", it.ID, it.Agent)
		}
	}
	return nil
}

// persistPlan serialises the Task's Plan as plan.json into its Workspace
// after every status transition (spec.md §4.1 "Persistence").
func (o *Orchestrator) persistPlan(ctx context.Context, e *entry) {
	data, err := json.Marshal(e.task.Plan)
	if err != nil {
		o.logger.Error(ctx, "orchestrator: failed to marshal plan", "task_id", e.task.ID, "error", err)
		return
	}
	version, err := e.task.Workspace.Write(ctx, "plan.json", data, "application/json", "plan status update")
	if err != nil {
		o.logger.Error(ctx, "orchestrator: failed to persist plan.json", "task_id", e.task.ID, "error", err)
		return
	}
	kind := eventbus.KindArtifactUpdated
	if version == 1 {
		kind = eventbus.KindArtifactCreated
	}
	e.task.Bus.Publish(kind, map[string]any{"name": "plan.json", "version": version})
}

// persistHistory serialises the Task's conversation as history.json into
// its Workspace (spec.md §6 "Persisted task layout").
func (o *Orchestrator) persistHistory(ctx context.Context, e *entry) {
	data, err := json.Marshal(e.task.History.Messages())
	if err != nil {
		o.logger.Error(ctx, "orchestrator: failed to marshal history", "task_id", e.task.ID, "error", err)
		return
	}
	version, err := e.task.Workspace.Write(ctx, "history.json", data, "application/json", "history update")
	if err != nil {
		o.logger.Error(ctx, "orchestrator: failed to persist history.json", "task_id", e.task.ID, "error", err)
		return
	}
	kind := eventbus.KindArtifactUpdated
	if version == 1 {
		kind = eventbus.KindArtifactCreated
	}
	e.task.Bus.Publish(kind, map[string]any{"name": "history.json", "version": version})
}

// handleDeadlock implements spec.md §4.6 step 2: when no item is
// actionable and the plan is incomplete, every still-pending item is
// blocked on a failed dependency. Apply each blocked item's
// on_failure_policy: proceed skips it, halt fails the task, escalate
// transitions the task to awaiting_input. The first non-proceed policy
// encountered (in plan order) decides the task-level outcome.
func (o *Orchestrator) handleDeadlock(e *entry) (string, error) {
	var pending []plan.Item
	for _, it := range e.task.Plan.Items() {
		if it.Status == plan.StatusPending {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return "no actionable item; plan has in-flight work", nil
	}

	for _, it := range pending {
		switch it.OnFailurePolicy {
		case plan.OnFailureHalt:
			cause := errs.New(errs.KindPlanInvalid, fmt.Sprintf("item %q is blocked on a failed dependency", it.ID))
			e.task.Fail(fmt.Sprintf("plan deadlocked at item %s", it.ID), cause)
			return fmt.Sprintf("plan deadlocked at item %s; task halted", it.ID), cause
		case plan.OnFailureEscalate:
			e.task.SetStatus(task.StatusAwaitingInput)
			return fmt.Sprintf("plan deadlocked at item %s; awaiting user input", it.ID), nil
		default:
			e.task.Plan.UpdateStatus(it.ID, plan.StatusSkipped)
		}
	}
	o.persistPlan(e.ctx, e)
	return "skipped blocked items per on_failure_policy=proceed", nil
}

// dispatchItem carries out spec.md §4.6 steps 3-8 for a single actionable
// item: resolve the agent, assemble its briefing, mark it in_progress,
// run the AgentRuntime step, verify declared artifacts, and transition
// the item to its terminal status.
func (o *Orchestrator) dispatchItem(ctx context.Context, e *entry, item plan.Item) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.dispatch_item")
	defer span.End()
	span.AddEvent("orchestrator.dispatch_start", "item_id", item.ID, "agent", item.Agent)
	start := time.Now()
	defer func() {
		o.metrics.RecordTimer("orchestrator.dispatch_item_duration", time.Since(start), "agent", item.Agent)
	}()

	rt, ok := e.task.Runtime(item.Agent)
	if !ok {
		e.task.Plan.Fail(item.ID, "agent unknown")
		o.persistPlan(ctx, e)
		o.metrics.IncCounter("orchestrator.dispatch_errors", 1, "agent", item.Agent, "reason", "unknown_agent")
		span.RecordError(errs.Newf(errs.KindAgentUnknown, "plan item %q references unknown agent %q", item.ID, item.Agent))
		span.SetStatus(codes.Error, "unknown agent")
		return "", errs.Newf(errs.KindAgentUnknown, "plan item %q references unknown agent %q", item.ID, item.Agent)
	}

	e.task.Plan.UpdateStatus(item.ID, plan.StatusInProgress)
	o.persistPlan(ctx, e)
	e.task.Bus.Publish(eventbus.KindAgentStatus, map[string]any{"agent": item.Agent, "status": "working"})

	briefing, err := o.assembleBriefing(ctx, e, item)
	if err != nil {
		return "", err
	}

	history := e.task.History.BrainMessages()
	userTurn := item.Action
	if briefing != "" {
		userTurn = item.Action + "\n\nDependency artifacts:\n" + briefing
	}
	history = append(history, brain.Message{Role: brain.RoleUser, Text: userTurn})

	result, stepErr := rt.Step(ctx, o.agentSystemPrompt(item), history)
	if stepErr != nil {
		e.task.Plan.Fail(item.ID, stepErr.Error())
		o.persistPlan(ctx, e)
		o.metrics.IncCounter("orchestrator.dispatch_errors", 1, "agent", item.Agent, "reason", "step_failed")
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, "agent step failed")
		return o.applyFailurePolicy(e, item, stepErr)
	}

	for _, tr := range result.ToolRounds {
		e.task.History.Append(task.NewToolCallMessage(item.Agent, tr.ToolCalls))
		for _, res := range tr.Results {
			errMsg := ""
			if res.Error != nil {
				errMsg = res.Error.Error()
			}
			e.task.History.Append(task.NewToolResultMessage(res.ToolCallID, res.Error == nil, res.Output, errMsg))
		}
	}
	e.task.History.Append(task.NewAssistantMessage(item.Agent, result.Final.Text))
	o.persistHistory(ctx, e)
	e.task.Bus.Publish(eventbus.KindAgentStatus, map[string]any{"agent": item.Agent, "status": "idle"})

	missing, probeErr := o.missingArtifacts(ctx, e, item)
	if probeErr != nil {
		return "", probeErr
	}
	if len(missing) > 0 {
		reason := fmt.Sprintf("declared artifact(s) not found: %s", strings.Join(missing, ", "))
		e.task.Plan.Fail(item.ID, reason)
		o.persistPlan(ctx, e)
		return o.applyFailurePolicy(e, item, errs.New(errs.KindArtifactMissing, reason))
	}

	e.task.Plan.UpdateStatus(item.ID, plan.StatusCompleted)
	if ref := firstArtifact(item.Action); ref != "" {
		e.task.Plan.SetResult(item.ID, ref)
	}
	o.persistPlan(ctx, e)
	e.task.Bus.Publish(eventbus.KindTaskUpdate, map[string]any{
		"task_id": e.task.ID, "item": item.ID, "status": "completed",
	})
	span.SetStatus(codes.Ok, "")
	return fmt.Sprintf("item %s completed by %s", item.ID, item.Agent), nil
}

// firstArtifact returns the first artifact filename Declared finds in
// action, used to populate a completed item's ResultRef when it names
// one (spec.md §3 "optional result_ref (artifact name or scalar)").
func firstArtifact(action string) string {
	names := workspace.Declared(action)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// applyFailurePolicy reacts to a failed item per its on_failure_policy
// (spec.md §3 PlanItem, §4.6 step 2's policy table, applied here at the
// point of the failure itself rather than only at the next deadlock).
func (o *Orchestrator) applyFailurePolicy(e *entry, item plan.Item, cause error) (string, error) {
	switch item.OnFailurePolicy {
	case plan.OnFailureEscalate:
		e.task.SetStatus(task.StatusAwaitingInput)
		return fmt.Sprintf("item %s failed (%v); awaiting user input", item.ID, cause), nil
	case plan.OnFailureHalt:
		e.task.Fail(fmt.Sprintf("item %s failed", item.ID), cause)
		return "", errs.Wrap(errs.KindPlanInvalid, fmt.Sprintf("item %s failed and halted the task", item.ID), cause)
	default:
		return fmt.Sprintf("item %s failed (%v); proceeding per on_failure_policy", item.ID, cause), nil
	}
}

// missingArtifacts probes the Workspace for every filename Declared finds
// in item's action, returning those absent (spec.md §4.6 step 7: "The
// Orchestrator verifies artifact presence by probing the Workspace").
func (o *Orchestrator) missingArtifacts(ctx context.Context, e *entry, item plan.Item) ([]string, error) {
	names := workspace.Declared(item.Action)
	var missing []string
	for _, n := range names {
		ok, err := e.task.Workspace.Exists(ctx, n)
		if err != nil {
			return nil, errs.Wrap(errs.KindArtifactMissing, "failed to probe workspace for declared artifact", err)
		}
		if !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

// assembleBriefing combines the artifacts of item's satisfied
// dependencies into a compact summary, leaking nothing unrelated to those
// dependencies (spec.md §4.6 step 4).
func (o *Orchestrator) assembleBriefing(ctx context.Context, e *entry, item plan.Item) (string, error) {
	var names []string
	for _, depID := range item.Dependencies {
		dep, ok := e.task.Plan.Get(depID)
		if !ok {
			continue
		}
		names = append(names, workspace.Declared(dep.Action)...)
	}
	if len(names) == 0 {
		return "", nil
	}
	summary, err := e.task.Workspace.Summary(ctx, names...)
	if err != nil {
		return "", errs.Wrap(errs.KindArtifactMissing, "failed to summarize dependency artifacts", err)
	}
	return summary, nil
}

// agentSystemPrompt composes the per-item system prompt an AgentRuntime
// step uses (spec.md §4.5 step 1 "compose the effective system prompt").
func (o *Orchestrator) agentSystemPrompt(item plan.Item) string {
	return fmt.Sprintf(
		"You are the %q agent in a multi-agent plan. Complete the following task, writing every "+
			"artifact it names to the shared workspace, then reply with a short confirmation.",
		item.Agent)
}

// chatVerdict is the planning Brain's typed classification of a chat
// message (spec.md §4.6 "Classification of chat messages").
type chatVerdict struct {
	Kind   string `json:"kind"` // "qa" | "revision" | "approval"
	Answer string `json:"answer,omitempty"`
}

// Chat handles conversational input: it may trigger plan revision or
// answer a question, but never autonomously executes plan items
// (spec.md §4.6 "chat(message) → response").
func (o *Orchestrator) Chat(id, message string) (string, error) {
	e, err := o.entry(id)
	if err != nil {
		return "", err
	}

	e.task.History.Append(task.NewUserMessage(message))
	o.persistHistory(e.ctx, e)

	verdict, err := o.classifyChat(e, message)
	if err != nil {
		return "", err
	}

	if verdict.Kind == "revision" && e.task.Plan != nil {
		return o.revisePlan(e, message)
	}

	reply := verdict.Answer
	if reply == "" {
		reply = "acknowledged"
	}
	e.task.History.Append(task.NewAssistantMessage("orchestrator", reply))
	o.persistHistory(e.ctx, e)
	return reply, nil
}

// classifyChat asks the planning Brain to classify message as Q&A,
// revision, or approval (spec.md §4.6 "the Orchestrator gives it the
// current plan, the user message, and a rubric, and accepts its typed
// verdict"). A response that fails to parse as the expected JSON shape is
// treated as a plain Q&A answer rather than a hard error, since a Brain
// that ignores the JSON-only instruction has still very likely answered
// the question in prose.
func (o *Orchestrator) classifyChat(e *entry, message string) (chatVerdict, error) {
	const rubric = "Classify the user's message as exactly one of: \"qa\" (a question or remark to " +
		"answer directly), \"revision\" (a request that changes the plan), or \"approval\" " +
		"(acknowledging current progress, no change needed). Respond with ONLY JSON: " +
		"{\"kind\": \"...\", \"answer\": \"...\"} where answer is your direct reply for qa/approval " +
		"and empty for revision."

	var planJSON string
	if e.task.Plan != nil {
		if data, err := json.Marshal(e.task.Plan); err == nil {
			planJSON = string(data)
		}
	}
	prompt := fmt.Sprintf("Current plan:\n%s\n\nUser message: %s", planJSON, message)

	resp, err := o.planningBrain.Generate(e.ctx, []brain.Message{{Role: brain.RoleUser, Text: prompt}}, nil, rubric)
	if err != nil {
		return chatVerdict{}, errs.Wrap(errs.KindBrainUnavailable, "chat classification failed", err)
	}

	var v chatVerdict
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &v); err != nil {
		return chatVerdict{Kind: "qa", Answer: resp.Text}, nil
	}
	return v, nil
}

// revisePlan implements spec.md §4.6's plan-revision protocol: snapshot
// the completed set, ask the Brain for a revised plan that preserves it,
// validate (bounded to MaxRepairAttempts), and replace the plan
// atomically. A revision that cannot be made valid within the attempt
// budget leaves the old plan in place and escalates rather than failing
// the task outright (resolved Open Question #2, SPEC_FULL.md §4.6).
func (o *Orchestrator) revisePlan(e *entry, userMessage string) (string, error) {
	previous := e.task.Plan
	completed := previous.Completed()
	completedIDs := make([]string, 0, len(completed))
	for id := range completed {
		completedIDs = append(completedIDs, id)
	}
	sort.Strings(completedIDs)

	sysPrompt := o.planningSystemPrompt() + "\n\nThe items whose ids are listed as completed below " +
		"MUST be preserved unchanged: same id, same action, same agent, status completed."
	previousJSON, _ := json.Marshal(previous)
	messages := []brain.Message{{Role: brain.RoleUser, Text: fmt.Sprintf(
		"Current plan:\n%s\n\nCompleted item ids (must be preserved): %s\n\nUser request: %s",
		previousJSON, strings.Join(completedIDs, ", "), userMessage)}}

	var lastErr error
	for attempt := 1; attempt <= MaxRepairAttempts; attempt++ {
		resp, err := o.planningBrain.Generate(e.ctx, messages, nil, sysPrompt)
		if err != nil {
			return "", errs.Wrap(errs.KindPlanGenerationFailed, "revision brain call failed", err)
		}
		messages = append(messages, brain.Message{Role: brain.RoleAssistant, Text: resp.Text})

		items, err := parsePlanItems(resp.Text)
		if err == nil {
			normalizeItems(items)
			if err = o.validateAgents(items); err == nil {
				var revised *plan.Plan
				if revised, err = plan.Revise(previous, items); err == nil {
					e.task.Plan = revised
					o.persistPlan(e.ctx, e)

					var regenerated []string
					for _, it := range items {
						if !completed[it.ID] {
							regenerated = append(regenerated, it.ID)
						}
					}
					e.task.Bus.Publish(eventbus.KindTaskUpdate, map[string]any{
						"task_id": e.task.ID, "event": "plan_revised",
						"preserved": completedIDs, "regenerated": regenerated,
					})
					return "plan revised", nil
				}
			}
		}

		lastErr = err
		messages = append(messages, brain.Message{Role: brain.RoleSystem, Text: fmt.Sprintf(
			"revision invalid: %v. Respond again, preserving completed items exactly, with a "+
				"corrected JSON array only.", err)})
	}

	o.logger.Warn(e.ctx, "orchestrator: plan revision exhausted repair attempts", "task_id", e.task.ID, "error", lastErr)
	e.task.SetStatus(task.StatusAwaitingInput)
	e.task.Bus.Publish(eventbus.KindTaskUpdate, map[string]any{
		"task_id": e.task.ID, "event": "revision_failed",
	})
	return "plan revision failed after repeated attempts; awaiting user input", nil
}
