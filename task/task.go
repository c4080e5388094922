// Package task implements the Task (a.k.a. Session) aggregate: the root
// object that exclusively owns a Plan, Workspace, EventBus, ToolRegistry,
// the set of AgentRuntimes and the conversation History for one goal
// (spec.md §3). The Orchestrator drives a Task's plan-execution loop;
// Task itself only owns state and enforces the status machine.
//
// Grounded on the teacher's agents/runtime/session.RunContext/Run/Store:
// that package tracks run metadata for a single durable workflow
// invocation. This module's Task generalizes that shape into the full
// owning aggregate spec.md §3 requires (the teacher's session is a thin
// metadata record written to an external Store; this Task directly owns
// the live Plan/Workspace/EventBus/AgentRuntimes rather than pointing at
// them through a session ID).
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductorrun/conductor/agentruntime"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/plan"
	"github.com/conductorrun/conductor/telemetry"
	"github.com/conductorrun/conductor/toolregistry"
	"github.com/conductorrun/conductor/workspace"
)

// Status is a Task's lifecycle state (spec.md §3).
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusAwaitingInput  Status = "awaiting_input"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// terminal reports whether a Status has no further legal transitions.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is the root aggregate: it exclusively owns its Plan, Workspace,
// EventBus, ToolRegistry/Executor and AgentRuntimes, all of which are torn
// down when the Task is closed (spec.md §3 "Ownership").
type Task struct {
	ID        string
	CreatedAt time.Time
	Config    TeamConfig

	mu     sync.Mutex
	status Status

	Plan      *plan.Plan
	Workspace workspace.Workspace
	Bus       *eventbus.Bus
	Registry  *toolregistry.Registry
	Executor  *toolregistry.Executor
	History   *History

	runtimes map[string]*agentruntime.Runtime

	logger  telemetry.Logger
	tracer  telemetry.Tracer
	metrics telemetry.Metrics

	cancel context.CancelFunc
}

// Option configures a Task at construction.
type Option func(*Task)

func WithLogger(l telemetry.Logger) Option    { return func(t *Task) { t.logger = l } }
func WithTracer(tr telemetry.Tracer) Option   { return func(t *Task) { t.tracer = tr } }
func WithMetrics(m telemetry.Metrics) Option  { return func(t *Task) { t.metrics = m } }

// WithID overrides the Task's generated ID. Used by callers (the
// orchestrator package) that need to know the ID before construction, e.g.
// to lay out a per-task Workspace directory.
func WithID(id string) Option { return func(t *Task) { t.ID = id } }

// New constructs a pending Task for goal around the given Workspace,
// wiring a fresh EventBus, ToolRegistry and Executor (spec.md §3's "A Task exclusively
// owns its Workspace, EventBus, Plan and AgentRuntimes"). The initial user
// message (goal) is appended to History but no plan is generated and no
// execution begins — that is start()'s contract (spec.md §4.6), carried
// out by the orchestrator package against the Task this constructs.
func New(cfg TeamConfig, ws workspace.Workspace, goal string, opts ...Option) *Task {
	bus := eventbus.New()
	registry := toolregistry.New()
	t := &Task{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Config:    cfg,
		status:    StatusPending,
		Workspace: ws,
		Bus:       bus,
		Registry:  registry,
		Executor:  toolregistry.NewExecutor(registry, bus),
		History:   NewHistory(),
		runtimes:  make(map[string]*agentruntime.Runtime),
		logger:    telemetry.NewNoopLogger(),
		tracer:    telemetry.NewNoopTracer(),
		metrics:   telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(t)
	}
	t.Executor = toolregistry.NewExecutor(registry, bus,
		toolregistry.WithLogger(t.logger), toolregistry.WithTracer(t.tracer), toolregistry.WithMetrics(t.metrics))
	t.History.Append(NewUserMessage(goal))
	return t
}

// RegisterRuntime attaches an AgentRuntime under name, the agent name a
// PlanItem's `agent` field resolves against (spec.md §4.6 step 3). A Task
// constructed without a runtime for every configured agent will fail plan
// dispatch with AgentUnknown when the Orchestrator resolves that agent.
func (t *Task) RegisterRuntime(name string, rt *agentruntime.Runtime) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runtimes[name] = rt
}

// Runtime returns the AgentRuntime registered under name.
func (t *Task) Runtime(name string) (*agentruntime.Runtime, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.runtimes[name]
	return rt, ok
}

// Status returns the Task's current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// legalStatusTransitions mirrors plan.legalTransitions: a small table of
// allowed forward moves, validated by a pure function rather than
// subclassed state objects (spec.md §9 "Plan as tagged graph").
var legalStatusTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true, StatusFailed: true},
	StatusRunning: {
		StatusAwaitingInput: true,
		StatusCompleted:     true,
		StatusFailed:        true,
		StatusCancelled:     true,
	},
	StatusAwaitingInput: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// SetStatus transitions the Task's status, rejecting illegal moves and
// no-ops out of a terminal state. Emits a task_update event on every
// accepted transition (spec.md §4.6 step 8 "Emit task_update").
func (t *Task) SetStatus(newStatus Status) bool {
	t.mu.Lock()
	from := t.status
	if from == newStatus {
		t.mu.Unlock()
		return true
	}
	if from.terminal() {
		t.mu.Unlock()
		return false
	}
	allowed, ok := legalStatusTransitions[from]
	if !ok || !allowed[newStatus] {
		t.mu.Unlock()
		return false
	}
	t.status = newStatus
	t.mu.Unlock()

	t.Bus.Publish(eventbus.KindTaskUpdate, map[string]any{
		"task_id": t.ID, "from": string(from), "to": string(newStatus),
	})
	return true
}

// Context returns a context bound to this Task's lifetime: cancelling it
// (via Cancel) aborts every in-flight Brain/tool call the Task's
// AgentRuntimes are awaiting (spec.md §5 "Cancellation & timeouts").
func (t *Task) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	return ctx
}

// Cancel aborts the Task: cancels its context, marks the current status
// cancelled, emits a final task_update and closes the EventBus so no
// further message or tool_call_* events are observable afterward
// (spec.md §8 property 9).
func (t *Task) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	already := t.status.terminal()
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if already {
		return
	}
	t.SetStatus(StatusCancelled)
	t.Bus.Close()
}

// Close releases the Task's owned resources (spec.md §3 "all are torn
// down when the Task is deleted"): closes the Workspace (DB handle) and
// the EventBus if still open.
func (t *Task) Close() error {
	t.Bus.Close()
	return t.Workspace.Close()
}

// Fail transitions the Task to failed, recording reason via a log_entry
// event before the status transition's task_update (spec.md §7
// "Unexpected errors in core subsystems are logged via log_entry, the
// Task transitions to failed").
func (t *Task) Fail(reason string, cause error) {
	t.Bus.Publish(eventbus.KindLogEntry, map[string]any{
		"task_id": t.ID, "level": "error", "message": reason, "error": errorString(cause),
	})
	t.SetStatus(StatusFailed)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
