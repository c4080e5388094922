// Package plan implements the in-memory DAG of work items an Orchestrator
// dispatches to agents: dependency resolution, actionable-task selection,
// and status propagation. Plan items are records with a status field, not a
// polymorphic hierarchy of state classes; transitions are validated by a
// lookup table (legalTransitions, applied by UpdateStatus), following the same "data, not
// subclasses" philosophy the teacher applies to its policy decisions.
package plan

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a PlanItem.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// FailurePolicy governs how the plan reacts when a blocked item's
// dependency has failed.
type FailurePolicy string

const (
	// OnFailureProceed skips the blocked item and continues the plan.
	OnFailureProceed FailurePolicy = "proceed"
	// OnFailureHalt fails the entire task.
	OnFailureHalt FailurePolicy = "halt"
	// OnFailureEscalate transitions the task to awaiting_input.
	OnFailureEscalate FailurePolicy = "escalate"
)

// Item is a single unit of work in a Plan. Action is a natural-language
// instruction that, by convention, names the artifact filenames the agent
// must write (see Declared in the workspace package).
type Item struct {
	ID              string        `json:"id"`
	Action          string        `json:"action"`
	Agent           string        `json:"agent"`
	Dependencies    []string      `json:"dependencies"`
	Status          Status        `json:"status"`
	OnFailurePolicy FailurePolicy `json:"on_failure_policy"`
	ResultRef       string        `json:"result_ref,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
}

// Counts tallies items per status, returned by ProgressSummary.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Total      int `json:"total"`
}

// Plan is an ordered, acyclic sequence of Items. Plan is not safe for
// concurrent use by multiple goroutines without external synchronization;
// the Task aggregate serializes access under its own lock (spec.md §5).
type Plan struct {
	items []Item

	index       map[string]int      // id -> index into items, preserves plan order semantics
	reverseDeps map[string][]string // id -> ids that depend on it
	unmet       map[string]int      // id -> count of not-yet-completed dependencies
}

// New constructs a Plan from items, validating uniqueness of IDs, that every
// dependency reference resolves, and that the dependency graph is acyclic.
// Items retain the order supplied; that order is the tie-break order used
// by NextActionable and AllActionable.
func New(items []Item) (*Plan, error) {
	p := &Plan{items: items}
	if err := p.reindex(); err != nil {
		return nil, err
	}
	return p, nil
}

// reindex rebuilds the derived indexes (index, reverseDeps, unmet) from
// p.items and validates the graph. Called by New and UnmarshalJSON; a
// revised plan goes through New (see Revise).
func (p *Plan) reindex() error {
	index := make(map[string]int, len(p.items))
	for i, it := range p.items {
		if it.ID == "" {
			return fmt.Errorf("plan: item at index %d has empty id", i)
		}
		if _, dup := index[it.ID]; dup {
			return fmt.Errorf("plan: duplicate item id %q", it.ID)
		}
		index[it.ID] = i
	}
	for _, it := range p.items {
		for _, dep := range it.Dependencies {
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("plan: item %q depends on unknown item %q", it.ID, dep)
			}
		}
	}
	if cyc := findCycle(p.items, index); cyc != "" {
		return fmt.Errorf("plan: cyclic dependency detected at item %q", cyc)
	}

	reverse := make(map[string][]string, len(p.items))
	unmet := make(map[string]int, len(p.items))
	byID := make(map[string]Item, len(p.items))
	for _, it := range p.items {
		byID[it.ID] = it
	}
	for _, it := range p.items {
		count := 0
		for _, dep := range it.Dependencies {
			reverse[dep] = append(reverse[dep], it.ID)
			if byID[dep].Status != StatusCompleted {
				count++
			}
		}
		unmet[it.ID] = count
	}

	p.index = index
	p.reverseDeps = reverse
	p.unmet = unmet
	return nil
}

// findCycle runs Kahn's algorithm and returns the ID of an item left
// unresolved (part of a cycle) or "" if the graph is acyclic. Runs in
// O(V+E).
func findCycle(items []Item, index map[string]int) string {
	indegree := make(map[string]int, len(items))
	adj := make(map[string][]string, len(items))
	for _, it := range items {
		if _, ok := indegree[it.ID]; !ok {
			indegree[it.ID] = 0
		}
		for _, dep := range it.Dependencies {
			adj[dep] = append(adj[dep], it.ID)
			indegree[it.ID]++
		}
	}

	queue := make([]string, 0, len(items))
	for _, it := range items {
		if indegree[it.ID] == 0 {
			queue = append(queue, it.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(items) {
		return ""
	}
	for _, it := range items {
		if indegree[it.ID] > 0 {
			return it.ID
		}
	}
	return ""
}

// Items returns a defensive copy of the plan's items in plan order.
func (p *Plan) Items() []Item {
	out := make([]Item, len(p.items))
	copy(out, p.items)
	return out
}

// Get returns the item with the given ID.
func (p *Plan) Get(id string) (Item, bool) {
	i, ok := p.index[id]
	if !ok {
		return Item{}, false
	}
	return p.items[i], true
}

// NextActionable returns a pending item whose dependencies are all
// completed, or false if none is ready. Ties are broken by plan order
// (earlier index wins). Scans the items in plan order, O(V), checking each
// against the unmet-dependency index maintained by UpdateStatus.
func (p *Plan) NextActionable() (Item, bool) {
	for _, it := range p.items {
		if it.Status == StatusPending && p.unmet[it.ID] == 0 {
			return it, true
		}
	}
	return Item{}, false
}

// AllActionable returns every currently actionable item, in plan order,
// capped at max items if max > 0.
func (p *Plan) AllActionable(max int) []Item {
	var out []Item
	for _, it := range p.items {
		if it.Status == StatusPending && p.unmet[it.ID] == 0 {
			out = append(out, it)
			if max > 0 && len(out) >= max {
				break
			}
		}
	}
	return out
}

// legalTransitions enumerates the only forward moves UpdateStatus accepts.
// Reset is the sole path back to pending and is not part of this table.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusInProgress: true, StatusSkipped: true},
	StatusInProgress: {StatusCompleted: true, StatusFailed: true},
}

// UpdateStatus transitions the item with the given ID to newStatus,
// enforcing the legal-transition table. Returns false (without error) if
// the item does not exist or the transition is illegal, matching spec.md
// §4.1's "enforces legal transitions; rejects illegal moves" contract.
func (p *Plan) UpdateStatus(id string, newStatus Status) bool {
	i, ok := p.index[id]
	if !ok {
		return false
	}
	from := p.items[i].Status
	if from == newStatus {
		return true
	}
	allowed, ok := legalTransitions[from]
	if !ok || !allowed[newStatus] {
		return false
	}
	p.items[i].Status = newStatus
	if newStatus == StatusCompleted {
		for _, dependent := range p.reverseDeps[id] {
			p.unmet[dependent]--
		}
	}
	return true
}

// SetResult records a completed item's result reference (an artifact name
// or scalar value, spec.md §3 "optional result_ref"). Returns false if id
// does not exist.
func (p *Plan) SetResult(id, ref string) bool {
	i, ok := p.index[id]
	if !ok {
		return false
	}
	p.items[i].ResultRef = ref
	return true
}

// Fail transitions an in_progress item to failed and records a reason. It
// returns false, changing nothing, if the item does not exist or is not
// in_progress. Applying the item's failure policy is left to the caller
// (Orchestrator) since the reaction is task-level, not plan-level (spec.md
// §4.6 step 2).
func (p *Plan) Fail(id, reason string) bool {
	if !p.UpdateStatus(id, StatusFailed) {
		return false
	}
	i := p.index[id]
	p.items[i].FailureReason = reason
	return true
}

// IsComplete reports true iff every item is completed or skipped.
func (p *Plan) IsComplete() bool {
	for _, it := range p.items {
		if it.Status != StatusCompleted && it.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// HasFailed reports true iff any item is failed.
func (p *Plan) HasFailed() bool {
	for _, it := range p.items {
		if it.Status == StatusFailed {
			return true
		}
	}
	return false
}

// ProgressSummary tallies items by status.
func (p *Plan) ProgressSummary() Counts {
	var c Counts
	for _, it := range p.items {
		c.Total++
		switch it.Status {
		case StatusPending:
			c.Pending++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		}
	}
	return c
}

// Reset is an administrative operation (Revise does not call it; a revised
// plan is built fresh through New): it resets the item to pending and transitively resets every item that (transitively)
// depends on it, so stale completions downstream of a changed item cannot
// linger as actionable work built on outdated assumptions.
func (p *Plan) Reset(id string) {
	i, ok := p.index[id]
	if !ok {
		return
	}
	visited := map[string]bool{}
	var visit func(string)
	visit = func(cur string) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		idx := p.index[cur]
		p.items[idx].Status = StatusPending
		p.items[idx].FailureReason = ""
		for _, dependent := range p.reverseDeps[cur] {
			visit(dependent)
		}
	}
	visit(p.items[i].ID)
	_ = ok
	// Recompute unmet counts from scratch since an arbitrary subgraph moved
	// back to pending.
	p.recomputeUnmet()
}

func (p *Plan) recomputeUnmet() {
	byID := make(map[string]Item, len(p.items))
	for _, it := range p.items {
		byID[it.ID] = it
	}
	for _, it := range p.items {
		count := 0
		for _, dep := range it.Dependencies {
			if byID[dep].Status != StatusCompleted {
				count++
			}
		}
		p.unmet[it.ID] = count
	}
}

// MarshalJSON serialises the plan as an ordered array of items, so
// round-tripping through MarshalJSON/UnmarshalJSON is byte-identical per
// spec.md §8.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.items)
}

// UnmarshalJSON reconstructs a Plan from its serialised items, rebuilding
// derived indexes and re-validating acyclicity.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	p.items = items
	return p.reindex()
}

// Completed returns the set of item IDs currently completed, used by the
// Orchestrator's plan-revision protocol to pin down what must be preserved
// (spec.md §4.6 "Plan revision via chat").
func (p *Plan) Completed() map[string]bool {
	out := make(map[string]bool)
	for _, it := range p.items {
		if it.Status == StatusCompleted {
			out[it.ID] = true
		}
	}
	return out
}
