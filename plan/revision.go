package plan

import "fmt"

// Revise validates a proposed replacement plan against the set of
// previously completed item IDs and, if valid, returns the new Plan.
// Per spec.md §4.6 step (c): any attempt to alter a preserved item (same
// ID, action, status) is rejected with an error describing which item and
// field changed, so the Orchestrator can feed the message back to the
// Brain and retry within its bounded attempt budget.
func Revise(previous *Plan, proposed []Item) (*Plan, error) {
	completed := previous.Completed()
	previousByID := make(map[string]Item, len(previous.items))
	for _, it := range previous.items {
		previousByID[it.ID] = it
	}

	seen := make(map[string]bool, len(completed))
	for _, it := range proposed {
		if !completed[it.ID] {
			continue
		}
		seen[it.ID] = true
		prior := previousByID[it.ID]
		if it.Action != prior.Action {
			return nil, fmt.Errorf("plan: revision altered action of preserved item %q", it.ID)
		}
		if it.Status != StatusCompleted {
			return nil, fmt.Errorf("plan: revision altered status of preserved item %q", it.ID)
		}
		if it.Agent != prior.Agent {
			return nil, fmt.Errorf("plan: revision altered agent of preserved item %q", it.ID)
		}
	}
	for id := range completed {
		if !seen[id] {
			return nil, fmt.Errorf("plan: revision dropped preserved item %q", id)
		}
	}

	return New(proposed)
}
