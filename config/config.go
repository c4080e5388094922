// Package config loads and validates the TeamConfig shape spec.md §6
// defines (name, description, agents, orchestrator, handoffs, execution)
// from a YAML file, grounded on nevindra-oasis's internal/config package
// ("load once, validate cross-references") but using gopkg.in/yaml.v3
// rather than TOML, matching the teacher's own serialisation choice for
// structured config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conductorrun/conductor/task"
)

// Load reads path, parses it as the TeamConfig YAML shape, and validates
// that every agent name is unique and every handoff references a
// declared agent (spec.md §6). task.New's constructor and the
// orchestrator package trust a TeamConfig returned from Load to already
// satisfy these invariants.
func Load(path string) (task.TeamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return task.TeamConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a validated TeamConfig, the part of
// Load that does not touch the filesystem (used directly by tests and by
// callers that already have the document in memory).
func Parse(data []byte) (task.TeamConfig, error) {
	var cfg task.TeamConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return task.TeamConfig{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return task.TeamConfig{}, err
	}
	return cfg, nil
}

// Validate checks the cross-reference invariants spec.md §6 implies but
// does not itself enforce via the YAML shape: unique agent names, and
// handoffs that resolve to declared agents. A TeamConfig failing these
// checks would let the Orchestrator produce plans that dispatch to
// AgentUnknown at runtime instead of failing fast at load time.
func Validate(cfg task.TeamConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("config: team name is required")
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("config: team %q declares no agents", cfg.Name)
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.Name == "" {
			return fmt.Errorf("config: team %q has an agent with an empty name", cfg.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
	}

	for _, h := range cfg.Handoffs {
		if !cfg.HasAgent(h.FromAgent) {
			return fmt.Errorf("config: handoff references unknown from_agent %q", h.FromAgent)
		}
		if !cfg.HasAgent(h.ToAgent) {
			return fmt.Errorf("config: handoff references unknown to_agent %q", h.ToAgent)
		}
	}

	if cfg.Execution.InitialAgent != "" && !cfg.HasAgent(cfg.Execution.InitialAgent) {
		return fmt.Errorf("config: execution.initial_agent references unknown agent %q", cfg.Execution.InitialAgent)
	}

	return nil
}
