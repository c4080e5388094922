package task

// ExecutionMode selects whether a Task runs its plan without prompting the
// user between items, or pauses for operator input at each natural
// checkpoint (spec.md §6 "execution.mode").
type ExecutionMode string

const (
	ExecutionAutonomous ExecutionMode = "autonomous"
	ExecutionInteractive ExecutionMode = "interactive"
)

// AgentConfig describes one member of a team: either a bare preset name
// (Name set, everything else zero) or a full record naming its prompt
// template and tool allowlist (spec.md §6 "agents").
type AgentConfig struct {
	Name               string            `yaml:"name"`
	Description        string            `yaml:"description"`
	PromptTemplatePath string            `yaml:"prompt_template_path"`
	Tools              []string          `yaml:"tools"`
	BrainConfig        map[string]string `yaml:"brain_config"`
}

// OrchestratorConfig configures the Orchestrator's own Brain and round/time
// budgets (spec.md §6 "orchestrator").
type OrchestratorConfig struct {
	BrainConfig map[string]string `yaml:"brain_config"`
	MaxRounds   int               `yaml:"max_rounds"`
	Timeout     int               `yaml:"timeout"`
}

// Handoff is advisory input to the planner, not an enforced transition
// (spec.md §6 "handoffs").
type Handoff struct {
	FromAgent string `yaml:"from_agent"`
	ToAgent   string `yaml:"to_agent"`
	Condition string `yaml:"condition"`
}

// ExecutionConfig governs how a Task's plan is driven (spec.md §6
// "execution").
type ExecutionConfig struct {
	Mode           ExecutionMode `yaml:"mode"`
	MaxRounds      int           `yaml:"max_rounds"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	InitialAgent   string        `yaml:"initial_agent"`
}

// TeamConfig is the immutable configuration a Task is constructed from
// (spec.md §3 "TeamConfig (immutable)", §6 "Configuration (TeamConfig)
// recognised keys"). config.Load parses this shape from YAML; New takes an
// already-validated TeamConfig so the task package has no parsing
// dependency of its own.
type TeamConfig struct {
	Name         string             `yaml:"name"`
	Description  string             `yaml:"description"`
	Agents       []AgentConfig      `yaml:"agents"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Handoffs     []Handoff          `yaml:"handoffs"`
	Execution    ExecutionConfig    `yaml:"execution"`
}

// AgentNames returns the configured agent names, in declaration order.
func (c TeamConfig) AgentNames() []string {
	names := make([]string, len(c.Agents))
	for i, a := range c.Agents {
		names[i] = a.Name
	}
	return names
}

// HasAgent reports whether name is a declared team member.
func (c TeamConfig) HasAgent(name string) bool {
	for _, a := range c.Agents {
		if a.Name == name {
			return true
		}
	}
	return false
}
