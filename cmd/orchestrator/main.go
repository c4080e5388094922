// Command orchestrator is a reference CLI over the core engine (spec.md §1
// "the HTTP/SSE surface, CLI ... are thin adapters over the core"). It
// loads a TeamConfig, starts a Task for a goal, and drives its plan loop
// to completion, printing the event stream and final artifact list.
//
// It wires every AgentRuntime to an in-process demonstration Brain
// (demoAgentBrain, with demoPlanningBrain for planning, both in run.go)
// rather than a concrete model provider: spec.md §1
// scopes the LLM provider as an external collaborator (the Brain
// interface), so this binary only proves the wiring, not a production
// integration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Reference CLI for the conductor task orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(buildRunCmd())
	return cmd
}
