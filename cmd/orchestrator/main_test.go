package main

import (
	"testing"

	"github.com/conductorrun/conductor/brain"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestLastUserTextFindsMostRecentUserMessage(t *testing.T) {
	messages := []brain.Message{
		{Role: brain.RoleUser, Text: "first goal"},
		{Role: brain.RoleAssistant, Text: "ack"},
		{Role: brain.RoleUser, Text: "second goal"},
	}
	if got := lastUserText(messages); got != "second goal" {
		t.Fatalf("expected %q, got %q", "second goal", got)
	}
}

func TestFirstDeclaredArtifactReturnsFirstMatch(t *testing.T) {
	got := firstDeclaredArtifact("produce report.md using research_hello.md")
	if got != "report.md" {
		t.Fatalf("expected report.md, got %q", got)
	}
}

func TestFirstDeclaredArtifactEmptyWhenNoneDeclared(t *testing.T) {
	got := firstDeclaredArtifact("summarize the findings")
	if got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
