// Package tool ships reference Tool implementations that exercise the
// Registry/Executor contract end to end against a Workspace (spec.md §6
// "Tool interface the core consumes", supplemented per SPEC_FULL.md
// §4.8). These are the methods the S1/S2/S6 scenarios in spec.md §8
// dispatch: an agent writes a declared artifact, and later reads one a
// dependency produced.
//
// Grounded on the teacher's @tool-annotated method discovery
// (runtime/agent/tools), simplified to direct registration against a
// toolregistry.Registry since this module has no Goa DSL/codegen layer to
// discover markers at build time.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/toolregistry"
	"github.com/conductorrun/conductor/workspace"
)

// writeArgs is the argument shape fswrite's single method accepts. The
// jsonschema tags drive toolregistry.GenerateSchema's reflection.
type writeArgs struct {
	Name          string `json:"name" jsonschema:"required,description=workspace-relative artifact path to write"`
	Content       string `json:"content" jsonschema:"required,description=the full text content to write"`
	ContentType   string `json:"content_type,omitempty" jsonschema:"description=MIME type\\, defaults to text/plain"`
	CommitMessage string `json:"commit_message,omitempty" jsonschema:"description=short note describing this write"`
}

type writeResult struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// FSWrite is a Tool that writes a named artifact to a Workspace, creating
// a new version every call (Workspace.Write is append-only per spec.md
// §4.3). One FSWrite is constructed per Task, closed over that Task's
// Workspace, matching the per-task isolation rule (spec.md §4.2).
type FSWrite struct {
	Workspace workspace.Workspace
	Bus       *eventbus.Bus
}

// NewFSWrite constructs an FSWrite tool bound to ws, publishing
// artifact_created/artifact_updated on bus for every write (spec.md §4.4's
// minimum event set).
func NewFSWrite(ws workspace.Workspace, bus *eventbus.Bus) *FSWrite {
	return &FSWrite{Workspace: ws, Bus: bus}
}

// Methods implements toolregistry.Tool.
func (t *FSWrite) Methods() []toolregistry.Method {
	schema, err := toolregistry.GenerateSchema(writeArgs{})
	if err != nil {
		panic(fmt.Sprintf("tool: fswrite schema generation: %v", err))
	}
	return []toolregistry.Method{
		{
			Name:        "fswrite",
			Description: "Write (or overwrite with a new version of) a named artifact in the task workspace.",
			Schema:      schema,
			Handler:     t.invoke,
		},
	}
}

func (t *FSWrite) invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a writeArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	commitMessage := a.CommitMessage
	if commitMessage == "" {
		commitMessage = "agent write"
	}

	version, err := t.Workspace.Write(ctx, a.Name, []byte(a.Content), contentType, commitMessage)
	if err != nil {
		return nil, err
	}
	if t.Bus != nil {
		kind := eventbus.KindArtifactUpdated
		if version == 1 {
			kind = eventbus.KindArtifactCreated
		}
		t.Bus.Publish(kind, map[string]any{"name": a.Name, "version": version})
	}
	return json.Marshal(writeResult{Name: a.Name, Version: version})
}

var _ toolregistry.Tool = (*FSWrite)(nil)
