package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conductorrun/conductor/toolregistry"
	"github.com/conductorrun/conductor/workspace"
)

// readArgs is the argument shape fsread's single method accepts.
// Version==0 (the zero value, and also the json default for an omitted
// field) means "the latest version", matching Workspace.Read's own
// convention (spec.md §4.3 "fetching without version returns the
// latest").
type readArgs struct {
	Name    string `json:"name" jsonschema:"required,description=workspace-relative artifact path to read"`
	Version int    `json:"version,omitempty" jsonschema:"description=specific version to read\\, or omit for the latest"`
}

type readResult struct {
	Name    string `json:"name"`
	Found   bool   `json:"found"`
	Content string `json:"content,omitempty"`
}

// FSRead is a Tool that reads a named artifact back out of a Workspace,
// the counterpart to FSWrite used when a plan item's briefing names a
// dependency's artifact rather than inlining its full content.
type FSRead struct {
	Workspace workspace.Workspace
}

// NewFSRead constructs an FSRead tool bound to ws.
func NewFSRead(ws workspace.Workspace) *FSRead {
	return &FSRead{Workspace: ws}
}

// Methods implements toolregistry.Tool.
func (t *FSRead) Methods() []toolregistry.Method {
	schema, err := toolregistry.GenerateSchema(readArgs{})
	if err != nil {
		panic(fmt.Sprintf("tool: fsread schema generation: %v", err))
	}
	return []toolregistry.Method{
		{
			Name:        "fsread",
			Description: "Read a named artifact from the task workspace, optionally at a specific version.",
			Schema:      schema,
			Handler:     t.invoke,
		},
	}
}

func (t *FSRead) invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a readArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}

	content, ok, err := t.Workspace.Read(ctx, a.Name, a.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return json.Marshal(readResult{Name: a.Name, Found: false})
	}
	return json.Marshal(readResult{Name: a.Name, Found: true, Content: string(content)})
}

var _ toolregistry.Tool = (*FSRead)(nil)
