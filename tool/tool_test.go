package tool_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/tool"
	"github.com/conductorrun/conductor/toolregistry"
	"github.com/conductorrun/conductor/workspace"
)

func newFS(t *testing.T) *workspace.FS {
	t.Helper()
	fs, err := workspace.NewFS(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func newBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(func() { bus.Close() })
	return bus
}

func newExecutor(t *testing.T, bus *eventbus.Bus, tools ...toolregistry.Tool) *toolregistry.Executor {
	t.Helper()
	reg := toolregistry.New()
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	return toolregistry.NewExecutor(reg, bus)
}

func TestFSWriteThenFSReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	ws := newFS(t)
	bus := newBus(t)
	exec := newExecutor(t, bus, tool.NewFSWrite(ws, bus), tool.NewFSRead(ws))

	writeArgs, err := json.Marshal(map[string]string{"name": "research_hello.md", "content": "hello world"})
	require.NoError(t, err)
	writeRes := exec.Execute(ctx, toolregistry.Call{ToolCallID: "c1", Name: "fswrite", Args: writeArgs})
	require.Nil(t, writeRes.Error)

	readArgs, err := json.Marshal(map[string]string{"name": "research_hello.md"})
	require.NoError(t, err)
	readRes := exec.Execute(ctx, toolregistry.Call{ToolCallID: "c2", Name: "fsread", Args: readArgs})
	require.Nil(t, readRes.Error)

	var out struct {
		Found   bool   `json:"found"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(readRes.Output, &out))
	assert.True(t, out.Found)
	assert.Equal(t, "hello world", out.Content)
}

func TestFSReadMissingArtifactReportsNotFound(t *testing.T) {
	ctx := context.Background()
	ws := newFS(t)
	exec := newExecutor(t, newBus(t), tool.NewFSRead(ws))

	args, err := json.Marshal(map[string]string{"name": "ghost.md"})
	require.NoError(t, err)
	res := exec.Execute(ctx, toolregistry.Call{ToolCallID: "c1", Name: "fsread", Args: args})
	require.Nil(t, res.Error)

	var out struct {
		Found bool `json:"found"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.False(t, out.Found)
}

func TestFSWriteRejectsMissingRequiredField(t *testing.T) {
	ctx := context.Background()
	ws := newFS(t)
	bus := newBus(t)
	exec := newExecutor(t, bus, tool.NewFSWrite(ws, bus))

	args, err := json.Marshal(map[string]string{"content": "no name given"})
	require.NoError(t, err)
	res := exec.Execute(ctx, toolregistry.Call{ToolCallID: "c1", Name: "fswrite", Args: args})
	require.NotNil(t, res.Error)
}

func TestFSWriteNewVersionOnEachCall(t *testing.T) {
	ctx := context.Background()
	ws := newFS(t)
	bus := newBus(t)
	exec := newExecutor(t, bus, tool.NewFSWrite(ws, bus))

	for i := 0; i < 2; i++ {
		args, err := json.Marshal(map[string]string{"name": "report.md", "content": "draft"})
		require.NoError(t, err)
		res := exec.Execute(ctx, toolregistry.Call{ToolCallID: "c", Name: "fswrite", Args: args})
		require.Nil(t, res.Error)
	}

	versions, err := ws.Versions(ctx, "report.md")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}
