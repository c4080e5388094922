package toolregistry_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorrun/conductor/errs"
	"github.com/conductorrun/conductor/eventbus"
	"github.com/conductorrun/conductor/toolregistry"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

type echoTool struct{}

func (echoTool) Methods() []toolregistry.Method {
	schema, err := toolregistry.GenerateSchema(echoArgs{})
	if err != nil {
		panic(err)
	}
	return []toolregistry.Method{
		{
			Name:        "echo",
			Description: "echoes its input text back",
			Schema:      schema,
			Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				var a echoArgs
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, err
				}
				return json.Marshal(map[string]string{"echoed": a.Text})
			},
		},
	}
}

type flakyTool struct{ failuresLeft int }

func (f *flakyTool) Methods() []toolregistry.Method {
	return []toolregistry.Method{
		{
			Name: "flaky",
			Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				if f.failuresLeft > 0 {
					f.failuresLeft--
					return nil, errors.New("transient transport error")
				}
				return json.Marshal("ok")
			},
			Retry: toolregistry.RetryPolicy{MaxAttempts: 3},
		},
	}
}

func TestRegisterRejectsDuplicateMethodName(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(echoTool{}))
	assert.Error(t, reg.Register(echoTool{}))
}

func TestSchemasRejectsUnknownName(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(echoTool{}))
	_, err := reg.Schemas([]string{"echo", "ghost"})
	assert.Error(t, err)
}

func TestExecuteValidatesArgsAgainstSchema(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(echoTool{}))
	bus := eventbus.New()
	defer bus.Close()
	exec := toolregistry.NewExecutor(reg, bus)

	result := exec.Execute(context.Background(), toolregistry.Call{
		ToolCallID: "c1", Name: "echo", Args: json.RawMessage(`{}`),
	})
	require.NotNil(t, result.Error)
	assert.Equal(t, errs.KindToolSchemaError, result.Error.Kind)
}

func TestExecuteSucceedsWithValidArgs(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(echoTool{}))
	bus := eventbus.New()
	defer bus.Close()
	exec := toolregistry.NewExecutor(reg, bus)

	result := exec.Execute(context.Background(), toolregistry.Call{
		ToolCallID: "c1", Name: "echo", Args: json.RawMessage(`{"text":"hi"}`),
	})
	require.Nil(t, result.Error)
	assert.JSONEq(t, `{"echoed":"hi"}`, string(result.Output))
}

func TestExecuteUnknownToolReturnsSchemaError(t *testing.T) {
	reg := toolregistry.New()
	bus := eventbus.New()
	defer bus.Close()
	exec := toolregistry.NewExecutor(reg, bus)

	result := exec.Execute(context.Background(), toolregistry.Call{Name: "ghost"})
	require.NotNil(t, result.Error)
	assert.Equal(t, errs.KindToolSchemaError, result.Error.Kind)
}

func TestExecuteRetriesTransportFailureThenSucceeds(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(&flakyTool{failuresLeft: 2}))
	bus := eventbus.New()
	defer bus.Close()
	exec := toolregistry.NewExecutor(reg, bus)

	result := exec.Execute(context.Background(), toolregistry.Call{Name: "flaky"})
	require.Nil(t, result.Error)
	assert.Equal(t, 3, result.Attempts)
}

func TestExecutePublishesStartAndResultEvents(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(echoTool{}))
	bus := eventbus.New()
	sub := bus.Subscribe()
	defer sub.Close()
	exec := toolregistry.NewExecutor(reg, bus)

	exec.Execute(context.Background(), toolregistry.Call{Name: "echo", Args: json.RawMessage(`{"text":"hi"}`)})

	var kinds []eventbus.Kind
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.Events():
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []eventbus.Kind{eventbus.KindToolCallStart, eventbus.KindToolCallResult}, kinds)
}

func TestExecuteEnforcesPerCallTimeout(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(slowTool{}))
	bus := eventbus.New()
	defer bus.Close()
	exec := toolregistry.NewExecutor(reg, bus)

	result := exec.Execute(context.Background(), toolregistry.Call{Name: "slow"})
	require.NotNil(t, result.Error)
	assert.Equal(t, errs.KindTimeout, result.Error.Kind)
}

type slowTool struct{}

func (slowTool) Methods() []toolregistry.Method {
	return []toolregistry.Method{
		{
			Name:    "slow",
			Timeout: 0.01,
			Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				select {
				case <-time.After(time.Second):
					return json.Marshal("too slow")
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
	}
}

func TestStatsAccumulatePerMethod(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(echoTool{}))
	bus := eventbus.New()
	defer bus.Close()
	exec := toolregistry.NewExecutor(reg, bus)

	exec.Execute(context.Background(), toolregistry.Call{Name: "echo", Args: json.RawMessage(`{"text":"a"}`)})
	exec.Execute(context.Background(), toolregistry.Call{Name: "echo", Args: json.RawMessage(`{}`)})

	count, errCount, total := exec.Stats("echo")
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(1), errCount)
	assert.True(t, total >= 0)
}
