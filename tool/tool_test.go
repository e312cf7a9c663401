package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
)

func sumTool() Tool {
	return NewFuncTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)
}

func TestFuncToolCall(t *testing.T) {
	t.Run("valid arguments", func(t *testing.T) {
		result, err := sumTool().Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
		require.NoError(t, err)
		assert.Equal(t, 5.0, result)
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := sumTool().Call(context.Background(), map[string]any{"a": 2.0})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, CodeValidation, toolErr.Code)
		assert.Equal(t, "calculate_sum", toolErr.Tool)
	})

	t.Run("wrong argument type", func(t *testing.T) {
		_, err := sumTool().Call(context.Background(), map[string]any{"a": "two", "b": 3.0})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, CodeValidation, toolErr.Code)
	})

	t.Run("execution error is wrapped", func(t *testing.T) {
		failing := NewFuncTool("boom", "Always fails", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("backend unavailable")
			})
		_, err := failing.Call(context.Background(), map[string]any{})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, CodeExecution, toolErr.Code)
		assert.Equal(t, "backend unavailable", toolErr.Message)
	})

	t.Run("custom tool error passes through", func(t *testing.T) {
		failing := NewFuncTool("quota", "Quota check", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (any, error) {
				return nil, NewToolError("quota", "limit reached", "QUOTA_EXCEEDED")
			})
		_, err := failing.Call(context.Background(), map[string]any{})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "QUOTA_EXCEEDED", toolErr.Code)
	})
}

func TestNewFuncToolFromStruct(t *testing.T) {
	type WeatherArgs struct {
		City string `json:"city" jsonschema:"description=City name"`
		Days int    `json:"days,omitempty"`
	}

	weather, err := NewFuncToolFromStruct("get_weather", "Look up a forecast", WeatherArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("sunny in %v", args["city"]), nil
		})
	require.NoError(t, err)

	schema := weather.Parameters()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "days")
	assert.NotContains(t, schema, "$schema")

	result, err := weather.Call(context.Background(), map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "sunny in Oslo", result)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(sumTool())
	assert.Equal(t, 1, reg.Len())
	assert.NotNil(t, reg.Get("calculate_sum"))
	assert.Nil(t, reg.Get("unknown"))

	// Registering under the same name replaces the previous entry.
	replacement := NewFuncTool("calculate_sum", "Replacement", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { return nil, nil })
	reg.Register(replacement)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, "Replacement", reg.Get("calculate_sum").Description())

	reg.Register(NewFuncTool("a_tool", "First alphabetically", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { return nil, nil }))

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "a_tool", specs[0].Name)
	assert.Equal(t, "calculate_sum", specs[1].Name)
	assert.Equal(t, []string{"a_tool", "calculate_sum"}, reg.Names())
}

func TestExecutorDispatch(t *testing.T) {
	exec := NewExecutor(NewRegistry(sumTool()))

	t.Run("success", func(t *testing.T) {
		msg := exec.Dispatch(context.Background(), core.ToolCallBlock{
			ID: "call_1", Name: "calculate_sum", Arguments: `{"a": 2, "b": 3}`,
		})
		assert.False(t, msg.IsError)
		assert.Equal(t, "call_1", msg.ToolCallID)
		assert.Equal(t, "calculate_sum", msg.ToolName)
		assert.Equal(t, "5", core.TextOf(msg.Content))
	})

	t.Run("partial arguments are completed", func(t *testing.T) {
		// A stream cut off mid-arguments still yields a decodable object.
		msg := exec.Dispatch(context.Background(), core.ToolCallBlock{
			ID: "call_2", Name: "calculate_sum", Arguments: `{"a": 2, "b": 3`,
		})
		assert.False(t, msg.IsError)
		assert.Equal(t, "5", core.TextOf(msg.Content))
	})

	t.Run("empty arguments decode to empty map", func(t *testing.T) {
		echo := NewFuncTool("echo_count", "Count arguments", map[string]any{"type": "object"},
			func(_ context.Context, args map[string]any) (any, error) { return len(args), nil })
		exec := NewExecutor(NewRegistry(echo))
		msg := exec.Dispatch(context.Background(), core.ToolCallBlock{ID: "c", Name: "echo_count"})
		assert.False(t, msg.IsError)
		assert.Equal(t, "0", core.TextOf(msg.Content))
	})

	t.Run("unknown tool", func(t *testing.T) {
		msg := exec.Dispatch(context.Background(), core.ToolCallBlock{ID: "call_3", Name: "nope"})
		require.True(t, msg.IsError)
		var toolErr ToolError
		require.NoError(t, json.Unmarshal([]byte(core.TextOf(msg.Content)), &toolErr))
		assert.Equal(t, CodeNotFound, toolErr.Code)
	})

	t.Run("malformed arguments", func(t *testing.T) {
		msg := exec.Dispatch(context.Background(), core.ToolCallBlock{
			ID: "call_4", Name: "calculate_sum", Arguments: `{"a": }`,
		})
		require.True(t, msg.IsError)
		var toolErr ToolError
		require.NoError(t, json.Unmarshal([]byte(core.TextOf(msg.Content)), &toolErr))
		assert.Equal(t, CodeParse, toolErr.Code)
	})

	t.Run("panic is contained", func(t *testing.T) {
		panicky := NewFuncTool("explode", "Panics", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (any, error) { panic("kaboom") })
		exec := NewExecutor(NewRegistry(panicky))
		msg := exec.Dispatch(context.Background(), core.ToolCallBlock{ID: "call_5", Name: "explode"})
		require.True(t, msg.IsError)
		var toolErr ToolError
		require.NoError(t, json.Unmarshal([]byte(core.TextOf(msg.Content)), &toolErr))
		assert.Equal(t, CodePanic, toolErr.Code)
		assert.Contains(t, toolErr.Message, "kaboom")
	})

	t.Run("structured result is JSON encoded", func(t *testing.T) {
		structured := NewFuncTool("lookup", "Structured result", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (any, error) {
				return map[string]any{"status": "ok"}, nil
			})
		exec := NewExecutor(NewRegistry(structured))
		msg := exec.Dispatch(context.Background(), core.ToolCallBlock{ID: "call_6", Name: "lookup"})
		assert.False(t, msg.IsError)
		assert.JSONEq(t, `{"status":"ok"}`, core.TextOf(msg.Content))
	})
}

func TestExecutorDispatchAll(t *testing.T) {
	t.Run("sequential preserves order", func(t *testing.T) {
		var order []string
		record := func(name string) Tool {
			return NewFuncTool(name, name, map[string]any{"type": "object"},
				func(context.Context, map[string]any) (any, error) {
					order = append(order, name)
					return name, nil
				})
		}
		exec := NewExecutor(NewRegistry(record("first"), record("second"), record("third")))
		results := exec.DispatchAll(context.Background(), []core.ToolCallBlock{
			{ID: "1", Name: "first"}, {ID: "2", Name: "second"}, {ID: "3", Name: "third"},
		})
		require.Len(t, results, 3)
		assert.Equal(t, []string{"first", "second", "third"}, order)
		assert.Equal(t, "1", results[0].ToolCallID)
		assert.Equal(t, "3", results[2].ToolCallID)
	})

	t.Run("parallel preserves result order", func(t *testing.T) {
		var running atomic.Int32
		slow := NewFuncTool("slow", "slow", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (any, error) {
				running.Add(1)
				return "done", nil
			})
		exec := NewExecutor(NewRegistry(slow), func(cfg *ExecutorConfig) {
			cfg.MaxParallel = 4
			cfg.PreserveOrder = true
		})
		calls := make([]core.ToolCallBlock, 8)
		for i := range calls {
			calls[i] = core.ToolCallBlock{ID: fmt.Sprintf("call_%d", i), Name: "slow"}
		}
		results := exec.DispatchAll(context.Background(), calls)
		require.Len(t, results, 8)
		for i, res := range results {
			assert.Equal(t, fmt.Sprintf("call_%d", i), res.ToolCallID)
		}
		assert.Equal(t, int32(8), running.Load())
	})

	t.Run("cancellation stops launching calls", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		exec := NewExecutor(NewRegistry(sumTool()))
		results := exec.DispatchAll(ctx, []core.ToolCallBlock{
			{ID: "1", Name: "calculate_sum", Arguments: `{"a":1,"b":2}`},
		})
		assert.Empty(t, results)
	})

	t.Run("empty batch", func(t *testing.T) {
		exec := NewExecutor(NewRegistry())
		assert.Nil(t, exec.DispatchAll(context.Background(), nil))
	})
}
