package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/backend"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/session"
	"github.com/convoke-ai/convoke/tool"
)

func echoTool(t *testing.T) tool.Tool {
	t.Helper()
	return tool.NewFuncTool("echo", "Echo the input back",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
}

func TestLoopSingleTurn(t *testing.T) {
	scripted := backend.NewScripted([]backend.ScriptTurn{
		{Text: "Hello there.", Usage: core.Usage{Input: 12, Output: 4}},
	})
	loop := New(scripted, nil)

	var hookOrder []HookType
	for _, ht := range []HookType{HookTurnStart, HookTurnEnd, HookComplete, HookError} {
		ht := ht
		loop.On(ht, func(HookEvent) { hookOrder = append(hookOrder, ht) })
	}
	var deltas int
	loop.On(HookStreamEvent, func(ev HookEvent) {
		if ev.Event.Type == core.EventBlockDelta {
			deltas++
		}
	})

	result, err := loop.Run(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, StateDone, loop.State())
	assert.Equal(t, 1, result.Turns)
	assert.Equal(t, "Hello there.", result.FinalText())
	assert.Equal(t, 16, result.Usage.Total())
	require.Len(t, result.Messages, 2)
	assert.Equal(t, core.RoleUser, result.Messages[0].Role())
	assert.Equal(t, []HookType{HookTurnStart, HookTurnEnd, HookComplete}, hookOrder)
	assert.Positive(t, deltas)
}

func TestLoopToolTurn(t *testing.T) {
	scripted := backend.NewScripted([]backend.ScriptTurn{
		{
			Text: "Let me check.",
			ToolCalls: []backend.ScriptToolCall{
				{ID: "call_a", Name: "echo", Args: `{"text":"first"}`},
				{ID: "call_b", Name: "echo", Args: `{"text":"second"}`},
			},
		},
		{Text: "Both done."},
	})
	loop := New(scripted, tool.NewRegistry(echoTool(t)))

	// Tool results must land before the next model turn starts.
	var timeline []string
	loop.On(HookTurnStart, func(ev HookEvent) {
		timeline = append(timeline, fmt.Sprintf("turn%d", ev.Turn))
	})
	loop.On(HookToolEnd, func(ev HookEvent) {
		timeline = append(timeline, ev.ToolCall.ID)
	})

	result, err := loop.Run(context.Background(), "run both")
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 2, result.Turns)
	assert.Equal(t, []string{"turn1", "call_a", "call_b", "turn2"}, timeline)

	// user, assistant(tool calls), 2 tool results, assistant(text)
	require.Len(t, result.Messages, 5)
	first, ok := result.Messages[2].(core.ToolResultMessage)
	require.True(t, ok)
	assert.Equal(t, "call_a", first.ToolCallID)
	assert.Equal(t, "first", core.TextOf(first.Content))
	second, ok := result.Messages[3].(core.ToolResultMessage)
	require.True(t, ok)
	assert.Equal(t, "call_b", second.ToolCallID)
	assert.Equal(t, "Both done.", result.FinalText())
}

func TestLoopCancelDuringTools(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)

	scripted := backend.NewScripted([]backend.ScriptTurn{
		{
			ToolCalls: []backend.ScriptToolCall{
				{ID: "c1", Name: "echo", Args: `{"text":"ran"}`},
				{ID: "c2", Name: "echo", Args: `{"text":"never"}`},
			},
		},
		{Text: "unreached"},
	})
	loop := New(scripted, tool.NewRegistry(echoTool(t)), func(o *Options) {
		o.Store = store
	})

	// Cancel mid-batch, right after the first tool result lands.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var started []string
	loop.On(HookToolStart, func(ev HookEvent) { started = append(started, ev.ToolCall.ID) })
	loop.On(HookToolEnd, func(ev HookEvent) {
		if ev.ToolCall.ID == "c1" {
			cancel()
		}
	})

	result, err := loop.Run(ctx, "do both")

	var backendErr *core.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, core.ErrorKindCanceled, backendErr.Kind)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, []string{"c1"}, started)

	// user, assistant(tool calls), first tool result: nothing before the
	// cancellation point lost, nothing after it dispatched.
	require.Len(t, result.Messages, 3)
	first, ok := result.Messages[2].(core.ToolResultMessage)
	require.True(t, ok)
	assert.Equal(t, "c1", first.ToolCallID)
	assert.Equal(t, "ran", core.TextOf(first.Content))

	path := store.Path()
	require.NoError(t, store.Close())

	// The completed result was persisted before the run failed.
	reopened, err := session.OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	msgs := session.Messages(reopened.Tree().CurrentPath())
	require.Len(t, msgs, 3)
	assert.Equal(t, core.RoleToolResult, msgs[2].Role())
}

func TestLoopTurnLimit(t *testing.T) {
	// Every turn requests another tool call, so only the limit can stop it.
	turn := backend.ScriptTurn{
		ToolCalls: []backend.ScriptToolCall{{ID: "c", Name: "echo", Args: `{"text":"again"}`}},
	}
	scripted := backend.NewScripted([]backend.ScriptTurn{turn, turn, turn, turn})
	loop := New(scripted, tool.NewRegistry(echoTool(t)), func(o *Options) {
		o.MaxTurns = 3
	})

	result, err := loop.Run(context.Background(), "loop forever")

	var limitErr *TurnLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.MaxTurns)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, result.Turns)
	// user + 3x (assistant + tool result): everything before the limit survives.
	assert.Len(t, result.Messages, 7)
}

func TestLoopBackendError(t *testing.T) {
	scripted := backend.NewScripted([]backend.ScriptTurn{
		{Text: "partial answer", Err: core.NewBackendError(core.ErrorKindNetwork, "connection reset")},
	})
	loop := New(scripted, nil)

	var hookErr error
	loop.On(HookError, func(ev HookEvent) { hookErr = ev.Err })

	result, err := loop.Run(context.Background(), "hi")

	var backendErr *core.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, core.ErrorKindNetwork, backendErr.Kind)
	assert.Equal(t, StateFailed, result.State)
	assert.Same(t, err, hookErr)

	// Partial assistant output is retained, never silently dropped.
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "partial answer", result.FinalText())
}

func TestLoopSteering(t *testing.T) {
	scripted := backend.NewScripted([]backend.ScriptTurn{
		{Text: "first answer"},
		{Text: "steered answer"},
	})
	loop := New(scripted, nil)

	// Steering arrives mid-turn; lower priority was queued first but the
	// higher priority message must be injected ahead of it.
	loop.On(HookTurnEnd, func(ev HookEvent) {
		if ev.Turn == 1 {
			loop.Steer("background note", 0)
			loop.Steer("urgent correction", 5)
		}
	})

	result, err := loop.Run(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 2, result.Turns)
	// user, assistant, steering x2 (priority order), assistant
	require.Len(t, result.Messages, 5)
	assert.Equal(t, "urgent correction", core.TextOf(result.Messages[2].Blocks()))
	assert.Equal(t, "background note", core.TextOf(result.Messages[3].Blocks()))
	assert.Equal(t, "steered answer", result.FinalText())
}

func TestLoopFollowUps(t *testing.T) {
	scripted := backend.NewScripted([]backend.ScriptTurn{
		{Text: "answer one"},
		{Text: "answer two"},
		{Text: "answer three"},
	})
	loop := New(scripted, nil)
	loop.FollowUp("and then?")
	loop.FollowUp("one more")

	result, err := loop.Run(context.Background(), "start")
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 3, result.Turns)
	require.Len(t, result.Messages, 6)
	// FIFO: the follow-ups become user turns in queue order.
	assert.Equal(t, "and then?", core.TextOf(result.Messages[2].Blocks()))
	assert.Equal(t, "one more", core.TextOf(result.Messages[4].Blocks()))
	assert.Equal(t, "answer three", result.FinalText())
}

func TestLoopSystemTemplate(t *testing.T) {
	scripted := backend.NewScripted([]backend.ScriptTurn{{Text: "ok"}})
	loop := New(scripted, nil, func(o *Options) {
		o.System = "You are {{.name}}, be {{.tone}}."
		o.SystemVars = map[string]any{"name": "Convoke", "tone": "brief"}
	})

	_, err := loop.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "You are Convoke, be brief.", loop.Context().System)
}

func TestLoopPersistsToStore(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)

	scripted := backend.NewScripted([]backend.ScriptTurn{
		{
			ToolCalls: []backend.ScriptToolCall{{ID: "c1", Name: "echo", Args: `{"text":"hi"}`}},
		},
		{Text: "done"},
	})
	loop := New(scripted, tool.NewRegistry(echoTool(t)), func(o *Options) {
		o.Store = store
	})

	result, err := loop.Run(context.Background(), "persist me")
	require.NoError(t, err)
	require.Len(t, result.Messages, 4)

	path := store.Path()
	require.NoError(t, store.Close())

	// Replay reconstructs exactly the conversation the loop produced.
	reopened, err := session.OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	msgs := session.Messages(reopened.Tree().CurrentPath())
	require.Len(t, msgs, 4)
	assert.Equal(t, core.RoleUser, msgs[0].Role())
	assert.Equal(t, core.RoleAssistant, msgs[1].Role())
	assert.Equal(t, core.RoleToolResult, msgs[2].Role())
	assert.Equal(t, "done", core.TextOf(msgs[3].Blocks()))
}

func TestLoopFailsOnPersistError(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close()) // log write will fail

	scripted := backend.NewScripted([]backend.ScriptTurn{{Text: "never sent"}})
	loop := New(scripted, nil, func(o *Options) {
		o.Store = store
	})

	result, err := loop.Run(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
}

func TestLoopRunContinuesConversation(t *testing.T) {
	scripted := backend.NewScripted([]backend.ScriptTurn{
		{Text: "first"},
		{Text: "second"},
	})
	loop := New(scripted, nil)

	first, err := loop.Run(context.Background(), "one")
	require.NoError(t, err)
	require.Len(t, first.Messages, 2)

	second, err := loop.Run(context.Background(), "two")
	require.NoError(t, err)
	assert.Len(t, second.Messages, 4)
	assert.Equal(t, 1, second.Turns) // turn counting restarts per run
	assert.Equal(t, "second", second.FinalText())
}

func TestLoopScriptExhaustion(t *testing.T) {
	scripted := backend.NewScripted(nil)
	loop := New(scripted, nil)

	result, err := loop.Run(context.Background(), "hi")

	var backendErr *core.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, core.ErrorKindTruncated, backendErr.Kind)
	assert.Equal(t, StateFailed, result.State)
}
