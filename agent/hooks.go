package agent

import "github.com/convoke-ai/convoke/core"

// HookType names an observable loop moment.
type HookType string

const (
	// HookTurnStart fires when a model stream is about to be requested.
	HookTurnStart HookType = "turn_start"
	// HookTurnEnd fires after a stream terminal has been processed.
	HookTurnEnd HookType = "turn_end"
	// HookStreamEvent fires for every canonical event of the active stream.
	HookStreamEvent HookType = "stream_event"
	// HookToolStart fires before a tool call is dispatched.
	HookToolStart HookType = "tool_start"
	// HookToolEnd fires after a tool result message has been appended.
	HookToolEnd HookType = "tool_end"
	// HookComplete fires once when the loop reaches Done.
	HookComplete HookType = "complete"
	// HookError fires once when the loop reaches Failed.
	HookError HookType = "error"
)

// HookEvent carries the context of one loop moment. Only the fields relevant
// to the hook type are populated.
type HookEvent struct {
	Type       HookType
	Turn       int
	Event      *core.Event             // HookStreamEvent
	Message    *core.AssistantMessage  // HookTurnEnd
	ToolCall   *core.ToolCallBlock     // HookToolStart, HookToolEnd
	ToolResult *core.ToolResultMessage // HookToolEnd
	Err        error                   // HookError
}

// Hook observes loop progress. Hooks run synchronously on the loop goroutine
// in registration order; a slow hook stalls the loop.
type Hook func(HookEvent)
