package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageCodecVariantDispatch(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	t.Run("assistant with mixed blocks", func(t *testing.T) {
		msg := AssistantMessage{
			Content: []Block{
				ThinkingBlock{Thinking: "plan the call", Signature: "sig-1"},
				TextBlock{Text: "Checking now."},
				ToolCallBlock{ID: "call_1", Name: "lookup", Arguments: `{"q":"rain"}`},
			},
			Model:      "claude-sonnet-4",
			Provider:   "anthropic",
			StopReason: StopReasonToolUse,
			Usage:      Usage{Input: 100, Output: 40, CacheRead: 5},
			Cost:       Cost{Input: 0.0003, Output: 0.0006, Total: 0.0009},
			Timestamp:  ts,
		}

		raw, err := MarshalMessage(msg)
		require.NoError(t, err)

		decoded, err := UnmarshalMessage(raw)
		require.NoError(t, err)
		got, ok := decoded.(AssistantMessage)
		require.True(t, ok)
		assert.Equal(t, msg, got)

		// The tool call survives with raw argument text intact.
		calls := got.ToolCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, `{"q":"rain"}`, calls[0].Arguments)
	})

	t.Run("tool result", func(t *testing.T) {
		msg := ToolResultMessage{
			ToolCallID: "call_1",
			ToolName:   "lookup",
			Content:    []Block{TextBlock{Text: "rain expected"}},
			IsError:    true,
			Timestamp:  ts,
		}
		raw, err := MarshalMessage(msg)
		require.NoError(t, err)
		decoded, err := UnmarshalMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	})

	t.Run("user", func(t *testing.T) {
		msg := UserMessage{Content: []Block{TextBlock{Text: "hello"}}, Timestamp: ts}
		raw, err := MarshalMessage(msg)
		require.NoError(t, err)
		decoded, err := UnmarshalMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, RoleUser, decoded.Role())
		assert.Equal(t, "hello", TextOf(decoded.Blocks()))
	})
}

func TestMessageCodecRejectsUnknownTags(t *testing.T) {
	_, err := UnmarshalMessage([]byte(`{"role":"system","content":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system")

	_, err = UnmarshalMessage([]byte(`{"role":"user","content":[{"type":"image"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image")

	_, err = UnmarshalMessage([]byte(`not json`))
	require.Error(t, err)
}

func TestAssistantMessageEmptyUsageRoundTrip(t *testing.T) {
	// Zero usage/cost still decode to zero values, not nil panics.
	raw, err := MarshalMessage(AssistantMessage{Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	decoded, err := UnmarshalMessage(raw)
	require.NoError(t, err)
	got, ok := decoded.(AssistantMessage)
	require.True(t, ok)
	assert.Zero(t, got.Usage.Total())
}
