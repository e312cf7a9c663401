package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Wire codec for the closed Message and Block variants. The session log and
// the canonical event wire shape both persist messages through these helpers
// so the tagged-union layout has a single source of truth.

type blockWire struct {
	Type      BlockKind `json:"type"`
	Text      string    `json:"text,omitempty"`
	Thinking  string    `json:"thinking,omitempty"`
	Signature string    `json:"signature,omitempty"`
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
}

// MarshalBlock encodes a block with its wire type tag.
func MarshalBlock(b Block) ([]byte, error) {
	var w blockWire
	switch v := b.(type) {
	case TextBlock:
		w = blockWire{Type: BlockKindText, Text: v.Text}
	case ThinkingBlock:
		w = blockWire{Type: BlockKindThinking, Thinking: v.Thinking, Signature: v.Signature}
	case ToolCallBlock:
		w = blockWire{Type: BlockKindToolCall, ID: v.ID, Name: v.Name, Arguments: v.Arguments}
	default:
		return nil, fmt.Errorf("unknown block type %T", b)
	}
	return json.Marshal(w)
}

// UnmarshalBlock decodes a tagged block payload.
func UnmarshalBlock(data []byte) (Block, error) {
	tag := gjson.GetBytes(data, "type").String()
	var w blockWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	switch BlockKind(tag) {
	case BlockKindText:
		return TextBlock{Text: w.Text}, nil
	case BlockKindThinking:
		return ThinkingBlock{Thinking: w.Thinking, Signature: w.Signature}, nil
	case BlockKindToolCall:
		return ToolCallBlock{ID: w.ID, Name: w.Name, Arguments: w.Arguments}, nil
	default:
		return nil, fmt.Errorf("unknown block tag %q", tag)
	}
}

type messageWire struct {
	Role         Role              `json:"role"`
	Content      []json.RawMessage `json:"content"`
	Timestamp    time.Time         `json:"timestamp"`
	Model        string            `json:"model,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	StopReason   StopReason        `json:"stopReason,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Cost         *Cost             `json:"cost,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	ToolCallID   string            `json:"toolCallId,omitempty"`
	ToolName     string            `json:"toolName,omitempty"`
	IsError      bool              `json:"isError,omitempty"`
}

func marshalBlocks(blocks []Block) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		raw, err := MarshalBlock(b)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func unmarshalBlocks(raws []json.RawMessage) ([]Block, error) {
	out := make([]Block, 0, len(raws))
	for _, raw := range raws {
		b, err := UnmarshalBlock(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// MarshalMessage encodes a message with its role tag.
func MarshalMessage(m Message) ([]byte, error) {
	content, err := marshalBlocks(m.Blocks())
	if err != nil {
		return nil, err
	}
	w := messageWire{Role: m.Role(), Content: content, Timestamp: m.When()}
	switch v := m.(type) {
	case AssistantMessage:
		w.Model = v.Model
		w.Provider = v.Provider
		w.StopReason = v.StopReason
		w.Usage = &v.Usage
		w.Cost = &v.Cost
		w.ErrorMessage = v.ErrorMessage
	case ToolResultMessage:
		w.ToolCallID = v.ToolCallID
		w.ToolName = v.ToolName
		w.IsError = v.IsError
	case UserMessage:
	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}
	return json.Marshal(w)
}

// UnmarshalMessage decodes a role-tagged message payload.
func UnmarshalMessage(data []byte) (Message, error) {
	role := gjson.GetBytes(data, "role").String()
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	blocks, err := unmarshalBlocks(w.Content)
	if err != nil {
		return nil, err
	}
	switch Role(role) {
	case RoleUser:
		return UserMessage{Content: blocks, Timestamp: w.Timestamp}, nil
	case RoleAssistant:
		msg := AssistantMessage{
			Content:      blocks,
			Model:        w.Model,
			Provider:     w.Provider,
			StopReason:   w.StopReason,
			ErrorMessage: w.ErrorMessage,
			Timestamp:    w.Timestamp,
		}
		if w.Usage != nil {
			msg.Usage = *w.Usage
		}
		if w.Cost != nil {
			msg.Cost = *w.Cost
		}
		return msg, nil
	case RoleToolResult:
		return ToolResultMessage{
			ToolCallID: w.ToolCallID,
			ToolName:   w.ToolName,
			Content:    blocks,
			IsError:    w.IsError,
			Timestamp:  w.Timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", role)
	}
}
