package core

import "time"

// Role identifies the conversational origin of a message.
type Role string

const (
	// RoleUser marks caller supplied input.
	RoleUser Role = "user"
	// RoleAssistant marks model produced output.
	RoleAssistant Role = "assistant"
	// RoleToolResult marks the outcome of a dispatched tool call.
	RoleToolResult Role = "toolResult"
)

// Message is one immutable conversation entry. Concrete message types
// implement the unexported isMessage marker enabling a closed set. Messages
// are never mutated after creation; branching is modeled by appending new
// nodes to the conversation tree.
type Message interface {
	isMessage()
	// Role returns the conversational origin of the message.
	Role() Role
	// Blocks returns the ordered content blocks of the message.
	Blocks() []Block
	// When returns the creation timestamp.
	When() time.Time
}

// UserMessage is caller supplied input.
type UserMessage struct {
	Content   []Block   `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage creates a user message with a single text block.
func NewUserMessage(text string) UserMessage {
	return UserMessage{
		Content:   []Block{TextBlock{Text: text}},
		Timestamp: time.Now().UTC(),
	}
}

func (UserMessage) isMessage() {}

// Role implements Message.
func (UserMessage) Role() Role { return RoleUser }

// Blocks implements Message.
func (m UserMessage) Blocks() []Block { return m.Content }

// When implements Message.
func (m UserMessage) When() time.Time { return m.Timestamp }

// AssistantMessage is a completed model turn assembled from a canonical event
// stream. ErrorMessage is populated when the producing stream terminated with
// an error; the content accumulated up to that point is retained.
type AssistantMessage struct {
	Content      []Block    `json:"content"`
	Model        string     `json:"model,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	StopReason   StopReason `json:"stopReason,omitempty"`
	Usage        Usage      `json:"usage"`
	Cost         Cost       `json:"cost"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

func (AssistantMessage) isMessage() {}

// Role implements Message.
func (AssistantMessage) Role() Role { return RoleAssistant }

// Blocks implements Message.
func (m AssistantMessage) Blocks() []Block { return m.Content }

// When implements Message.
func (m AssistantMessage) When() time.Time { return m.Timestamp }

// ToolCalls returns the tool call blocks requested by this turn in order.
func (m AssistantMessage) ToolCalls() []ToolCallBlock { return ToolCallsOf(m.Content) }

// ToolResultMessage records the outcome of exactly one dispatched tool call.
// IsError marks structured failure payloads (parse errors, execution errors,
// panics); the conversation continues regardless.
type ToolResultMessage struct {
	ToolCallID string    `json:"toolCallId"`
	ToolName   string    `json:"toolName"`
	Content    []Block   `json:"content"`
	IsError    bool      `json:"isError,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (ToolResultMessage) isMessage() {}

// Role implements Message.
func (ToolResultMessage) Role() Role { return RoleToolResult }

// Blocks implements Message.
func (m ToolResultMessage) Blocks() []Block { return m.Content }

// When implements Message.
func (m ToolResultMessage) When() time.Time { return m.Timestamp }

// Context is the conversation state handed to a backend normalizer. It is a
// single-writer resource: only the agent loop appends to it.
type Context struct {
	// System is the system prompt, empty when unset.
	System string `json:"system,omitempty"`
	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`
}

// Append adds a message to the history.
func (c *Context) Append(m Message) { c.Messages = append(c.Messages, m) }

// Last returns the most recent message or nil for an empty context.
func (c *Context) Last() Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Clone returns a shallow copy with an independent message slice. Messages
// themselves are immutable so sharing them is safe.
func (c *Context) Clone() Context {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return Context{System: c.System, Messages: msgs}
}
