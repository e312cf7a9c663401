package core

// BlockKind identifies the concrete type of a content block as it appears on
// the wire (canonical events and the session log).
type BlockKind string

const (
	// BlockKindText is plain assistant or user visible text.
	BlockKindText BlockKind = "text"
	// BlockKindThinking is model reasoning content, emitted only by backends
	// with the thinking capability.
	BlockKindThinking BlockKind = "thinking"
	// BlockKindToolCall is a model requested tool invocation with streamed
	// argument text.
	BlockKindToolCall BlockKind = "toolCall"
)

// Block represents a typed sub-unit of a Message. Concrete block types
// implement the unexported isBlock marker enabling a closed set.
type Block interface {
	isBlock()
	// Kind returns the wire tag of the block.
	Kind() BlockKind
}

// TextBlock is a plain text content segment.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) isBlock() {}

// Kind implements Block.
func (TextBlock) Kind() BlockKind { return BlockKindText }

// ThinkingBlock carries model reasoning output. Signature is an opaque
// provider token required to replay the block verbatim on follow-up requests.
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

func (ThinkingBlock) isBlock() {}

// Kind implements Block.
func (ThinkingBlock) Kind() BlockKind { return BlockKindThinking }

// ToolCallBlock is a model requested invocation of a registered tool.
// Arguments holds the raw accumulated argument text; it is only guaranteed to
// be valid JSON once the owning block has ended.
type ToolCallBlock struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (ToolCallBlock) isBlock() {}

// Kind implements Block.
func (ToolCallBlock) Kind() BlockKind { return BlockKindToolCall }

// TextOf concatenates the text of all text blocks preserving order. Thinking
// and tool call blocks are skipped.
func TextOf(blocks []Block) string {
	var out string
	for _, b := range blocks {
		if tb, ok := b.(TextBlock); ok {
			out += tb.Text
		}
	}
	return out
}

// ToolCallsOf returns the tool call blocks contained in blocks preserving
// their original order.
func ToolCallsOf(blocks []Block) []ToolCallBlock {
	var calls []ToolCallBlock
	for _, b := range blocks {
		if tc, ok := b.(ToolCallBlock); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}
