package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/partialjson"
)

// MessageBuilder assembles an assistant message from canonical block events
// while enforcing the stream ordering invariants: block indices are unique
// and monotonically introduced, deltas and ends only apply to open blocks,
// and every started block is ended exactly once. All normalizers drive their
// emission through a builder so the invariants hold for any backend.
//
// A builder belongs to a single producing goroutine and is not safe for
// concurrent use.
type MessageBuilder struct {
	msg       core.AssistantMessage
	open      map[int]*openBlock
	positions map[int]int
	lastIndex int
	started   bool
}

type openBlock struct {
	kind core.BlockKind
	id   string
	name string
	text strings.Builder
	sig  string
	args partialjson.Accumulator
}

// NewMessageBuilder creates a builder for one assistant turn.
func NewMessageBuilder(provider, model string) *MessageBuilder {
	return &MessageBuilder{
		msg: core.AssistantMessage{
			Provider:   provider,
			Model:      model,
			StopReason: core.StopReasonStop,
			Timestamp:  time.Now().UTC(),
		},
		open:      map[int]*openBlock{},
		positions: map[int]int{},
		lastIndex: -1,
	}
}

// Start returns the stream's opening event. It is valid exactly once.
func (b *MessageBuilder) Start() core.Event {
	b.started = true
	return core.Event{Type: core.EventStart}
}

// StartBlock opens a block at a fresh index. id and name apply to tool call
// blocks and are ignored for other kinds.
func (b *MessageBuilder) StartBlock(index int, kind core.BlockKind, id, name string) (core.Event, error) {
	if index <= b.lastIndex {
		return core.Event{}, fmt.Errorf("block index %d not monotonically introduced (last %d)", index, b.lastIndex)
	}
	b.lastIndex = index
	blk := &openBlock{kind: kind, id: id, name: name}
	b.open[index] = blk
	b.positions[index] = len(b.msg.Content)
	b.msg.Content = append(b.msg.Content, blk.snapshot())
	return core.Event{Type: core.EventBlockStart, Index: index, BlockKind: kind, Block: blk.snapshot()}, nil
}

// AppendDelta adds payload text to an open block: display text for text
// blocks, reasoning text for thinking blocks, raw argument fragments for
// tool call blocks.
func (b *MessageBuilder) AppendDelta(index int, delta string) (core.Event, error) {
	blk, ok := b.open[index]
	if !ok {
		return core.Event{}, fmt.Errorf("delta for block %d which is not open", index)
	}
	if blk.kind == core.BlockKindToolCall {
		blk.args.Feed(delta)
	} else {
		blk.text.WriteString(delta)
	}
	return core.Event{Type: core.EventBlockDelta, Index: index, BlockKind: blk.kind, Delta: delta}, nil
}

// SetSignature records an opaque provider signature for an open thinking
// block. Signatures arrive out of band from the text deltas.
func (b *MessageBuilder) SetSignature(index int, sig string) error {
	blk, ok := b.open[index]
	if !ok {
		return fmt.Errorf("signature for block %d which is not open", index)
	}
	blk.sig = sig
	return nil
}

// PartialArgs returns the best-effort parse of an open tool call block's
// accumulated argument text, for progressive display. The bool is false when
// no value can be derived yet.
func (b *MessageBuilder) PartialArgs(index int) (any, bool) {
	blk, ok := b.open[index]
	if !ok || blk.kind != core.BlockKindToolCall {
		return nil, false
	}
	return blk.args.TryParse()
}

// EndBlock closes an open block and returns the block_end event carrying the
// final content.
func (b *MessageBuilder) EndBlock(index int) (core.Event, error) {
	blk, ok := b.open[index]
	if !ok {
		return core.Event{}, fmt.Errorf("end for block %d which is not open", index)
	}
	delete(b.open, index)
	final := blk.snapshot()
	b.msg.Content[b.positions[index]] = final
	return core.Event{Type: core.EventBlockEnd, Index: index, BlockKind: blk.kind, Block: final}, nil
}

func (blk *openBlock) snapshot() core.Block {
	switch blk.kind {
	case core.BlockKindThinking:
		return core.ThinkingBlock{Thinking: blk.text.String(), Signature: blk.sig}
	case core.BlockKindToolCall:
		return core.ToolCallBlock{ID: blk.id, Name: blk.name, Arguments: blk.args.Raw()}
	default:
		return core.TextBlock{Text: blk.text.String()}
	}
}

// AddUsage accumulates token counts reported by the backend.
func (b *MessageBuilder) AddUsage(u core.Usage) { b.msg.Usage.Add(u) }

// SetOutputTokens overwrites the output token count. Backends that report a
// running cumulative total on later stream events use this instead of
// AddUsage so the count is not doubled.
func (b *MessageBuilder) SetOutputTokens(n int) { b.msg.Usage.Output = n }

// SetStopReason records the backend reported stop reason.
func (b *MessageBuilder) SetStopReason(r core.StopReason) { b.msg.StopReason = r }

// Message returns the assistant message assembled so far.
func (b *MessageBuilder) Message() *core.AssistantMessage {
	msg := b.msg
	return &msg
}

// Finish validates that every started block was ended and returns the done
// terminal result. Tool calls present in the content force the toolUse stop
// reason so the agent loop transitions into tool execution.
func (b *MessageBuilder) Finish(rates *core.ModelRates) (*core.StreamResult, error) {
	if len(b.open) > 0 {
		return nil, fmt.Errorf("%d block(s) still open at stream end", len(b.open))
	}
	if len(core.ToolCallsOf(b.msg.Content)) > 0 {
		b.msg.StopReason = core.StopReasonToolUse
	}
	if rates != nil {
		b.msg.Cost = b.msg.Usage.CostWith(*rates)
	}
	msg := b.msg
	return &core.StreamResult{StopReason: msg.StopReason, Usage: msg.Usage, Message: &msg}, nil
}

// Fail builds the error terminal result, retaining all content accumulated
// before the failure. Open blocks are closed as-is.
func (b *MessageBuilder) Fail(backendErr *core.BackendError) *core.StreamResult {
	for index := range b.open {
		// Invariants already validated on open; ignore the impossible error.
		_, _ = b.EndBlock(index)
	}
	reason := core.StopReasonError
	if backendErr != nil && backendErr.Kind == core.ErrorKindCanceled {
		reason = core.StopReasonAborted
	}
	b.msg.StopReason = reason
	if backendErr != nil {
		b.msg.ErrorMessage = backendErr.Message
	}
	msg := b.msg
	return &core.StreamResult{
		StopReason: reason,
		Usage:      msg.Usage,
		Message:    &msg,
		Error:      backendErr,
	}
}
