package backend

import (
	"context"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/stream"
)

// ScriptToolCall is one tool invocation emitted by a scripted turn. Args is
// the full JSON argument text; it is streamed in fragments to exercise the
// same code paths a real backend does.
type ScriptToolCall struct {
	ID   string
	Name string
	Args string
}

// ScriptTurn describes one assistant turn a Scripted normalizer will play
// back: optional thinking, optional text, then the listed tool calls. When
// Err is set the turn terminates with an error event instead.
type ScriptTurn struct {
	Thinking  string
	Text      string
	ToolCalls []ScriptToolCall
	Usage     core.Usage
	Err       *core.BackendError
}

// Scripted is a deterministic in-process normalizer that replays canned
// turns, one per Stream call. It is the test and example stand-in for a real
// backend and honors the full canonical event contract.
type Scripted struct {
	turns        []ScriptTurn
	next         int
	fragmentSize int
}

// ScriptedOption configures a Scripted normalizer.
type ScriptedOption func(*Scripted)

// WithFragmentSize sets how many bytes each block_delta carries (default 8).
func WithFragmentSize(n int) ScriptedOption {
	return func(s *Scripted) {
		if n > 0 {
			s.fragmentSize = n
		}
	}
}

// NewScripted creates a scripted normalizer that plays the given turns in
// order. Streams requested beyond the script terminate with a truncation
// error.
func NewScripted(turns []ScriptTurn, optFns ...ScriptedOption) *Scripted {
	s := &Scripted{turns: turns, fragmentSize: 8}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Info implements Normalizer.
func (s *Scripted) Info() Info {
	return Info{
		Provider:     "scripted",
		Model:        "scripted",
		Capabilities: CapText | CapThinking | CapToolCalls | CapUsage,
	}
}

// Stream implements Normalizer, playing back the next scripted turn.
func (s *Scripted) Stream(ctx context.Context, req Request) *stream.EventStream {
	es := stream.New()

	var turn ScriptTurn
	exhausted := s.next >= len(s.turns)
	if !exhausted {
		turn = s.turns[s.next]
		s.next++
	}

	go func() {
		b := NewMessageBuilder("scripted", "scripted")
		if exhausted {
			es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindTruncated, "script exhausted after %d turn(s)", len(s.turns))))
			return
		}
		if !es.Push(ctx, b.Start()) {
			es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindCanceled, "consumer cancelled")))
			return
		}

		index := 0
		emitBlock := func(kind core.BlockKind, id, name, payload string) bool {
			ev, err := b.StartBlock(index, kind, id, name)
			if err != nil {
				es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindInvalid, "%s", err.Error())))
				return false
			}
			if !es.Push(ctx, ev) {
				es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindCanceled, "consumer cancelled")))
				return false
			}
			for len(payload) > 0 {
				n := s.fragmentSize
				if n > len(payload) {
					n = len(payload)
				}
				ev, _ = b.AppendDelta(index, payload[:n])
				payload = payload[n:]
				if !es.Push(ctx, ev) {
					es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindCanceled, "consumer cancelled")))
					return false
				}
			}
			ev, _ = b.EndBlock(index)
			if !es.Push(ctx, ev) {
				es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindCanceled, "consumer cancelled")))
				return false
			}
			index++
			return true
		}

		if turn.Thinking != "" && !emitBlock(core.BlockKindThinking, "", "", turn.Thinking) {
			return
		}
		if turn.Text != "" && !emitBlock(core.BlockKindText, "", "", turn.Text) {
			return
		}
		for _, tc := range turn.ToolCalls {
			if !emitBlock(core.BlockKindToolCall, tc.ID, tc.Name, tc.Args) {
				return
			}
		}

		if turn.Err != nil {
			es.Terminate(b.Fail(turn.Err))
			return
		}
		b.AddUsage(turn.Usage)
		res, err := b.Finish(req.Options.Rates)
		if err != nil {
			es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindInvalid, "%s", err.Error())))
			return
		}
		es.Terminate(res)
	}()

	return es
}
