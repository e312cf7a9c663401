// Package openai normalizes OpenAI Chat Completions streaming (including
// tool call deltas and usage chunks) into the canonical event model.
//
// Chat Completions chunks carry no block indices of their own: text deltas
// and per-tool-call fragments are interleaved free-form. The normalizer
// assigns canonical indices in order of first appearance and closes a block
// when the next one begins, which preserves the block_start/block_end
// pairing invariant for any chunk ordering the API produces.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/convoke-ai/convoke/backend"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/stream"
)

// Options configures the OpenAI normalizer.
type Options struct {
	Model               string
	MaxCompletionTokens int64
	APIKey              string
	Logger              logging.Logger
}

// Normalizer adapts the OpenAI Chat Completions API behind backend.Normalizer.
// OpenAI models expose no thinking blocks over this API, so the capability
// set omits CapThinking and such blocks are never synthesized.
type Normalizer struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI normalizer using the official client.
func New(optFns ...func(o *Options)) *Normalizer {
	opts := Options{
		Model:               openai.ChatModelGPT4o,
		MaxCompletionTokens: 4096,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &Normalizer{client: &client, opts: opts}
}

// NewFromClient creates a normalizer from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Normalizer {
	opts := Options{
		Model:               openai.ChatModelGPT4o,
		MaxCompletionTokens: 4096,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Normalizer{client: client, opts: opts}
}

// Info implements backend.Normalizer.
func (n *Normalizer) Info() backend.Info {
	return backend.Info{
		Provider:     "openai",
		Model:        n.opts.Model,
		Capabilities: backend.CapText | backend.CapToolCalls | backend.CapUsage,
	}
}

// blockTracker maps the chunk stream's implicit structure onto canonical
// block indices: -1 when nothing is open, otherwise the canonical index of
// the currently open block.
type blockTracker struct {
	next      int
	openIndex int
	openTool  int64 // provider tool index of the open tool block
	textOpen  bool
}

// Stream implements backend.Normalizer.
func (n *Normalizer) Stream(ctx context.Context, req backend.Request) *stream.EventStream {
	es := stream.New()
	params := n.buildParams(req)

	go func() {
		b := backend.NewMessageBuilder("openai", n.opts.Model)
		logger := n.opts.Logger

		sse := n.client.Chat.Completions.NewStreaming(ctx, params)
		es.OnRelease(func() { _ = sse.Close() })

		push := func(ev core.Event) bool {
			if !es.Push(ctx, ev) {
				es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindCanceled, "stream consumer cancelled")))
				return false
			}
			return true
		}
		abort := func(err error) {
			logger.Warn("openai stream failed", "model", n.opts.Model, "error", err)
			es.Terminate(b.Fail(classify(ctx, err)))
		}

		if !push(b.Start()) {
			return
		}

		tracker := blockTracker{openIndex: -1, openTool: -1}
		finished := false

		closeOpen := func() (bool, error) {
			if tracker.openIndex < 0 {
				return true, nil
			}
			ev, err := b.EndBlock(tracker.openIndex)
			if err != nil {
				return false, err
			}
			tracker.openIndex = -1
			tracker.openTool = -1
			tracker.textOpen = false
			return push(ev), nil
		}
		openBlock := func(kind core.BlockKind, id, name string) (bool, error) {
			ev, err := b.StartBlock(tracker.next, kind, id, name)
			if err != nil {
				return false, err
			}
			tracker.openIndex = tracker.next
			tracker.next++
			return push(ev), nil
		}

		for sse.Next() {
			chunk := sse.Current()
			if chunk.Usage.TotalTokens > 0 {
				b.AddUsage(core.Usage{
					Input:  int(chunk.Usage.PromptTokens),
					Output: int(chunk.Usage.CompletionTokens),
				})
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !tracker.textOpen {
						if ok, err := closeOpen(); err != nil {
							abort(err)
							return
						} else if !ok {
							return
						}
						if ok, err := openBlock(core.BlockKindText, "", ""); err != nil {
							abort(err)
							return
						} else if !ok {
							return
						}
						tracker.textOpen = true
					}
					ev, err := b.AppendDelta(tracker.openIndex, choice.Delta.Content)
					if err != nil {
						abort(err)
						return
					}
					if !push(ev) {
						return
					}
				}

				for _, tc := range choice.Delta.ToolCalls {
					if tc.Index != tracker.openTool {
						if ok, err := closeOpen(); err != nil {
							abort(err)
							return
						} else if !ok {
							return
						}
						if ok, err := openBlock(core.BlockKindToolCall, tc.ID, tc.Function.Name); err != nil {
							abort(err)
							return
						} else if !ok {
							return
						}
						tracker.openTool = tc.Index
					}
					if tc.Function.Arguments != "" {
						ev, err := b.AppendDelta(tracker.openIndex, tc.Function.Arguments)
						if err != nil {
							abort(err)
							return
						}
						if !push(ev) {
							return
						}
					}
				}

				if choice.FinishReason != "" {
					if ok, err := closeOpen(); err != nil {
						abort(err)
						return
					} else if !ok {
						return
					}
					b.SetStopReason(stopReasonOf(choice.FinishReason))
					finished = true
				}
			}
		}
		if err := sse.Err(); err != nil {
			abort(err)
			return
		}
		if !finished {
			es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindTruncated, "stream truncated before finish_reason")))
			return
		}

		res, err := b.Finish(req.Options.Rates)
		if err != nil {
			abort(err)
			return
		}
		logger.Debug("openai stream complete",
			"model", n.opts.Model, "stop_reason", res.StopReason, "tokens", res.Usage.Total())
		es.Terminate(res)
	}()

	return es
}

func stopReasonOf(raw string) core.StopReason {
	switch raw {
	case "length":
		return core.StopReasonLength
	case "tool_calls":
		return core.StopReasonToolUse
	default:
		return core.StopReasonStop
	}
}

// classify maps SDK and transport failures onto the backend error taxonomy.
func classify(ctx context.Context, err error) *core.BackendError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return core.NewBackendError(core.ErrorKindCanceled, "request cancelled")
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return core.NewBackendError(core.ErrorKindAuth, "openai auth failure: %v", err)
		case 429:
			return core.NewBackendError(core.ErrorKindRateLimit, "openai rate limited: %v", err)
		case 400, 404, 422:
			return core.NewBackendError(core.ErrorKindInvalid, "openai rejected request: %v", err)
		}
	}
	return core.NewBackendError(core.ErrorKindNetwork, "openai request failed: %v", err)
}

func (n *Normalizer) buildParams(req backend.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:               n.opts.Model,
		Messages:            buildMessages(req.Context),
		MaxCompletionTokens: openai.Int(n.opts.MaxCompletionTokens),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.Options.MaxTokens)
	}
	if req.Options.Temperature != nil {
		params.Temperature = openai.Float(*req.Options.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, spec := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  spec.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// buildMessages converts the conversation context to chat messages. Tool
// results become role=tool messages referencing their originating call id.
func buildMessages(cc core.Context) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if cc.System != "" {
		messages = append(messages, openai.SystemMessage(cc.System))
	}
	for _, m := range cc.Messages {
		switch msg := m.(type) {
		case core.UserMessage:
			if text := core.TextOf(msg.Content); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}

		case core.AssistantMessage:
			text := core.TextOf(msg.Content)
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				if text != "" {
					messages = append(messages, openai.AssistantMessage(text))
				}
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
			for i, tc := range calls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})

		case core.ToolResultMessage:
			messages = append(messages, openai.ToolMessage(core.TextOf(msg.Content), msg.ToolCallID))
		}
	}
	return messages
}
