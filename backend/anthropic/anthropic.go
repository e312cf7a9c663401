// Package anthropic normalizes the Anthropic Messages API streaming protocol
// into the canonical event model.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/convoke-ai/convoke/backend"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/stream"
)

// Options configures the Anthropic normalizer.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
	Logger    logging.Logger
}

// Normalizer adapts the Anthropic Messages API behind backend.Normalizer.
type Normalizer struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic normalizer using the official client.
func New(optFns ...func(o *Options)) *Normalizer {
	opts := Options{
		Model:     anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens: 4096,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Normalizer{client: &client, opts: opts}
}

// NewFromClient creates a normalizer from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Normalizer {
	opts := Options{
		Model:     anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens: 4096,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Normalizer{client: client, opts: opts}
}

// Info implements backend.Normalizer.
func (n *Normalizer) Info() backend.Info {
	return backend.Info{
		Provider:     "anthropic",
		Model:        string(n.opts.Model),
		Capabilities: backend.CapText | backend.CapThinking | backend.CapToolCalls | backend.CapUsage,
	}
}

// Stream implements backend.Normalizer. It translates the SSE event sequence
// (message_start, content_block_start/delta/stop, message_delta) into
// canonical events and synthesizes the terminal event when the transport
// ends abruptly.
func (n *Normalizer) Stream(ctx context.Context, req backend.Request) *stream.EventStream {
	es := stream.New()
	params := n.buildParams(req)

	go func() {
		b := backend.NewMessageBuilder("anthropic", string(n.opts.Model))
		logger := n.opts.Logger

		sse := n.client.Messages.NewStreaming(ctx, params)
		es.OnRelease(func() { _ = sse.Close() })

		push := func(ev core.Event) bool {
			if !es.Push(ctx, ev) {
				es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindCanceled, "stream consumer cancelled")))
				return false
			}
			return true
		}
		abort := func(err error) {
			logger.Warn("anthropic stream failed", "model", n.opts.Model, "error", err)
			es.Terminate(b.Fail(classify(ctx, err)))
		}

		if !push(b.Start()) {
			return
		}

		sawTerminal := false
		for sse.Next() {
			event := sse.Current()
			switch v := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				b.AddUsage(core.Usage{
					Input:      int(v.Message.Usage.InputTokens),
					Output:     int(v.Message.Usage.OutputTokens),
					CacheRead:  int(v.Message.Usage.CacheReadInputTokens),
					CacheWrite: int(v.Message.Usage.CacheCreationInputTokens),
				})

			case anthropic.ContentBlockStartEvent:
				kind, id, name := blockKindOf(v.ContentBlock.Type, v.ContentBlock.ID, v.ContentBlock.Name)
				ev, err := b.StartBlock(int(v.Index), kind, id, name)
				if err != nil {
					abort(err)
					return
				}
				if !push(ev) {
					return
				}

			case anthropic.ContentBlockDeltaEvent:
				var delta string
				switch d := v.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					delta = d.Text
				case anthropic.InputJSONDelta:
					delta = d.PartialJSON
				case anthropic.ThinkingDelta:
					delta = d.Thinking
				case anthropic.SignatureDelta:
					if err := b.SetSignature(int(v.Index), d.Signature); err != nil {
						abort(err)
						return
					}
					continue
				}
				if delta == "" {
					continue
				}
				ev, err := b.AppendDelta(int(v.Index), delta)
				if err != nil {
					abort(err)
					return
				}
				if !push(ev) {
					return
				}

			case anthropic.ContentBlockStopEvent:
				ev, err := b.EndBlock(int(v.Index))
				if err != nil {
					abort(err)
					return
				}
				if !push(ev) {
					return
				}

			case anthropic.MessageDeltaEvent:
				b.SetStopReason(stopReasonOf(string(v.Delta.StopReason)))
				// message_delta reports the cumulative output count, which
				// supersedes the initial figure from message_start.
				b.SetOutputTokens(int(v.Usage.OutputTokens))

			case anthropic.MessageStopEvent:
				sawTerminal = true
			}
		}
		if err := sse.Err(); err != nil {
			abort(err)
			return
		}
		if !sawTerminal {
			es.Terminate(b.Fail(core.NewBackendError(core.ErrorKindTruncated, "stream truncated before message_stop")))
			return
		}

		res, err := b.Finish(req.Options.Rates)
		if err != nil {
			abort(err)
			return
		}
		logger.Debug("anthropic stream complete",
			"model", n.opts.Model, "stop_reason", res.StopReason, "tokens", res.Usage.Total())
		es.Terminate(res)
	}()

	return es
}

func blockKindOf(typ, id, name string) (core.BlockKind, string, string) {
	switch typ {
	case "tool_use":
		return core.BlockKindToolCall, id, name
	case "thinking":
		return core.BlockKindThinking, "", ""
	default:
		return core.BlockKindText, "", ""
	}
}

func stopReasonOf(raw string) core.StopReason {
	switch raw {
	case "max_tokens":
		return core.StopReasonLength
	case "tool_use":
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
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return core.NewBackendError(core.ErrorKindAuth, "anthropic auth failure: %v", err)
		case 429:
			return core.NewBackendError(core.ErrorKindRateLimit, "anthropic rate limited: %v", err)
		case 400, 404, 422:
			return core.NewBackendError(core.ErrorKindInvalid, "anthropic rejected request: %v", err)
		}
	}
	return core.NewBackendError(core.ErrorKindNetwork, "anthropic request failed: %v", err)
}

func (n *Normalizer) buildParams(req backend.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     n.opts.Model,
		MaxTokens: n.opts.MaxTokens,
		Messages:  buildMessages(req.Context),
	}
	if req.Options.MaxTokens > 0 {
		params.MaxTokens = req.Options.MaxTokens
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Options.Temperature)
	}
	if req.Options.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(req.Options.ThinkingBudget)
	}
	if req.Context.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Context.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// buildMessages converts the conversation context to Anthropic message
// params. Tool results become tool_result blocks inside user messages, which
// is the shape the Messages API requires.
func buildMessages(cc core.Context) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range cc.Messages {
		switch msg := m.(type) {
		case core.UserMessage:
			if text := core.TextOf(msg.Content); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}

		case core.AssistantMessage:
			var blocks []anthropic.ContentBlockParamUnion
			for _, blk := range msg.Content {
				switch b := blk.(type) {
				case core.TextBlock:
					if b.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(b.Text))
					}
				case core.ThinkingBlock:
					if b.Signature != "" {
						blocks = append(blocks, anthropic.NewThinkingBlock(b.Signature, b.Thinking))
					}
				case core.ToolCallBlock:
					var input any
					if b.Arguments != "" {
						if err := json.Unmarshal([]byte(b.Arguments), &input); err != nil {
							input = b.Arguments
						}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		case core.ToolResultMessage:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, core.TextOf(msg.Content), msg.IsError),
			))
		}
	}
	return messages
}

func buildTools(specs []backend.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(specs))
	for i, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if spec.Parameters != nil {
			if properties, ok := spec.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := spec.Parameters["required"]; ok {
				inputSchema.Required = stringSlice(required)
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
	}
	return tools
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
