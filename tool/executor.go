package tool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/partialjson"
)

// ExecutorConfig configures batch dispatch behavior.
type ExecutorConfig struct {
	// MaxParallel bounds concurrent tool executions. 1 (the default used by
	// the agent loop) runs calls sequentially in emission order; 0 means no
	// explicit limit.
	MaxParallel int
	// PreserveOrder forces results to come back in the order the calls were
	// emitted even when executing in parallel.
	PreserveOrder bool
	Logger        logging.Logger
}

// Executor turns model emitted tool call blocks into tool result messages.
// It never returns an error for an individual call: every failure mode
// (unknown tool, malformed arguments, validation, execution error, panic)
// becomes a ToolResultMessage with IsError set, so the model always receives
// exactly one result per call.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, optFns ...func(*ExecutorConfig)) *Executor {
	cfg := ExecutorConfig{
		MaxParallel:   1,
		PreserveOrder: true,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Executor{registry: registry, cfg: cfg}
}

// Dispatch executes a single tool call and returns its result message.
func (e *Executor) Dispatch(ctx context.Context, call core.ToolCallBlock) core.ToolResultMessage {
	start := time.Now()

	result, toolErr := e.execute(ctx, call)
	dur := time.Since(start)

	msg := core.ToolResultMessage{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Timestamp:  time.Now().UTC(),
	}
	if toolErr != nil {
		e.cfg.Logger.Error("Tool execution failed",
			"tool_name", call.Name, "tool_call_id", call.ID,
			"code", toolErr.Code, "duration_ms", dur.Milliseconds())
		msg.IsError = true
		msg.Content = []core.Block{core.TextBlock{Text: errorContent(toolErr)}}
		return msg
	}

	e.cfg.Logger.Info("Tool execution completed",
		"tool_name", call.Name, "tool_call_id", call.ID,
		"duration_ms", dur.Milliseconds())
	msg.Content = []core.Block{core.TextBlock{Text: resultContent(result)}}
	return msg
}

// DispatchAll executes every call in the batch and returns one result per
// call. With MaxParallel 1 calls run sequentially in order; otherwise a
// semaphore bounds concurrency and PreserveOrder controls result ordering.
// Cancellation stops launching new calls but already started calls finish,
// producing results for everything that ran.
func (e *Executor) DispatchAll(ctx context.Context, calls []core.ToolCallBlock) []core.ToolResultMessage {
	n := len(calls)
	if n == 0 {
		return nil
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	// Fast path: sequential dispatch.
	if maxPar == 1 {
		results := make([]core.ToolResultMessage, 0, n)
		for _, call := range calls {
			if ctx.Err() != nil {
				break
			}
			results = append(results, e.Dispatch(ctx, call))
		}
		return results
	}

	type slot struct {
		msg core.ToolResultMessage
		ok  bool
	}
	slots := make([]slot, n)
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	for i := range calls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call core.ToolCallBlock) {
			defer wg.Done()
			defer func() { <-sem }()
			slots[idx] = slot{msg: e.Dispatch(ctx, call), ok: true}
		}(i, calls[i])
	}
	wg.Wait()

	results := make([]core.ToolResultMessage, 0, n)
	for i := range slots {
		if slots[i].ok {
			results = append(results, slots[i].msg)
		}
	}
	return results
}

// execute resolves, decodes, and invokes one call with panic containment.
func (e *Executor) execute(ctx context.Context, call core.ToolCallBlock) (result any, toolErr *ToolError) {
	impl := e.registry.Get(call.Name)
	if impl == nil {
		return nil, NewToolError(call.Name, fmt.Sprintf("no tool registered under %q", call.Name), CodeNotFound)
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return nil, &ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("failed to decode arguments: %v", err),
			Code:    CodeParse,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Error("Tool panicked",
				"tool_name", call.Name, "recover", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
			result = nil
			toolErr = &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("panic: %v", r),
				Code:    CodePanic,
			}
		}
	}()

	out, callErr := impl.Call(ctx, args)
	if callErr != nil {
		if te, ok := callErr.(*ToolError); ok {
			return nil, te
		}
		return nil, &ToolError{Tool: call.Name, Message: callErr.Error(), Code: CodeExecution}
	}
	return out, nil
}

// decodeArgs parses the accumulated argument JSON for a call. A strict parse
// is tried first; if the stream stopped mid-arguments the tolerant prefix
// parser completes the document instead. An empty argument string decodes to
// an empty map.
func decodeArgs(raw string) (map[string]any, error) {
	var acc partialjson.Accumulator
	acc.Feed(raw)
	obj, err := acc.FinalizeObject()
	if err == nil {
		return obj, nil
	}
	if v, ok := acc.TryParse(); ok {
		if m, isObj := v.(map[string]any); isObj {
			return m, nil
		}
	}
	return nil, err
}
