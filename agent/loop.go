// Package agent implements the turn-driving state machine: it requests model
// streams from a backend normalizer, dispatches the tool calls the model
// emits, persists every produced message to a session store, and repeats
// until a natural stop, a turn limit, or a failure. One Loop instance drives
// one conversation; steering and follow-up messages may be queued from other
// goroutines while a run is in flight.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convoke-ai/convoke/backend"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/internal/util"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/session"
	"github.com/convoke-ai/convoke/tool"
)

// State is the loop's lifecycle phase.
type State int

const (
	// StateIdle means no run is in progress.
	StateIdle State = iota
	// StateAwaitingModel means a model stream is being consumed.
	StateAwaitingModel
	// StateExecutingTools means tool calls from the last turn are dispatching.
	StateExecutingTools
	// StateDone means the last run completed naturally.
	StateDone
	// StateFailed means the last run ended with a terminal error.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TurnLimitError reports that a run hit its configured turn ceiling. All
// messages produced before the limit are retained in the result.
type TurnLimitError struct {
	MaxTurns int
}

func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("agent: turn limit of %d reached", e.MaxTurns)
}

// Options configures a Loop.
type Options struct {
	// MaxTurns bounds the number of model streams per run. A turn is counted
	// when a stream is requested.
	MaxTurns int
	// Stream carries the generation settings passed to every model request.
	Stream backend.StreamOptions
	// System is the system prompt; it may contain text/template markers
	// resolved against SystemVars at the start of the first run.
	System     string
	SystemVars map[string]any
	// Store, when set, persists every produced message and seeds the
	// conversation from the store's current path.
	Store    *session.Store
	Executor *tool.Executor
	Logger   logging.Logger
}

// Result is the outcome of one run: the final state plus everything the
// conversation produced, even when the run failed partway.
type Result struct {
	State    State
	Messages []core.Message
	Usage    core.Usage
	Cost     core.Cost
	Turns    int
	Err      error
}

// FinalText returns the text of the last assistant message, empty if none.
func (r *Result) FinalText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if m, ok := r.Messages[i].(core.AssistantMessage); ok {
			return core.TextOf(m.Content)
		}
	}
	return ""
}

// Loop orchestrates turns against one normalizer and one tool registry.
// Run must not be called concurrently; Steer and FollowUp may be called from
// any goroutine.
type Loop struct {
	normalizer backend.Normalizer
	registry   *tool.Registry
	executor   *tool.Executor
	opts       Options
	logger     logging.Logger

	conv      core.Context
	state     State
	turns     int
	steering  steeringQueue
	followUps followUpQueue
	hooks     map[HookType][]Hook
}

// New creates a loop. When a session store is configured the conversation is
// seeded from the store's currently selected path.
func New(normalizer backend.Normalizer, registry *tool.Registry, optFns ...func(*Options)) *Loop {
	opts := Options{
		MaxTurns: 10,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if registry == nil {
		registry = tool.NewRegistry()
	}
	if opts.Executor == nil {
		opts.Executor = tool.NewExecutor(registry, func(cfg *tool.ExecutorConfig) {
			cfg.Logger = opts.Logger
		})
	}

	l := &Loop{
		normalizer: normalizer,
		registry:   registry,
		executor:   opts.Executor,
		opts:       opts,
		logger:     opts.Logger,
		state:      StateIdle,
		hooks:      make(map[HookType][]Hook),
	}
	if opts.Store != nil {
		l.conv.Messages = session.Messages(opts.Store.Tree().CurrentPath())
	}
	return l
}

// On registers a hook for the given type. Hooks run synchronously on the
// loop goroutine in registration order.
func (l *Loop) On(t HookType, h Hook) {
	l.hooks[t] = append(l.hooks[t], h)
}

func (l *Loop) emit(ev HookEvent) {
	for _, h := range l.hooks[ev.Type] {
		h(ev)
	}
}

// Steer queues a steering message; it is injected ahead of any follow-up,
// immediately before the next model turn.
func (l *Loop) Steer(text string, priority int) {
	l.steering.push(SteeringMessage{Text: text, Priority: priority})
}

// FollowUp queues a message injected as a new user turn once the current run
// would otherwise complete.
func (l *Loop) FollowUp(text string) {
	l.followUps.push(text)
}

// State returns the current lifecycle phase.
func (l *Loop) State() State { return l.state }

// Turns returns the number of model streams requested in the current run.
func (l *Loop) Turns() int { return l.turns }

// Context returns a copy of the conversation context.
func (l *Loop) Context() core.Context { return l.conv.Clone() }

// Run drives the conversation starting from prompt until Done or Failed.
// The returned result always carries every message produced, including on
// failure; the error is non-nil exactly when the final state is Failed.
func (l *Loop) Run(ctx context.Context, prompt string) (*Result, error) {
	if l.state == StateAwaitingModel || l.state == StateExecutingTools {
		return nil, errors.New("agent: run already in progress")
	}
	l.turns = 0

	if err := l.renderSystem(); err != nil {
		return l.fail(err)
	}
	if err := l.appendMessage(core.NewUserMessage(prompt)); err != nil {
		return l.fail(err)
	}

	for {
		// Steering cuts ahead of everything, immediately before the next
		// model request.
		for _, sm := range l.steering.drain() {
			if err := l.appendMessage(core.NewUserMessage(sm.Text)); err != nil {
				return l.fail(err)
			}
		}

		if l.opts.MaxTurns > 0 && l.turns >= l.opts.MaxTurns {
			return l.fail(&TurnLimitError{MaxTurns: l.opts.MaxTurns})
		}
		l.turns++
		l.state = StateAwaitingModel
		l.emit(HookEvent{Type: HookTurnStart, Turn: l.turns})

		res := l.streamTurn(ctx)

		var assistant *core.AssistantMessage
		if res.Message != nil {
			// Partial assistant output is retained even when the stream
			// failed, so the history is never silently truncated.
			if err := l.appendMessage(*res.Message); err != nil {
				return l.fail(err)
			}
			assistant = res.Message
		}
		if err := res.Err(); err != nil {
			return l.fail(err)
		}
		l.emit(HookEvent{Type: HookTurnEnd, Turn: l.turns, Message: assistant})

		if assistant != nil {
			if calls := assistant.ToolCalls(); len(calls) > 0 {
				if err := l.executeTools(ctx, calls); err != nil {
					return l.fail(err)
				}
				continue
			}
		}

		// Natural stop. Steering that arrived during the turn still gets a
		// model response; then follow-ups, FIFO.
		if l.steering.pending() {
			continue
		}
		if text, ok := l.followUps.pop(); ok {
			if err := l.appendMessage(core.NewUserMessage(text)); err != nil {
				return l.fail(err)
			}
			continue
		}

		l.state = StateDone
		result := l.result(nil)
		l.emit(HookEvent{Type: HookComplete, Turn: l.turns})
		l.logger.Info("Run completed", "turns", l.turns, "messages", len(l.conv.Messages))
		return result, nil
	}
}

// streamTurn requests one model stream and consumes it to the terminal.
func (l *Loop) streamTurn(ctx context.Context) *core.StreamResult {
	req := backend.Request{
		Context: l.conv.Clone(),
		Tools:   l.registry.Specs(),
		Options: l.opts.Stream,
	}
	start := time.Now()
	es := l.normalizer.Stream(ctx, req)
	for ev := range es.Events() {
		ev := ev
		l.emit(HookEvent{Type: HookStreamEvent, Turn: l.turns, Event: &ev})
	}
	res := es.Result()

	l.logger.Debug("Model stream finished",
		"turn", l.turns,
		"stop_reason", string(res.StopReason),
		"tokens", res.Usage.Total(),
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

// executeTools dispatches the turn's calls strictly in emission order, one
// at a time. Cancellation skips calls not yet dispatched but keeps every
// completed result, so the next run resumes from a consistent history.
func (l *Loop) executeTools(ctx context.Context, calls []core.ToolCallBlock) error {
	l.state = StateExecutingTools
	for i := range calls {
		call := calls[i]
		if err := ctx.Err(); err != nil {
			return core.NewBackendError(core.ErrorKindCanceled,
				"run canceled with %d of %d tool calls dispatched", i, len(calls))
		}
		l.emit(HookEvent{Type: HookToolStart, Turn: l.turns, ToolCall: &call})
		result := l.executor.Dispatch(ctx, call)
		if err := l.appendMessage(result); err != nil {
			return err
		}
		l.emit(HookEvent{Type: HookToolEnd, Turn: l.turns, ToolCall: &call, ToolResult: &result})
	}
	return nil
}

// appendMessage adds a message to the context, persisting it first when a
// store is configured. A persistence failure is unrecoverable for the run.
func (l *Loop) appendMessage(msg core.Message) error {
	if l.opts.Store != nil {
		if _, err := l.opts.Store.AppendToCurrent(msg); err != nil {
			return fmt.Errorf("agent: persist message: %w", err)
		}
	}
	l.conv.Append(msg)
	return nil
}

func (l *Loop) renderSystem() error {
	if l.opts.System == "" || l.conv.System != "" {
		return nil
	}
	rendered, err := util.RenderTemplate(l.opts.System, l.opts.SystemVars)
	if err != nil {
		return fmt.Errorf("agent: render system prompt: %w", err)
	}
	l.conv.System = rendered
	return nil
}

func (l *Loop) fail(err error) (*Result, error) {
	l.state = StateFailed
	result := l.result(err)
	l.emit(HookEvent{Type: HookError, Turn: l.turns, Err: err})
	l.logger.Error("Run failed", "turns", l.turns, "error", err.Error())
	return result, err
}

// result snapshots the conversation, aggregating usage and cost across all
// assistant messages.
func (l *Loop) result(err error) *Result {
	r := &Result{
		State:    l.state,
		Messages: l.conv.Clone().Messages,
		Turns:    l.turns,
		Err:      err,
	}
	for _, m := range r.Messages {
		if am, ok := m.(core.AssistantMessage); ok {
			r.Usage.Add(am.Usage)
			r.Cost.Input += am.Cost.Input
			r.Cost.Output += am.Cost.Output
			r.Cost.CacheRead += am.Cost.CacheRead
			r.Cost.CacheWrite += am.Cost.CacheWrite
			r.Cost.Total += am.Cost.Total
		}
	}
	return r
}
