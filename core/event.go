package core

import "fmt"

// EventType tags a canonical stream event.
type EventType string

const (
	// EventStart opens a stream. Emitted exactly once, before any block event.
	EventStart EventType = "start"
	// EventBlockStart introduces a new content block at a fresh index.
	EventBlockStart EventType = "block_start"
	// EventBlockDelta appends payload text to an open block.
	EventBlockDelta EventType = "block_delta"
	// EventBlockEnd closes an open block and carries its final content.
	EventBlockEnd EventType = "block_end"
	// EventDone terminates a stream successfully.
	EventDone EventType = "done"
	// EventError terminates a stream with a backend failure.
	EventError EventType = "error"
)

// Event is the normalized stream unit all backends are translated into.
// Field population depends on Type:
//
//	start:        no extra fields
//	block_start:  Index, BlockKind, Block (opening snapshot)
//	block_delta:  Index, BlockKind, Delta
//	block_end:    Index, BlockKind, Block (final content)
//	done / error: Result
type Event struct {
	Type      EventType     `json:"type"`
	Index     int           `json:"index,omitempty"`
	BlockKind BlockKind     `json:"kind,omitempty"`
	Delta     string        `json:"delta,omitempty"`
	Block     Block         `json:"block,omitempty"`
	Result    *StreamResult `json:"result,omitempty"`
}

// Terminal reports whether the event ends its stream. Every stream yields
// exactly one terminal event.
func (e Event) Terminal() bool { return e.Type == EventDone || e.Type == EventError }

// StopReason explains why a stream terminated.
type StopReason string

const (
	// StopReasonStop is a natural end of turn.
	StopReasonStop StopReason = "stop"
	// StopReasonLength is a token limit cut-off.
	StopReasonLength StopReason = "length"
	// StopReasonToolUse means tool calls are pending dispatch.
	StopReasonToolUse StopReason = "toolUse"
	// StopReasonError is a backend failure.
	StopReasonError StopReason = "error"
	// StopReasonAborted is consumer initiated cancellation.
	StopReasonAborted StopReason = "aborted"
)

// StreamResult is the terminal outcome of an event stream. Message carries
// the fully assembled assistant turn; on error it retains the content
// accumulated before the failure.
type StreamResult struct {
	StopReason StopReason        `json:"stopReason"`
	Usage      Usage             `json:"usage"`
	Message    *AssistantMessage `json:"message,omitempty"`
	Error      *BackendError     `json:"error,omitempty"`
}

// Err returns the backend error for error terminals, nil otherwise.
func (r *StreamResult) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// ErrorKind classifies backend failures surfaced as error terminal events.
type ErrorKind string

const (
	// ErrorKindAuth is an authentication or authorization failure.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindNetwork is a transport level failure.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindRateLimit is a provider rate limit rejection.
	ErrorKindRateLimit ErrorKind = "rate_limit"
	// ErrorKindTruncated means the backend transport ended before a terminal
	// event could be derived.
	ErrorKindTruncated ErrorKind = "stream_truncated"
	// ErrorKindCanceled is consumer initiated cancellation.
	ErrorKindCanceled ErrorKind = "canceled"
	// ErrorKindInvalid is a malformed request rejected by the backend.
	ErrorKindInvalid ErrorKind = "invalid_request"
)

// BackendError is a classified failure surfaced by a normalizer as the
// stream's error terminal. It is never retried inside the core; retry policy
// is a caller concern.
type BackendError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error [%s]: %s", e.Kind, e.Message)
}

// NewBackendError creates a classified backend error.
func NewBackendError(kind ErrorKind, format string, args ...any) *BackendError {
	return &BackendError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
