// Package backend defines the normalizer contract every model backend is
// adapted through: given a conversation context, tool specs and stream
// options it produces a single-pass stream of canonical events. Concrete
// normalizers live in subpackages (anthropic, openai); Scripted is an
// in-process implementation for tests and examples.
package backend

import (
	"context"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/stream"
)

// Capability describes which block kinds a normalizer can emit. A backend
// lacking a capability simply never emits those blocks; it never fakes them.
type Capability uint8

const (
	// CapText marks support for plain text blocks.
	CapText Capability = 1 << iota
	// CapThinking marks support for reasoning blocks.
	CapThinking
	// CapToolCalls marks support for tool call blocks.
	CapToolCalls
	// CapUsage marks support for token usage reporting.
	CapUsage
)

// Has reports whether all capabilities in want are present.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Info describes a normalizer implementation.
type Info struct {
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Capabilities Capability `json:"capabilities"`
}

// ToolSpec declares a callable tool to the model. Parameters is a JSON
// Schema object. Specs are supplied by the caller and never mutated here.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// StreamOptions carries per-request generation settings. Nil pointer fields
// leave the provider default in place.
type StreamOptions struct {
	Temperature    *float64         `json:"temperature,omitempty"`
	MaxTokens      int64            `json:"maxTokens,omitempty"`
	ThinkingBudget int64            `json:"thinkingBudget,omitempty"`
	APIKey         string           `json:"-"`
	Rates          *core.ModelRates `json:"rates,omitempty"`
}

// Request is the normalized input handed to a normalizer for one turn.
type Request struct {
	Context core.Context
	Tools   []ToolSpec
	Options StreamOptions
}

// Normalizer converts a backend-specific event sequence into the canonical
// event model. Implementations must emit exactly one terminal event per
// stream, map authentication and transport failures to an error terminal
// rather than panicking or blocking, and release any acquired resource on
// every exit path.
type Normalizer interface {
	// Stream starts one model turn. The returned stream is single-pass.
	Stream(ctx context.Context, req Request) *stream.EventStream

	// Info returns provider metadata and the supported capability set.
	Info() Info
}
