// Package stream provides the single-pass, cancellable event sequence that
// carries canonical events from a backend normalizer to its consumer. A
// stream is consumed exactly once: iterate Events until the channel closes,
// or skip straight to Result, which drains whatever remains so the terminal
// event is always observed and scoped resources are always released.
package stream

import (
	"context"
	"sync"

	"github.com/convoke-ai/convoke/core"
)

// EventStream is a forward-only sequence of canonical events plus an eventual
// terminal result. It assumes a single producer (the normalizer goroutine);
// any number of readers may share Events, though one is the intended shape.
type EventStream struct {
	ch   chan core.Event
	done chan struct{}

	mu      sync.Mutex
	result  *core.StreamResult
	ended   bool
	release []func()
}

// Option configures stream construction.
type Option func(*options)

type options struct{ buffer int }

// WithBuffer overrides the event channel buffer size.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// New creates an empty stream ready for a producer.
func New(optFns ...Option) *EventStream {
	opts := options{buffer: 64}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &EventStream{
		ch:   make(chan core.Event, opts.buffer),
		done: make(chan struct{}),
	}
}

// OnRelease registers fn to run exactly once when the stream terminates, on
// every exit path including errors and cancellation. If the stream has
// already terminated fn runs immediately.
func (s *EventStream) OnRelease(fn func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		fn()
		return
	}
	s.release = append(s.release, fn)
	s.mu.Unlock()
}

// Push delivers a non-terminal event to the consumer. It blocks until the
// event is accepted, the stream terminates, or ctx is cancelled; the return
// value is false once no further events will be delivered.
func (s *EventStream) Push(ctx context.Context, ev core.Event) bool {
	if ev.Terminal() {
		s.Terminate(ev.Result)
		return true
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Terminate records the terminal result, emits the matching done/error event
// to any iterating consumer, closes the stream and runs release hooks.
// Subsequent calls are no-ops: every stream yields exactly one terminal.
func (s *EventStream) Terminate(res *core.StreamResult) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.result = res
	hooks := s.release
	s.release = nil
	s.mu.Unlock()

	typ := core.EventDone
	if res != nil && res.Error != nil {
		typ = core.EventError
	}
	close(s.done)

	// The terminal event must reach every iterating consumer, even one that
	// lags a full buffer behind. When the buffer has room the event goes in
	// and the channel closes right here; when it is full, a helper waits for
	// the consumer to drain a slot. Result drains, so the helper always ends.
	terminal := core.Event{Type: typ, Result: res}
	select {
	case s.ch <- terminal:
		close(s.ch)
	default:
		go func() {
			s.ch <- terminal
			close(s.ch)
		}()
	}

	for _, fn := range hooks {
		fn()
	}
}

// Events returns the receive side of the stream. The channel closes after the
// terminal event.
func (s *EventStream) Events() <-chan core.Event { return s.ch }

// Done is closed once the stream has terminated.
func (s *EventStream) Done() <-chan struct{} { return s.done }

// Result blocks until the terminal event, draining any events the consumer
// did not iterate, and returns the recorded outcome. It is valid to call
// after abandoning iteration early.
func (s *EventStream) Result() *core.StreamResult {
	for range s.ch {
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
