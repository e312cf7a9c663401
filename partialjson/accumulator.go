// Package partialjson implements best-effort parsing of JSON that arrives in
// fragments, as produced by streamed tool call arguments. Feeding never
// fails, TryParse never reports an error for naturally incomplete input, and
// Finalize performs the one strict parse once the stream has ended.
package partialjson

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseError reports that fully accumulated argument text is not valid JSON.
// It is raised only by Finalize; incomplete input during streaming is never
// an error.
type ParseError struct {
	Message string `json:"message"`
	Raw     string `json:"raw"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JSON arguments: %s", e.Message)
}

// Accumulator buffers streamed JSON text. The zero value is ready to use.
// An Accumulator is not safe for concurrent use; each tool call block owns
// exactly one.
type Accumulator struct {
	buf strings.Builder
}

// Feed appends a raw fragment to the buffer. It never fails.
func (a *Accumulator) Feed(fragment string) { a.buf.WriteString(fragment) }

// Len returns the number of buffered bytes.
func (a *Accumulator) Len() int { return a.buf.Len() }

// Raw returns the accumulated text as fed so far.
func (a *Accumulator) Raw() string { return a.buf.String() }

// TryParse returns a best-effort value for the buffered prefix by lexically
// closing unterminated strings, objects and arrays in a scratch copy. The
// second return is false when no value can be derived yet (empty buffer,
// mid-escape sequence, dangling key, bare literal prefix); that is not an
// error condition.
func (a *Accumulator) TryParse() (any, bool) {
	scratch, ok := closeOpen(a.buf.String())
	if !ok {
		return nil, false
	}
	if !gjson.Valid(scratch) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(scratch), &v); err != nil {
		return nil, false
	}
	return v, true
}

// Finalize strictly parses the full buffer. Call it once the owning block has
// ended; a failure here means the backend produced malformed argument text.
func (a *Accumulator) Finalize() (any, error) {
	raw := strings.TrimSpace(a.buf.String())
	if raw == "" {
		// Providers emit no argument text for zero-parameter tools.
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &ParseError{Message: err.Error(), Raw: raw}
	}
	return v, nil
}

// FinalizeObject is Finalize constrained to a JSON object, the shape tool
// arguments must take.
func (a *Accumulator) FinalizeObject() (map[string]any, error) {
	v, err := a.Finalize()
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Message: fmt.Sprintf("expected object, got %T", v), Raw: a.buf.String()}
	}
	return obj, nil
}

// closeOpen appends the closers needed to turn a structurally incomplete
// JSON prefix into a parseable document. It reports false when the prefix
// cannot be repaired by appending alone.
func closeOpen(s string) (string, bool) {
	trimmed := strings.TrimRight(s, " \t\r\n")
	if trimmed == "" {
		return "", false
	}

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	// A trailing backslash means the buffer stopped mid escape sequence;
	// closing the quote here would corrupt the string value.
	if escaped {
		return "", false
	}

	body := trimmed
	if inString {
		body += `"`
	} else {
		// A dangling comma can be dropped; a dangling colon leaves a key
		// with no value, which appending cannot repair.
		switch body[len(body)-1] {
		case ',':
			body = body[:len(body)-1]
		case ':':
			return "", false
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		body += string(stack[i])
	}
	return body, true
}
