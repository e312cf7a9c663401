// Package core provides the foundational domain types shared by every other
// Convoke package:
//
//   - Messages (user, assistant, tool result) and their typed content blocks
//   - The canonical event vocabulary all backends are normalized into
//   - Stream results, stop reasons and the classified backend error
//   - Token usage and cost accounting
//   - The single-writer conversation Context handed to backends
//
// All variants are closed sets built with unexported marker methods, and the
// wire codec in codec.go is the single source of truth for their tagged JSON
// layout (used by both the session log and event consumers).
package core
