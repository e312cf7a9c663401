// Package tool implements the function calling subsystem that lets the agent
// loop invoke structured capabilities (APIs, computations, side effects) with
// schema validated arguments and consistent error handling. A Registry maps
// tool names to implementations and an Executor turns model emitted tool call
// blocks into tool result messages.
package tool

import (
	"context"
	"fmt"

	"github.com/convoke-ai/convoke/internal/util"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are registered in a Registry so the agent loop can advertise them to
// the model and dispatch the tool calls the model emits. Implementations
// should:
//   - Provide clear, descriptive names and descriptions
//   - Define a proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the model to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and model function calling.
	Parameters() map[string]any

	// Call executes the tool with decoded, schema-validated arguments. The
	// context carries cancellation from the agent loop; long-running tools
	// should honor it.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError. The executor maps every failure mode to
// one of these so tool result payloads are uniformly machine-readable.
const (
	CodeValidation = "VALIDATION_ERROR" // arguments rejected by schema
	CodeExecution  = "EXECUTION_ERROR"  // tool function returned an error
	CodeParse      = "PARSE_ERROR"      // argument JSON could not be decoded
	CodeNotFound   = "NOT_FOUND"        // no tool registered under the name
	CodePanic      = "PANIC"            // tool function panicked
)

// ToolError represents errors that occur during tool lookup or execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
