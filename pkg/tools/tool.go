// Package tools defines the Tool interface and the registry the agent
// executor draws schemas from and dispatches invocations through.
package tools

import (
	"context"
	"encoding/json"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// ---------------------------------------------------------------------------
// Tool interface
// ---------------------------------------------------------------------------

// Result is the output of a successful tool execution.
type Result struct {
	// Content is sent back to the model as the function response payload.
	Content []ai.Part
	// Display is a short human-readable surrogate for UIs and logs.
	Display string
}

// OutputFn is an optional callback for streaming partial tool output (for
// example a shell command's stdout) to a UI while the tool is still running.
type OutputFn func(chunk string)

// Tool is the interface every tool must implement.
// Register it with the Registry; the agent executor calls Execute.
type Tool interface {
	// Declaration returns the schema handed to the model.
	Declaration() ai.FunctionDeclaration
	// Execute runs the tool. ctx carries the turn's cancel signal.
	// onOutput may be nil; implementations must guard before calling it.
	Execute(ctx context.Context, callID string, args map[string]any, onOutput OutputFn) (Result, error)
}

// ---------------------------------------------------------------------------
// Structured execution errors
// ---------------------------------------------------------------------------

// ErrorType classifies a failed invocation for the executor's response parts.
type ErrorType string

const (
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeInvalidArgs ErrorType = "invalid_args"
	ErrorTypeExecution   ErrorType = "execution"
	ErrorTypeCancelled   ErrorType = "cancelled"
)

// ToolError carries the message shown to the model plus a stable type tag.
type ToolError struct {
	Message string
	Type    ErrorType
}

func (e *ToolError) Error() string { return e.Message }

// Response is what the registry hands back per invocation: the parts for the
// next user message, a display surrogate, and the structured error if any.
type Response struct {
	Parts   []ai.Part
	Display string
	Err     *ToolError
}

// ---------------------------------------------------------------------------
// Convenience constructors
// ---------------------------------------------------------------------------

func TextResult(text string) Result {
	return Result{Content: []ai.Part{ai.TextPart{Text: text}}, Display: text}
}

// ---------------------------------------------------------------------------
// SimpleSchema is a helper for building JSON Schema objects inline.
// ---------------------------------------------------------------------------

type SimpleSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// MustSchema returns a JSON Schema for the given SimpleSchema.
func MustSchema(s SimpleSchema) json.RawMessage {
	s2 := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		s2["required"] = s.Required
	}
	b, err := json.Marshal(s2)
	if err != nil {
		panic("tools.MustSchema: " + err.Error())
	}
	return b
}
