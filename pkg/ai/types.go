// Package ai defines the model-facing types shared by every chat backend:
// messages built from parts, function declarations, streaming chunks, and the
// narrow transport contract the engine consumes.
package ai

import (
	"context"
	"encoding/json"
	"strings"
)

// ---------------------------------------------------------------------------
// Parts
// ---------------------------------------------------------------------------

// TextPart is plain model or user text. Thought marks provider-labelled
// reasoning content; thought text is advisory and never becomes committed
// conversation history on its own.
type TextPart struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool result (or error) back to the model.
// Exactly one of Response / Error is meaningful.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Part is implemented by TextPart, FunctionCall, and FunctionResponse.
type Part interface {
	part()
}

func (TextPart) part()         {}
func (FunctionCall) part()     {}
func (FunctionResponse) part() {}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn half: a role plus an ordered part list.
// A single message never mixes FunctionCall and FunctionResponse parts; the
// executor and the adapters maintain that invariant when assembling turns.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// UserText builds a user message with a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// UserMessage builds a user message from parts.
func UserMessage(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// ModelMessage builds a model message from parts.
func ModelMessage(parts ...Part) Message {
	return Message{Role: RoleModel, Parts: parts}
}

// Text concatenates the non-thought text parts of the message.
func (m Message) Text() string {
	return TextOf(m.Parts)
}

// FunctionCalls returns the invocation parts of the message, in order.
func (m Message) FunctionCalls() []FunctionCall {
	return CallsOf(m.Parts)
}

// TextOf concatenates the non-thought text in parts.
func TextOf(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if t, ok := p.(TextPart); ok && !t.Thought {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// CallsOf returns the FunctionCall parts in parts, in order.
func CallsOf(parts []Part) []FunctionCall {
	var calls []FunctionCall
	for _, p := range parts {
		if fc, ok := p.(FunctionCall); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// ---------------------------------------------------------------------------
// Function declarations (schema handed to the model)
// ---------------------------------------------------------------------------

// FunctionDeclaration describes one callable tool to the model. The parameter
// schema field keeps the remote API's name so declarations marshal straight
// onto the wire; the local path renames it (see the Gemma transform in
// pkg/subagent).
type FunctionDeclaration struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	ParametersJSONSchema json.RawMessage `json:"parametersJsonSchema,omitempty"`
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishToolUse FinishReason = "tool_use"
	FinishError   FinishReason = "error"
)

// StreamChunk is one event from a model stream: zero or more candidate parts
// plus an optional finish reason. Err is set at most once, as the final chunk
// of a failed stream.
type StreamChunk struct {
	Parts        []Part
	FinishReason FinishReason
	Err          error
}

// Usage is the token accounting reported by a backend for one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SamplingParams are the per-definition generation knobs. Nil pointers mean
// "backend default".
type SamplingParams struct {
	Temperature     *float64 `yaml:"temperature" json:"temperature,omitempty"`
	TopP            *float64 `yaml:"top_p" json:"top_p,omitempty"`
	MaxOutputTokens int      `yaml:"max_output_tokens" json:"max_output_tokens,omitempty"`
}

// GenerateRequest is everything a backend needs for one model call.
type GenerateRequest struct {
	SystemInstruction string
	Contents          []Message
	Tools             []FunctionDeclaration
	Params            SamplingParams
}

// GenerateResult is the aggregated outcome of one streamed generation.
type GenerateResult struct {
	Parts        []Part
	FinishReason FinishReason
	Usage        Usage
}

// ModelStreamer is the narrow transport contract shared by the remote and
// local backends. StreamGenerate returns immediately: chunks arrive on the
// channel (closed at end of stream) and the wait function blocks until the
// stream finishes, returning the aggregated result or the stream error.
// Implementations must stop between chunks when ctx is cancelled.
type ModelStreamer interface {
	Name() string
	StreamGenerate(ctx context.Context, model string, req GenerateRequest) (<-chan StreamChunk, func() (*GenerateResult, error))
}
