package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// ErrSummarizerNotImplemented is returned when tool-output summarization is
// requested for a remote-model agent. Summarization burns tokens by design,
// so it only runs against local models.
var ErrSummarizerNotImplemented = errors.New("subagent: tool output summarization is not implemented for remote models")

// Summarizer prompt keys. Definitions select a body via
// RunConfig.SummarizerPrompt; the bodies live here rather than in the
// executor so hosts can register their own.
const (
	SummarizerPromptText       = "text"
	SummarizerPromptToolOutput = "tool_output"
)

var summarizerPrompts = map[string]string{
	SummarizerPromptText: "You are a text summarizer. Condense the content below into a short bulleted list of the key facts. Keep exact identifiers, paths, numbers, and error messages. Output only the bullets.",

	SummarizerPromptToolOutput: "You are the Tool Call Output Summarizer. A tool just ran inside an automated agent and produced the output below. Write a concise bulleted summary that preserves everything the agent needs to keep working: exact file paths, identifiers, commands, counts, error messages, and any values it may reference later. Drop boilerplate, banners, and repetition. Output only the bullet list, nothing else.",
}

// RegisterSummarizerPrompt adds or replaces a prompt body under key. Not
// safe to call concurrently with running agents.
func RegisterSummarizerPrompt(key, body string) {
	summarizerPrompts[key] = body
}

// Summarizer condenses raw tool output through an agent's local model so
// that large results (long file reads, noisy command output) do not flood
// the conversation.
type Summarizer struct {
	streamer ai.ModelStreamer
	model    string
	prompt   string
	params   ai.SamplingParams
}

// NewSummarizer builds a summarizer for the given model config. Remote
// configs return ErrSummarizerNotImplemented. An unknown prompt key is a
// configuration error.
func NewSummarizer(model ModelConfig, streamer ai.ModelStreamer, promptKey string) (*Summarizer, error) {
	if model.Local == nil {
		return nil, ErrSummarizerNotImplemented
	}
	if promptKey == "" {
		promptKey = SummarizerPromptToolOutput
	}
	prompt, ok := summarizerPrompts[promptKey]
	if !ok {
		return nil, configErrorf("unknown summarizer prompt key %q", promptKey)
	}
	return &Summarizer{
		streamer: streamer,
		model:    model.Local.Model,
		prompt:   prompt,
		params:   model.Local.Params,
	}, nil
}

// Summarize returns a condensed rendition of content. Empty or whitespace
// content passes through untouched.
func (s *Summarizer) Summarize(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return content, nil
	}

	req := ai.GenerateRequest{
		SystemInstruction: s.prompt,
		Contents:          []ai.Message{ai.UserText(content)},
		Params:            s.params,
	}
	chunks, wait := s.streamer.StreamGenerate(ctx, s.model, req)
	for range chunks {
	}
	result, err := wait()
	if err != nil {
		return "", fmt.Errorf("subagent: summarize: %w", err)
	}

	summary := strings.TrimSpace(ai.TextOf(result.Parts))
	if summary == "" {
		return "", errors.New("subagent: summarize: model returned no text")
	}
	return summary, nil
}
