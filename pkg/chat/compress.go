// Package chat — history compression.
//
// When the estimated context size exceeds (ContextWindow - ReserveTokens),
// compression summarises the older portion of the conversation with the model
// and replaces it with a structured summary message, keeping the most recent
// KeepRecentTokens of conversation intact.
//
// Compression is best-effort and self-checking: if the summary message plus
// the kept tail estimates larger than the original history, the original is
// kept and the attempt is reported as failed so callers stop retrying.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// CompressionConfig controls when compression triggers and how much recent
// conversation survives it.
type CompressionConfig struct {
	// ContextWindow is the model's maximum context size in tokens.
	// Zero disables threshold-based compression (force still works).
	ContextWindow int

	// ReserveTokens is the minimum free-token buffer to maintain.
	// Compression triggers when usage > ContextWindow - ReserveTokens.
	// Default: 16384.
	ReserveTokens int

	// KeepRecentTokens is how many tokens of recent history to preserve
	// after compression. Default: 20000.
	KeepRecentTokens int
}

func (c CompressionConfig) reserveTokens() int {
	if c.ReserveTokens > 0 {
		return c.ReserveTokens
	}
	return 16384
}

func (c CompressionConfig) keepRecentTokens() int {
	if c.KeepRecentTokens > 0 {
		return c.KeepRecentTokens
	}
	return 20000
}

// ShouldCompress reports whether compression should be triggered given the
// current estimated token count.
func ShouldCompress(contextTokens int, cfg CompressionConfig) bool {
	if cfg.ContextWindow <= 0 {
		return false
	}
	return contextTokens > cfg.ContextWindow-cfg.reserveTokens()
}

// ---------------------------------------------------------------------------
// Cut-point detection
// ---------------------------------------------------------------------------

// FindCutPoint returns the index of the first message to keep after
// compression, targeting the most recent keepRecentTokens of conversation.
//
// Rules:
//   - Never cut between a model message carrying function calls and the user
//     message carrying its function responses.
//   - Only cut at genuine turn boundaries (the kept portion always starts
//     with a user message that holds no function responses).
//   - At minimum, keep the last exchange.
//
// Returns -1 if compression cannot sensibly cut anywhere (conversation too
// short, or everything fits in the keep budget).
func FindCutPoint(msgs []ai.Message, keepRecentTokens int) int {
	if len(msgs) < 4 { // need at least 2 exchanges to compress
		return -1
	}

	// Walk backward from the end, accumulating token estimates.
	accumulated := 0
	cutIdx := -1

	for i := len(msgs) - 1; i >= 0; i-- {
		accumulated += EstimateMessageTokens(msgs[i])
		if accumulated >= keepRecentTokens {
			// Find the next turn boundary at or after i.
			for j := i; j < len(msgs); j++ {
				if isTurnBoundary(msgs[j]) {
					// Must leave something to summarise.
					if j > 0 {
						cutIdx = j
					}
					break
				}
			}
			break
		}
	}

	return cutIdx
}

// isTurnBoundary reports whether msg opens a fresh exchange: a user message
// with no function-response parts. Cutting anywhere else would orphan a model
// message from the tool responses it is waiting on.
func isTurnBoundary(m ai.Message) bool {
	if m.Role != ai.RoleUser {
		return false
	}
	for _, p := range m.Parts {
		if _, ok := p.(ai.FunctionResponse); ok {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Compressor
// ---------------------------------------------------------------------------

// Compressor shrinks a conversation by replacing its oldest turns with a
// model-written summary. It is stateless; RemoteSession owns the
// retry-suppression latch.
type Compressor struct {
	Streamer ai.ModelStreamer
	Model    string
	Config   CompressionConfig

	// Logger receives one record per attempt. Nil discards.
	Logger *slog.Logger
}

func (c *Compressor) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Compress evaluates history against the configured thresholds and, when they
// are exceeded (or force is true), summarises the oldest turns. The returned
// status says what happened: CompressionApplied carries the new history,
// CompressionFailedInflated means the summary grew the estimate and the
// original history stands.
func (c *Compressor) Compress(ctx context.Context, history []ai.Message, force bool) (*CompressionResult, error) {
	before := EstimateHistoryTokens(history)
	if !force && !ShouldCompress(before, c.Config) {
		return &CompressionResult{Status: CompressionNone, TokensBefore: before, TokensAfter: before}, nil
	}

	cutIdx := FindCutPoint(history, c.Config.keepRecentTokens())
	if cutIdx <= 0 {
		return &CompressionResult{Status: CompressionNone, TokensBefore: before, TokensAfter: before}, nil
	}

	toSummarise := history[:cutIdx]
	toKeep := history[cutIdx:]

	summary, err := c.generateSummary(ctx, toSummarise)
	if err != nil {
		return nil, err
	}

	summaryText := fmt.Sprintf(
		"The conversation history before this point was compressed into the following summary:\n\n<summary>\n%s\n</summary>",
		summary,
	)

	newHistory := make([]ai.Message, 0, 1+len(toKeep))
	newHistory = append(newHistory, ai.UserText(summaryText))
	newHistory = append(newHistory, toKeep...)

	after := EstimateHistoryTokens(newHistory)
	if after >= before {
		c.logger().Warn("compression inflated the token estimate, keeping original history",
			"tokens_before", before, "tokens_after", after)
		return &CompressionResult{Status: CompressionFailedInflated, TokensBefore: before, TokensAfter: after}, nil
	}

	c.logger().Info("history compressed",
		"tokens_before", before, "tokens_after", after, "messages_summarised", len(toSummarise))
	return &CompressionResult{
		Status:       CompressionApplied,
		NewHistory:   newHistory,
		TokensBefore: before,
		TokensAfter:  after,
	}, nil
}

// ---------------------------------------------------------------------------
// Summary generation
// ---------------------------------------------------------------------------

const summarySystemPrompt = `You are an expert at summarising technical conversations.
Create concise, structured summaries that allow another AI to continue the work seamlessly.
Focus on facts, decisions, and current state — not the conversational flow.`

const summaryPrompt = `The messages above are a conversation to summarise. Create a structured context checkpoint that another LLM will use to continue the work.

Use this EXACT format:

## Goal
[What is the agent trying to accomplish? Can be multiple items.]

## Constraints & Preferences
- [Any constraints, preferences, or requirements from the instructions]
- [Or "(none)" if none were mentioned]

## Progress
### Done
- [x] [Completed tasks/changes]

### In Progress
- [ ] [Current work]

### Blocked
- [Issues preventing progress, or "(none)"]

## Key Decisions
- **[Decision]**: [Brief rationale]

## Next Steps
1. [Ordered list of what should happen next]

## Critical Context
- [Exact file paths, function names, error messages, data needed to continue]
- [Or "(none)" if not applicable]

Keep each section concise. Preserve exact identifiers, file paths, and error messages.`

// generateSummary asks the model to summarise msgs. A previously generated
// summary message, if present at the head of msgs, is serialised along with
// everything else, so repeated compressions fold older summaries forward.
func (c *Compressor) generateSummary(ctx context.Context, msgs []ai.Message) (string, error) {
	promptText := fmt.Sprintf("<conversation>\n%s\n</conversation>\n\n%s",
		serializeConversation(msgs), summaryPrompt)

	req := ai.GenerateRequest{
		SystemInstruction: summarySystemPrompt,
		Contents:          []ai.Message{ai.UserText(promptText)},
		Params:            ai.SamplingParams{MaxOutputTokens: 4096},
	}

	chunks, wait := c.Streamer.StreamGenerate(ctx, c.Model, req)
	for range chunks {
	}
	result, err := wait()
	if err != nil {
		return "", fmt.Errorf("compression: summarisation failed: %w", err)
	}

	summary := ai.TextOf(result.Parts)
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("compression: summarisation returned no text")
	}
	return summary, nil
}

// serializeConversation converts a message slice to a human-readable text
// block for feeding to the summarisation model.
func serializeConversation(msgs []ai.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case ai.RoleUser:
			sb.WriteString("[USER]\n")
			for _, p := range m.Parts {
				switch blk := p.(type) {
				case ai.TextPart:
					sb.WriteString(blk.Text)
					sb.WriteByte('\n')
				case ai.FunctionResponse:
					fmt.Fprintf(&sb, "[TOOL RESULT: %s]\n", blk.Name)
					sb.WriteString(functionResponseText(blk))
					sb.WriteByte('\n')
				}
			}
			sb.WriteByte('\n')
		case ai.RoleModel:
			sb.WriteString("[MODEL]\n")
			for _, p := range m.Parts {
				switch blk := p.(type) {
				case ai.TextPart:
					if blk.Thought {
						sb.WriteString("<thinking>\n")
						sb.WriteString(blk.Text)
						sb.WriteString("\n</thinking>\n")
					} else {
						sb.WriteString(blk.Text)
						sb.WriteByte('\n')
					}
				case ai.FunctionCall:
					fmt.Fprintf(&sb, "[TOOL CALL: %s]\n", blk.Name)
				}
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// functionResponseText renders a response payload for the summary input,
// truncating very long tool outputs.
func functionResponseText(fr ai.FunctionResponse) string {
	var text string
	if fr.Error != "" {
		text = "Error: " + fr.Error
	} else if j, err := json.Marshal(fr.Response); err == nil {
		text = string(j)
	}
	if len(text) > 2000 {
		text = text[:1997] + "..."
	}
	return text
}
