// Package chat provides the history-owning conversation adapters the agent
// executor drives: RemoteSession for backends that natively emit function
// calls, LocalSession for text-only local models that get tools rendered into
// the prompt instead.
//
// Both adapters expose the same operation, SendStream: hand the model the
// next user message, stream chunk events back, and settle the turn through a
// wait function. History bookkeeping is the adapter's job; callers never
// append to it directly.
package chat

import (
	"context"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// TurnConfig carries the per-send parameters: the tool declarations offered
// this turn (remote path only) and the sampling knobs.
type TurnConfig struct {
	Tools  []ai.FunctionDeclaration
	Params ai.SamplingParams
}

// Session is one conversation with one model. SendStream appends the user
// message and, once the stream settles successfully, the model reply; History
// returns a snapshot of the committed conversation.
//
// The wait function must be called after the chunk channel is drained. It
// blocks until the stream finishes and returns the aggregated result or the
// stream error.
type Session interface {
	SendStream(ctx context.Context, parts []ai.Part, cfg TurnConfig) (<-chan ai.StreamChunk, func() (*ai.GenerateResult, error))
	History() []ai.Message
}

// ---------------------------------------------------------------------------
// Compression status
// ---------------------------------------------------------------------------

// CompressionStatus reports what the compressor did to a history.
type CompressionStatus string

const (
	// CompressionNone means the history was left untouched.
	CompressionNone CompressionStatus = "NONE"

	// CompressionApplied means the oldest turns were replaced by a summary.
	CompressionApplied CompressionStatus = "COMPRESSED"

	// CompressionFailedInflated means the attempt produced a summary that
	// grew the token estimate; the original history was kept and callers
	// should stop retrying.
	CompressionFailedInflated CompressionStatus = "COMPRESSION_FAILED_INFLATED_TOKEN_COUNT"
)

// CompressionResult is the outcome of one Compressor.Compress call.
// NewHistory is set only when Status is CompressionApplied.
type CompressionResult struct {
	Status       CompressionStatus
	NewHistory   []ai.Message
	TokensBefore int
	TokensAfter  int
}

// errStream delivers a pre-stream failure through the standard streaming
// shape: one Err chunk, then the same error from wait.
func errStream(err error) (<-chan ai.StreamChunk, func() (*ai.GenerateResult, error)) {
	ch := make(chan ai.StreamChunk, 1)
	ch <- ai.StreamChunk{Err: err}
	close(ch)
	return ch, func() (*ai.GenerateResult, error) { return nil, err }
}
