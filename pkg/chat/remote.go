package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/ai/models"
)

// RemoteConfig configures a RemoteSession.
type RemoteConfig struct {
	// SystemInstruction is sent with every request.
	SystemInstruction string

	// InitialMessages seed the history before the first send.
	InitialMessages []ai.Message

	// Compressor, when set, runs before each send. A failed attempt latches
	// the session so compression is not retried.
	Compressor *Compressor
}

// RemoteSession drives a backend that natively emits function-call parts.
// It owns the conversation history and optionally compresses it between
// turns. Safe for concurrent History reads while a stream is in flight;
// sends themselves are sequential by contract.
type RemoteSession struct {
	streamer   ai.ModelStreamer
	model      string
	system     string
	compressor *Compressor
	window     int

	mu              sync.Mutex
	history         []ai.Message
	compressionOff  bool
	forceCompress   bool
	lastCompression CompressionStatus
}

// NewRemote builds a RemoteSession over streamer for the given model.
func NewRemote(streamer ai.ModelStreamer, model string, cfg RemoteConfig) *RemoteSession {
	return &RemoteSession{
		streamer:        streamer,
		model:           model,
		system:          cfg.SystemInstruction,
		compressor:      cfg.Compressor,
		window:          models.ContextWindowFor(model),
		history:         append([]ai.Message(nil), cfg.InitialMessages...),
		lastCompression: CompressionNone,
	}
}

// SendStream sends parts as the next user message. Chunks pass through from
// the backend unchanged; once the wait function settles without error, the
// user message and the model reply are committed to history.
//
// Compression runs first when configured: an applied result swaps the
// history, an inflated result latches the session so later sends skip the
// attempt entirely.
func (s *RemoteSession) SendStream(ctx context.Context, parts []ai.Part, cfg TurnConfig) (<-chan ai.StreamChunk, func() (*ai.GenerateResult, error)) {
	s.mu.Lock()

	if s.compressor != nil && !s.compressionOff {
		res, err := s.compressor.Compress(ctx, s.history, s.forceCompress)
		if err != nil {
			s.mu.Unlock()
			return errStream(fmt.Errorf("chat: compression: %w", err))
		}
		s.lastCompression = res.Status
		switch res.Status {
		case CompressionApplied:
			s.history = res.NewHistory
			s.forceCompress = false
		case CompressionFailedInflated:
			s.compressionOff = true
		}
	}

	userMsg := ai.UserMessage(parts...)
	contents := make([]ai.Message, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	contents = append(contents, userMsg)
	s.mu.Unlock()

	req := ai.GenerateRequest{
		SystemInstruction: s.system,
		Contents:          contents,
		Tools:             cfg.Tools,
		Params:            cfg.Params,
	}

	chunks, wait := s.streamer.StreamGenerate(ctx, s.model, req)

	return chunks, func() (*ai.GenerateResult, error) {
		result, err := wait()
		if err != nil {
			if ai.IsOverflowError(err) {
				// Next send compresses regardless of thresholds.
				s.mu.Lock()
				s.forceCompress = true
				s.mu.Unlock()
			}
			return nil, err
		}

		s.mu.Lock()
		s.history = append(s.history, userMsg, ai.ModelMessage(result.Parts...))
		if ai.IsSilentOverflow(result.Usage, s.window) {
			s.forceCompress = true
		}
		s.mu.Unlock()
		return result, nil
	}
}

// History returns a snapshot of the committed conversation.
func (s *RemoteSession) History() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Message(nil), s.history...)
}

// LastCompression reports the status of the most recent compression attempt,
// CompressionNone if none has run.
func (s *RemoteSession) LastCompression() CompressionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCompression
}
