package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// LocalConfig configures a LocalSession.
type LocalConfig struct {
	// SystemInstruction is prepended to the wire conversation as a system
	// message on every send. It is never stored in history.
	SystemInstruction string

	// InitialMessages seed the history before the first send.
	InitialMessages []ai.Message

	// Reminder, when non-empty, is appended to the final user message's text
	// on the wire only. Persisted history never contains it.
	Reminder string

	// DebugDir, when non-empty, receives a dump of the outgoing prompt state
	// on every send: last_system_prompt.txt, last_user_message.txt and
	// summarizer_history.jsonl. Purely a debugging aid.
	DebugDir string
}

// LocalSession drives a text-only local model. The model sees the whole
// conversation as flat text; function calling happens above this layer by
// rendering declarations into the system prompt and parsing invocations back
// out of the reply.
//
// Streamed content deltas are re-emitted as cumulative text, so every chunk
// carries the complete response so far. Thought parts pass through as-is.
type LocalSession struct {
	streamer ai.ModelStreamer
	model    string
	system   string
	reminder string
	debugDir string

	mu      sync.Mutex
	history []ai.Message
}

// NewLocal builds a LocalSession over streamer for the given model.
func NewLocal(streamer ai.ModelStreamer, model string, cfg LocalConfig) *LocalSession {
	return &LocalSession{
		streamer: streamer,
		model:    model,
		system:   cfg.SystemInstruction,
		reminder: cfg.Reminder,
		debugDir: cfg.DebugDir,
		history:  append([]ai.Message(nil), cfg.InitialMessages...),
	}
}

// SendStream sends parts as the next user message.
//
// The user message is committed to history immediately; the model reply is
// committed when the wait function settles without error. The reminder and
// the system instruction exist only on the wire copy.
func (s *LocalSession) SendStream(ctx context.Context, parts []ai.Part, cfg TurnConfig) (<-chan ai.StreamChunk, func() (*ai.GenerateResult, error)) {
	s.mu.Lock()
	userMsg := ai.UserMessage(parts...)
	s.history = append(s.history, userMsg)
	wire := append([]ai.Message(nil), s.history...)
	s.mu.Unlock()

	if s.reminder != "" {
		wire = appendReminder(wire, s.reminder)
	}
	if s.debugDir != "" {
		s.dumpDebug(wire)
	}

	req := ai.GenerateRequest{
		SystemInstruction: s.system,
		Contents:          wire,
		Params:            cfg.Params,
	}

	raw, wait := s.streamer.StreamGenerate(ctx, s.model, req)

	out := make(chan ai.StreamChunk)
	go func() {
		defer close(out)
		var text strings.Builder
		for chunk := range raw {
			rebuilt := make([]ai.Part, 0, len(chunk.Parts))
			grew := false
			for _, p := range chunk.Parts {
				if tp, ok := p.(ai.TextPart); ok && !tp.Thought {
					text.WriteString(tp.Text)
					grew = true
					continue
				}
				rebuilt = append(rebuilt, p)
			}
			if grew {
				rebuilt = append(rebuilt, ai.TextPart{Text: text.String()})
			}
			chunk.Parts = rebuilt
			if len(chunk.Parts) == 0 && chunk.Err == nil && chunk.FinishReason == "" {
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() (*ai.GenerateResult, error) {
		result, err := wait()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.history = append(s.history, ai.ModelMessage(ai.TextPart{Text: ai.TextOf(result.Parts)}))
		s.mu.Unlock()
		return result, nil
	}
}

// History returns a snapshot of the committed conversation.
func (s *LocalSession) History() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Message(nil), s.history...)
}

// appendReminder rewrites the final user message of wire so its text ends
// with the reminder. The message and its part slice are copied first; the
// caller's history must never observe the edit.
func appendReminder(wire []ai.Message, reminder string) []ai.Message {
	for i := len(wire) - 1; i >= 0; i-- {
		if wire[i].Role != ai.RoleUser {
			continue
		}
		msg := wire[i]
		parts := append([]ai.Part(nil), msg.Parts...)

		appended := false
		for j := len(parts) - 1; j >= 0; j-- {
			if tp, ok := parts[j].(ai.TextPart); ok && !tp.Thought {
				tp.Text += "\n\n" + reminder
				parts[j] = tp
				appended = true
				break
			}
		}
		if !appended {
			parts = append(parts, ai.TextPart{Text: reminder})
		}

		msg.Parts = parts
		wire[i] = msg
		break
	}
	return wire
}

// dumpDebug writes the outgoing prompt state to debugDir. Errors are
// deliberately ignored; the dump is observable but not part of the session
// contract.
func (s *LocalSession) dumpDebug(wire []ai.Message) {
	if err := os.MkdirAll(s.debugDir, 0o755); err != nil {
		return
	}

	_ = os.WriteFile(filepath.Join(s.debugDir, "last_system_prompt.txt"), []byte(s.system), 0o644)

	for i := len(wire) - 1; i >= 0; i-- {
		if wire[i].Role == ai.RoleUser {
			_ = os.WriteFile(filepath.Join(s.debugDir, "last_user_message.txt"), []byte(wire[i].Text()), 0o644)
			break
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range wire {
		_ = enc.Encode(map[string]any{"role": string(m.Role), "text": m.Text()})
	}
	_ = os.WriteFile(filepath.Join(s.debugDir, "summarizer_history.jsonl"), buf.Bytes(), 0o644)
}
