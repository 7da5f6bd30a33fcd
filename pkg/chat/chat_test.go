package chat_test

import (
	"context"
	"strings"
	"sync"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// scriptStreamer plays back canned steps in order and records every request
// it receives. Once the script is exhausted it returns empty stop results.
type scriptStreamer struct {
	mu       sync.Mutex
	script   []scriptStep
	requests []ai.GenerateRequest
}

type scriptStep struct {
	chunks []ai.StreamChunk
	result *ai.GenerateResult
	err    error
}

func (s *scriptStreamer) Name() string { return "script" }

func (s *scriptStreamer) StreamGenerate(ctx context.Context, model string, req ai.GenerateRequest) (<-chan ai.StreamChunk, func() (*ai.GenerateResult, error)) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var step scriptStep
	if len(s.script) > 0 {
		step = s.script[0]
		s.script = s.script[1:]
	} else {
		step = scriptStep{result: &ai.GenerateResult{FinishReason: ai.FinishStop}}
	}
	s.mu.Unlock()

	ch := make(chan ai.StreamChunk, len(step.chunks)+1)
	for _, c := range step.chunks {
		ch <- c
	}
	if step.err != nil {
		ch <- ai.StreamChunk{Err: step.err}
	}
	close(ch)
	return ch, func() (*ai.GenerateResult, error) {
		if step.err != nil {
			return nil, step.err
		}
		return step.result, nil
	}
}

func (s *scriptStreamer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptStreamer) request(i int) ai.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func textResult(text string) *ai.GenerateResult {
	return &ai.GenerateResult{
		Parts:        []ai.Part{ai.TextPart{Text: text}},
		FinishReason: ai.FinishStop,
	}
}

func textChunk(text string) ai.StreamChunk {
	return ai.StreamChunk{Parts: []ai.Part{ai.TextPart{Text: text}}}
}

// exchange builds one user+model pair with text payloads of the given size.
func exchange(n int) []ai.Message {
	return []ai.Message{
		ai.UserText(strings.Repeat("u", n)),
		ai.ModelMessage(ai.TextPart{Text: strings.Repeat("m", n)}),
	}
}

func drain(ch <-chan ai.StreamChunk) []ai.StreamChunk {
	var out []ai.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}
