package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/chat"
)

func TestShouldCompress(t *testing.T) {
	cases := []struct {
		name   string
		tokens int
		cfg    chat.CompressionConfig
		want   bool
	}{
		{"zero window disables", 999999, chat.CompressionConfig{}, false},
		{"above threshold", 900, chat.CompressionConfig{ContextWindow: 1000, ReserveTokens: 200}, true},
		{"below threshold", 700, chat.CompressionConfig{ContextWindow: 1000, ReserveTokens: 200}, false},
		{"default reserve above", 4000, chat.CompressionConfig{ContextWindow: 20000}, true},
		{"default reserve below", 3000, chat.CompressionConfig{ContextWindow: 20000}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := chat.ShouldCompress(tc.tokens, tc.cfg); got != tc.want {
				t.Errorf("ShouldCompress(%d, %+v) = %v, want %v", tc.tokens, tc.cfg, got, tc.want)
			}
		})
	}
}

func TestFindCutPoint_ShortHistory(t *testing.T) {
	msgs := []ai.Message{
		ai.UserText("a"),
		ai.ModelMessage(ai.TextPart{Text: "b"}),
		ai.UserText("c"),
	}
	if got := chat.FindCutPoint(msgs, 1); got != -1 {
		t.Errorf("FindCutPoint on 3 messages = %d, want -1", got)
	}
}

func TestFindCutPoint_EverythingFitsKeepBudget(t *testing.T) {
	msgs := append(exchange(100), exchange(100)...)
	if got := chat.FindCutPoint(msgs, 100000); got != -1 {
		t.Errorf("FindCutPoint = %d, want -1 when history fits the keep budget", got)
	}
}

func TestFindCutPoint_CutsAtUserBoundary(t *testing.T) {
	msgs := append(exchange(400), exchange(400)...) // 100 tokens each
	msgs = append(msgs, exchange(40)...)            // 10 tokens each

	got := chat.FindCutPoint(msgs, 15)
	if got != 4 {
		t.Fatalf("FindCutPoint = %d, want 4", got)
	}
	if msgs[got].Role != ai.RoleUser {
		t.Errorf("cut index points at %s message, want user", msgs[got].Role)
	}
}

func TestFindCutPoint_NeverSplitsToolExchange(t *testing.T) {
	msgs := []ai.Message{
		ai.UserText(strings.Repeat("a", 200)),
		ai.ModelMessage(ai.FunctionCall{Name: "grep", Args: map[string]any{"pattern": strings.Repeat("p", 180)}}),
		ai.UserMessage(ai.FunctionResponse{Name: "grep", Response: map[string]any{"output": strings.Repeat("o", 200)}}),
		ai.ModelMessage(ai.TextPart{Text: strings.Repeat("b", 200)}),
		ai.UserText(strings.Repeat("c", 200)),
		ai.ModelMessage(ai.TextPart{Text: strings.Repeat("d", 200)}),
	}

	// A keep budget landing on the function-response message must advance to
	// the next genuine user message instead of splitting the tool exchange.
	for _, keep := range []int{120, 200} {
		if got := chat.FindCutPoint(msgs, keep); got != 4 {
			t.Errorf("FindCutPoint(keep=%d) = %d, want 4", keep, got)
		}
	}
}

func TestCompress_BelowThresholdDoesNothing(t *testing.T) {
	summarizer := &scriptStreamer{}
	c := &chat.Compressor{
		Streamer: summarizer,
		Model:    "gemma3:27b",
		Config:   chat.CompressionConfig{ContextWindow: 1000, ReserveTokens: 100},
	}

	res, err := c.Compress(context.Background(), append(exchange(400), exchange(400)...), false)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Status != chat.CompressionNone {
		t.Errorf("Status = %s, want NONE", res.Status)
	}
	if res.NewHistory != nil {
		t.Error("NewHistory should be nil when nothing happened")
	}
	if summarizer.requestCount() != 0 {
		t.Errorf("summarizer called %d times, want 0", summarizer.requestCount())
	}
}

func TestCompress_ForcedButTooShort(t *testing.T) {
	summarizer := &scriptStreamer{}
	c := &chat.Compressor{Streamer: summarizer, Model: "gemma3:27b"}

	res, err := c.Compress(context.Background(), exchange(400), true)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Status != chat.CompressionNone {
		t.Errorf("Status = %s, want NONE for a 2-message history", res.Status)
	}
	if summarizer.requestCount() != 0 {
		t.Error("summarizer should not run when there is no cut point")
	}
}

func TestCompress_Applied(t *testing.T) {
	summarizer := &scriptStreamer{script: []scriptStep{
		{result: textResult("All prior work is complete.")},
	}}
	c := &chat.Compressor{
		Streamer: summarizer,
		Model:    "gemma3:27b",
		Config:   chat.CompressionConfig{KeepRecentTokens: 15},
	}

	history := append(exchange(400), exchange(400)...)
	history = append(history, exchange(40)...)

	res, err := c.Compress(context.Background(), history, true)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Status != chat.CompressionApplied {
		t.Fatalf("Status = %s, want COMPRESSED", res.Status)
	}
	if len(res.NewHistory) != 3 {
		t.Fatalf("NewHistory has %d messages, want 3 (summary + kept tail)", len(res.NewHistory))
	}
	if res.NewHistory[0].Role != ai.RoleUser {
		t.Errorf("summary message role = %s, want user", res.NewHistory[0].Role)
	}
	sum := res.NewHistory[0].Text()
	if !strings.Contains(sum, "<summary>") || !strings.Contains(sum, "All prior work is complete.") {
		t.Errorf("summary message missing expected content: %q", sum)
	}
	if got := res.NewHistory[1].Text(); got != strings.Repeat("u", 40) {
		t.Errorf("kept tail corrupted: %q", got)
	}
	if res.TokensBefore != 420 {
		t.Errorf("TokensBefore = %d, want 420", res.TokensBefore)
	}
	if res.TokensAfter >= res.TokensBefore {
		t.Errorf("TokensAfter (%d) should be below TokensBefore (%d)", res.TokensAfter, res.TokensBefore)
	}

	// The summarizer saw a serialized transcript, not raw messages.
	if summarizer.requestCount() != 1 {
		t.Fatalf("summarizer called %d times, want 1", summarizer.requestCount())
	}
	req := summarizer.request(0)
	if !strings.Contains(req.SystemInstruction, "summarising technical conversations") {
		t.Errorf("unexpected summarizer system prompt: %q", req.SystemInstruction)
	}
	body := req.Contents[0].Text()
	if !strings.Contains(body, "[USER]") || !strings.Contains(body, strings.Repeat("u", 400)) {
		t.Error("summarizer input should contain the serialized head of the conversation")
	}
}

func TestCompress_InflatedKeepsOriginal(t *testing.T) {
	summarizer := &scriptStreamer{script: []scriptStep{
		{result: textResult(strings.Repeat("s", 2000))},
	}}
	c := &chat.Compressor{
		Streamer: summarizer,
		Model:    "gemma3:27b",
		Config:   chat.CompressionConfig{KeepRecentTokens: 40},
	}

	history := append(exchange(100), exchange(50)...)

	res, err := c.Compress(context.Background(), history, true)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Status != chat.CompressionFailedInflated {
		t.Fatalf("Status = %s, want COMPRESSION_FAILED_INFLATED_TOKEN_COUNT", res.Status)
	}
	if res.NewHistory != nil {
		t.Error("NewHistory must be nil on an inflated attempt")
	}
	if res.TokensAfter <= res.TokensBefore {
		t.Errorf("expected inflated estimate, before=%d after=%d", res.TokensBefore, res.TokensAfter)
	}
}

func TestCompress_SummarizerErrorPropagates(t *testing.T) {
	summarizer := &scriptStreamer{script: []scriptStep{
		{err: errors.New("model exploded")},
	}}
	c := &chat.Compressor{
		Streamer: summarizer,
		Model:    "gemma3:27b",
		Config:   chat.CompressionConfig{KeepRecentTokens: 15},
	}

	history := append(exchange(400), exchange(400)...)
	history = append(history, exchange(40)...)

	res, err := c.Compress(context.Background(), history, true)
	if err == nil {
		t.Fatal("expected error from failed summarisation")
	}
	if res != nil {
		t.Errorf("result should be nil on error, got %+v", res)
	}
	if !strings.Contains(err.Error(), "summarisation failed") {
		t.Errorf("unexpected error: %v", err)
	}
}
