package subagent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/subagent"
)

func localModelConfig() subagent.ModelConfig {
	return subagent.ModelConfig{Local: &subagent.LocalModel{Model: "gemma3:4b", Host: "http://127.0.0.1:11434"}}
}

func TestNewSummarizer_RemoteRefused(t *testing.T) {
	cfg := subagent.ModelConfig{Remote: &subagent.RemoteModel{Model: "gemini-2.5-flash"}}
	_, err := subagent.NewSummarizer(cfg, &scriptStreamer{}, "")
	if !errors.Is(err, subagent.ErrSummarizerNotImplemented) {
		t.Errorf("err = %v", err)
	}
}

func TestNewSummarizer_UnknownKey(t *testing.T) {
	_, err := subagent.NewSummarizer(localModelConfig(), &scriptStreamer{}, "bogus")
	if err == nil || !strings.Contains(err.Error(), "unknown summarizer prompt key") {
		t.Errorf("err = %v", err)
	}
	if subagent.KindOf(err) != subagent.KindConfiguration {
		t.Errorf("kind = %q", subagent.KindOf(err))
	}
}

func TestSummarizer_Summarize(t *testing.T) {
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.TextPart{Text: "  - fact one\n- fact two  "}),
	}}
	s, err := subagent.NewSummarizer(localModelConfig(), streamer, "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Summarize(context.Background(), "a very long tool output")
	if err != nil {
		t.Fatal(err)
	}
	if got != "- fact one\n- fact two" {
		t.Errorf("summary = %q", got)
	}

	req := streamer.request(t, 0)
	if !strings.Contains(req.SystemInstruction, "Tool Call Output Summarizer") {
		t.Errorf("default prompt = %q", req.SystemInstruction)
	}
	if got := ai.TextOf(lastUserParts(t, req)); got != "a very long tool output" {
		t.Errorf("summarizer input = %q", got)
	}
}

func TestSummarizer_PromptKeySelection(t *testing.T) {
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.TextPart{Text: "- condensed"}),
	}}
	s, err := subagent.NewSummarizer(localModelConfig(), streamer, subagent.SummarizerPromptText)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Summarize(context.Background(), "content"); err != nil {
		t.Fatal(err)
	}
	if got := streamer.request(t, 0).SystemInstruction; !strings.Contains(got, "text summarizer") {
		t.Errorf("prompt = %q", got)
	}
}

func TestSummarizer_RegisteredPrompt(t *testing.T) {
	subagent.RegisterSummarizerPrompt("terse", "Reply with one word.")
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.TextPart{Text: "ok"}),
	}}
	s, err := subagent.NewSummarizer(localModelConfig(), streamer, "terse")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Summarize(context.Background(), "content"); err != nil {
		t.Fatal(err)
	}
	if got := streamer.request(t, 0).SystemInstruction; got != "Reply with one word." {
		t.Errorf("prompt = %q", got)
	}
}

func TestSummarizer_WhitespacePassthrough(t *testing.T) {
	streamer := &scriptStreamer{}
	s, err := subagent.NewSummarizer(localModelConfig(), streamer, "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Summarize(context.Background(), "   \n\t")
	if err != nil {
		t.Fatal(err)
	}
	if got != "   \n\t" {
		t.Errorf("whitespace content should pass through, got %q", got)
	}
	if streamer.requests() != 0 {
		t.Errorf("model called %d times for whitespace", streamer.requests())
	}
}

func TestSummarizer_NoTextError(t *testing.T) {
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(), // stream settles with no parts at all
	}}
	s, err := subagent.NewSummarizer(localModelConfig(), streamer, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Summarize(context.Background(), "content")
	if err == nil || !strings.Contains(err.Error(), "no text") {
		t.Errorf("err = %v", err)
	}
}
