package local

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/delegate-dev/delegate/pkg/ai"
)

func ndjsonBody(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	}
}

func TestStreamGenerateText(t *testing.T) {
	srv := httptest.NewServer(ndjsonBody(
		`{"message":{"role":"assistant","thinking":"hmm"},"done":false}`,
		`{"message":{"role":"assistant","content":"ls(path="},"done":false}`,
		`{"message":{"role":"assistant","content":"\".\")"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":3}`,
	))
	defer srv.Close()

	c := New(srv.URL)
	chunks, wait := c.StreamGenerate(context.Background(), "gemma3:27b", ai.GenerateRequest{
		Contents: []ai.Message{ai.UserText("list")},
	})

	var text, thought string
	for ch := range chunks {
		for _, p := range ch.Parts {
			tp := p.(ai.TextPart)
			if tp.Thought {
				thought += tp.Text
			} else {
				text += tp.Text
			}
		}
	}

	res, err := wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if text != `ls(path=".")` {
		t.Errorf("text = %q", text)
	}
	if thought != "hmm" {
		t.Errorf("thought = %q", thought)
	}
	if res.Usage.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want 10", res.Usage.TotalTokens)
	}
	if got := ai.TextOf(res.Parts); got != `ls(path=".")` {
		t.Errorf("aggregated = %q", got)
	}
	if res.FinishReason != ai.FinishStop {
		t.Errorf("finish = %q", res.FinishReason)
	}
}

func TestStreamGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(ndjsonBody(
		`{"error":"model not found"}`,
	))
	defer srv.Close()

	c := New(srv.URL)
	chunks, wait := c.StreamGenerate(context.Background(), "nope", ai.GenerateRequest{
		Contents: []ai.Message{ai.UserText("hi")},
	})
	for range chunks {
	}
	if _, err := wait(); err == nil {
		t.Fatal("expected error from error line")
	}
}

func TestStreamGenerateLengthStop(t *testing.T) {
	srv := httptest.NewServer(ndjsonBody(
		`{"message":{"role":"assistant","content":"partial"},"done":true,"done_reason":"length"}`,
	))
	defer srv.Close()

	c := New(srv.URL)
	chunks, wait := c.StreamGenerate(context.Background(), "gemma3:27b", ai.GenerateRequest{
		Contents: []ai.Message{ai.UserText("hi")},
	})
	for range chunks {
	}
	res, err := wait()
	if err != nil {
		t.Fatal(err)
	}
	if res.FinishReason != ai.FinishLength {
		t.Errorf("finish = %q, want length", res.FinishReason)
	}
}

func TestBuildRequestFlattensHistory(t *testing.T) {
	req := buildRequest("gemma3:27b", ai.GenerateRequest{
		SystemInstruction: "sys",
		Contents: []ai.Message{
			ai.UserText("run it"),
			{Role: ai.RoleModel, Parts: []ai.Part{
				ai.TextPart{Text: "thinking...", Thought: true},
				ai.TextPart{Text: "on it"},
			}},
		},
	})
	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "sys" {
		t.Errorf("system message = %+v", req.Messages[0])
	}
	if req.Messages[2].Role != "assistant" || req.Messages[2].Content != "on it" {
		t.Errorf("assistant message should drop thoughts: %+v", req.Messages[2])
	}
	if !req.Stream {
		t.Error("stream flag not set")
	}
}
