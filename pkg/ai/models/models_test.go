package models

import (
	"strings"
	"testing"
)

func TestLookup_ExactMatch(t *testing.T) {
	cases := []struct {
		id      string
		wantCtx int
	}{
		{"gemini-2.5-pro", 1048576},
		{"gemini-2.0-flash", 1048576},
		{"us.anthropic.claude-3-7-sonnet-20250219-v1:0", 200000},
		{"gemma3:27b", 131072},
	}
	for _, tc := range cases {
		info := Lookup(tc.id)
		if info == nil {
			t.Errorf("Lookup(%q) = nil, want info", tc.id)
			continue
		}
		if info.ContextWindow != tc.wantCtx {
			t.Errorf("Lookup(%q).ContextWindow = %d, want %d", tc.id, info.ContextWindow, tc.wantCtx)
		}
	}
}

func TestLookup_FuzzyPrefix(t *testing.T) {
	// Versioned IDs like "gemini-2.5-flash-preview-05-20" should match
	// "gemini-2.5-flash".
	info := Lookup("gemini-2.5-flash-preview-05-20")
	if info == nil {
		t.Fatal("Lookup with version suffix should return a result")
	}
	if !strings.Contains(info.ID, "gemini-2.5-flash") {
		t.Errorf("unexpected ID %q", info.ID)
	}

	// Ollama tag variants like "gemma3:27b-it-qat" should match "gemma3:27b".
	info = Lookup("gemma3:27b-it-qat")
	if info == nil {
		t.Fatal("Lookup with tag suffix should return a result")
	}
	if info.ID != "gemma3:27b" {
		t.Errorf("unexpected ID %q", info.ID)
	}
}

func TestLookup_Unknown(t *testing.T) {
	if Lookup("no-such-model-xyz") != nil {
		t.Error("Lookup of unknown model should return nil")
	}
}

func TestContextWindowFor(t *testing.T) {
	if w := ContextWindowFor("gemini-1.5-pro"); w != 2097152 {
		t.Errorf("ContextWindowFor(gemini-1.5-pro) = %d, want 2097152", w)
	}
	if w := ContextWindowFor("unknown-model"); w != 0 {
		t.Errorf("ContextWindowFor(unknown) = %d, want 0", w)
	}
}

func TestMaxOutputFor(t *testing.T) {
	if n := MaxOutputFor("us.anthropic.claude-3-7-sonnet-20250219-v1:0"); n != 64000 {
		t.Errorf("MaxOutputFor = %d, want 64000", n)
	}
}

func TestSupportsThinking(t *testing.T) {
	thinking := []string{"gemini-2.5-pro", "gemini-2.5-flash", "deepseek-r1:32b"}
	for _, id := range thinking {
		info := Lookup(id)
		if info == nil {
			t.Errorf("Lookup(%q) = nil", id)
			continue
		}
		if !info.SupportsThinking {
			t.Errorf("%q should support thinking", id)
		}
	}

	noThinking := []string{"gemini-2.0-flash", "gemma3:27b", "gemini-1.5-pro"}
	for _, id := range noThinking {
		info := Lookup(id)
		if info == nil {
			t.Errorf("Lookup(%q) = nil", id)
			continue
		}
		if info.SupportsThinking {
			t.Errorf("%q should NOT support thinking", id)
		}
	}
}

func TestAll_NotEmpty(t *testing.T) {
	all := All()
	if len(all) < 10 {
		t.Errorf("All() returned %d models, want at least 10", len(all))
	}
	// Every model should have a non-zero context window.
	for _, m := range all {
		if m.ContextWindow <= 0 {
			t.Errorf("model %q has zero ContextWindow", m.ID)
		}
		if m.Provider == "" {
			t.Errorf("model %q has empty Provider", m.ID)
		}
	}
}
