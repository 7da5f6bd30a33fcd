// Package models provides a registry of well-known model metadata for the
// backends the engine speaks to: the Gemini API, Bedrock, and local Ollama
// hosts.
//
// Usage:
//
//	info := models.Lookup("gemini-2.5-flash")
//	if info != nil {
//	    fmt.Println(info.ContextWindow)  // 1048576
//	}
package models

import "strings"

// ---------------------------------------------------------------------------
// ModelInfo
// ---------------------------------------------------------------------------

// ModelInfo holds static metadata for a known model.
type ModelInfo struct {
	// ID is the canonical model identifier string.
	ID string

	// Provider is the canonical provider name ("gemini", "bedrock", "local").
	Provider string

	// DisplayName is a short human-readable name.
	DisplayName string

	// ContextWindow is the maximum number of input tokens (prompt + history).
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model will generate in one response.
	MaxOutputTokens int

	// SupportsThinking is true when the model emits reasoning traces that the
	// streaming layer surfaces as thought parts.
	SupportsThinking bool
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// registry holds all known models, indexed by their canonical ID.
var registry = buildRegistry()

// Lookup returns the ModelInfo for id (exact match first, then prefix/suffix
// match). Returns nil if the model is unknown.
func Lookup(id string) *ModelInfo {
	if m, ok := registry[id]; ok {
		return m
	}
	// Fuzzy: check if any registered key is a prefix of id or vice-versa.
	// This handles versioned IDs like "gemini-2.5-flash-preview-05-20"
	// matching a key registered as "gemini-2.5-flash", and Ollama tags like
	// "gemma3:27b-it-qat" matching "gemma3:27b".
	id = strings.ToLower(id)
	for k, m := range registry {
		kl := strings.ToLower(k)
		if strings.HasPrefix(id, kl) || strings.HasPrefix(kl, id) {
			return m
		}
	}
	return nil
}

// ContextWindowFor returns the context window for id, or 0 if unknown.
func ContextWindowFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.ContextWindow
	}
	return 0
}

// MaxOutputFor returns the max output tokens for id, or 0 if unknown.
func MaxOutputFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.MaxOutputTokens
	}
	return 0
}

// All returns every registered ModelInfo, unsorted.
func All() []*ModelInfo {
	out := make([]*ModelInfo, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	return out
}

// ---------------------------------------------------------------------------
// Registry builder
// ---------------------------------------------------------------------------

func reg(m ModelInfo) *ModelInfo { return &m }

func buildRegistry() map[string]*ModelInfo {
	ms := []*ModelInfo{
		// ── Google Gemini ─────────────────────────────────────────────────
		reg(ModelInfo{
			ID: "gemini-2.5-pro", Provider: "gemini", DisplayName: "Gemini 2.5 Pro",
			ContextWindow: 1048576, MaxOutputTokens: 65536,
			SupportsThinking: true,
		}),
		reg(ModelInfo{
			ID: "gemini-2.5-flash", Provider: "gemini", DisplayName: "Gemini 2.5 Flash",
			ContextWindow: 1048576, MaxOutputTokens: 65536,
			SupportsThinking: true,
		}),
		reg(ModelInfo{
			ID: "gemini-2.5-flash-lite", Provider: "gemini", DisplayName: "Gemini 2.5 Flash Lite",
			ContextWindow: 1048576, MaxOutputTokens: 65536,
			SupportsThinking: true,
		}),
		reg(ModelInfo{
			ID: "gemini-2.0-flash", Provider: "gemini", DisplayName: "Gemini 2.0 Flash",
			ContextWindow: 1048576, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "gemini-1.5-pro", Provider: "gemini", DisplayName: "Gemini 1.5 Pro",
			ContextWindow: 2097152, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "gemini-1.5-flash", Provider: "gemini", DisplayName: "Gemini 1.5 Flash",
			ContextWindow: 1048576, MaxOutputTokens: 8192,
		}),

		// ── Bedrock (Claude on AWS) ───────────────────────────────────────
		reg(ModelInfo{
			ID: "us.anthropic.claude-3-7-sonnet-20250219-v1:0", Provider: "bedrock", DisplayName: "Claude 3.7 Sonnet (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			SupportsThinking: true,
		}),
		reg(ModelInfo{
			ID: "us.anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: "bedrock", DisplayName: "Claude 3.5 Sonnet (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "us.anthropic.claude-3-5-haiku-20241022-v1:0", Provider: "bedrock", DisplayName: "Claude 3.5 Haiku (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "us.amazon.nova-pro-v1:0", Provider: "bedrock", DisplayName: "Amazon Nova Pro",
			ContextWindow: 300000, MaxOutputTokens: 5120,
		}),

		// ── Local (Ollama tags) ───────────────────────────────────────────
		reg(ModelInfo{
			ID: "gemma3:27b", Provider: "local", DisplayName: "Gemma 3 27B",
			ContextWindow: 131072, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "gemma3:12b", Provider: "local", DisplayName: "Gemma 3 12B",
			ContextWindow: 131072, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "gemma3:4b", Provider: "local", DisplayName: "Gemma 3 4B",
			ContextWindow: 131072, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "llama3.3:70b", Provider: "local", DisplayName: "Llama 3.3 70B",
			ContextWindow: 131072, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "llama3.1:8b", Provider: "local", DisplayName: "Llama 3.1 8B",
			ContextWindow: 131072, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "qwen2.5-coder:32b", Provider: "local", DisplayName: "Qwen 2.5 Coder 32B",
			ContextWindow: 131072, MaxOutputTokens: 8192,
		}),
		reg(ModelInfo{
			ID: "deepseek-r1:32b", Provider: "local", DisplayName: "DeepSeek R1 32B",
			ContextWindow: 131072, MaxOutputTokens: 8192,
			SupportsThinking: true,
		}),
	}

	out := make(map[string]*ModelInfo, len(ms))
	for _, m := range ms {
		out[m.ID] = m
	}
	return out
}
