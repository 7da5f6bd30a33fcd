// Package ai — context overflow detection.
//
// IsOverflowError checks whether a stream error represents a context-window
// overflow. Two detection strategies are used in order:
//
//  1. Error message pattern matching — covers all known provider error formats.
//  2. HTTP status code matching — for providers that return 400/413 with no body.
//
// IsSilentOverflow covers a third case: providers that accept an over-long
// request and answer anyway, detectable only by comparing reported input
// tokens against the known context window.
//
// # Limitations
//
// Strategy 1 relies on string matching against error messages. If a provider
// changes its error format, detection may fail until the pattern list is updated.
// IsSilentOverflow requires the caller to pass the correct contextWindow value.
package ai

import "regexp"

// overflowPatterns matches error messages returned by every known provider when
// the input exceeds the model's context window.
var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)prompt is too long`),                     // Anthropic
	regexp.MustCompile(`(?i)input is too long for requested model`),  // Amazon Bedrock
	regexp.MustCompile(`(?i)exceed.*context window`),                 // OpenAI (Completions & Responses)
	regexp.MustCompile(`(?i)input token count.*exceeds the maximum`), // Google Gemini
	regexp.MustCompile(`(?i)maximum prompt length is \d+`),           // xAI (Grok)
	regexp.MustCompile(`(?i)reduce the length of the messages`),      // Groq
	regexp.MustCompile(`(?i)maximum context length is \d+ tokens`),   // OpenRouter (all backends)
	regexp.MustCompile(`(?i)exceeds the limit of \d+`),               // GitHub Copilot
	regexp.MustCompile(`(?i)exceeds the available context size`),     // llama.cpp
	regexp.MustCompile(`(?i)greater than the context length`),        // LM Studio
	regexp.MustCompile(`(?i)context window exceeds limit`),           // MiniMax
	regexp.MustCompile(`(?i)exceeded model token limit`),             // Kimi For Coding
	regexp.MustCompile(`(?i)context[_ ]length[_ ]exceeded`),          // Generic fallback
	regexp.MustCompile(`(?i)too many tokens`),                        // Generic fallback
	regexp.MustCompile(`(?i)token limit exceeded`),                   // Generic fallback
}

// statusOverflowPattern matches Cerebras and Mistral which return a 400/413 with
// no body for context overflow (distinct from 429 rate limiting).
var statusOverflowPattern = regexp.MustCompile(`(?i)^4(00|13)\s*(status code)?\s*\(no body\)`)

// IsOverflowError reports whether err is a context-window overflow returned by
// a model backend. All known provider error formats are checked.
func IsOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if msg == "" {
		return false
	}
	for _, re := range overflowPatterns {
		if re.MatchString(msg) {
			return true
		}
	}
	// Cerebras / Mistral: 400 or 413 with no body.
	return statusOverflowPattern.MatchString(msg)
}

// IsSilentOverflow reports whether a successful response actually overflowed
// the context window: some providers (e.g. z.ai) accept over-long requests and
// answer anyway, so the only signal is usage.InputTokens exceeding the window.
//
// Pass contextWindow = 0 to skip the check.
func IsSilentOverflow(usage Usage, contextWindow int) bool {
	return contextWindow > 0 && usage.InputTokens > contextWindow
}
