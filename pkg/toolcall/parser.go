// Package toolcall extracts structured tool invocations from free-form model
// text. Remote backends return function calls natively; local models only
// return text, so the engine parses calls back out of it. Parsing is JSON
// first with a permissive regex fallback for models that emit pseudo-code
// like ls(path=".").
package toolcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
)

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	callRe  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)`)
	argRe   = regexp.MustCompile(`(\w+)\s*=\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^,)]+)`)
)

// jsonCall is the shape models are instructed to emit.
type jsonCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// Parse extracts tool invocations from text. Call IDs are {promptID}-{index}
// so they stay stable and unique within one turn. An empty result is not an
// error; it signals the caller that the model produced plain prose.
func Parse(text, promptID string) []ai.FunctionCall {
	for _, candidate := range jsonCandidates(text) {
		if calls := parseJSON(candidate); len(calls) > 0 {
			return withIDs(calls, promptID)
		}
	}
	return withIDs(parseRegex(text), promptID)
}

func withIDs(calls []ai.FunctionCall, promptID string) []ai.FunctionCall {
	for i := range calls {
		calls[i].ID = fmt.Sprintf("%s-%d", promptID, i)
		if calls[i].Args == nil {
			calls[i].Args = map[string]any{}
		}
	}
	return calls
}

// jsonCandidates returns payloads worth attempting a JSON parse on: each
// fenced block first, then the outermost JSON span of the raw text.
func jsonCandidates(text string) []string {
	var out []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			out = append(out, inner)
		}
	}
	if span := outerJSON(text); span != "" {
		out = append(out, span)
	}
	return out
}

// outerJSON slices from the first opening brace/bracket to the last closing
// one, which tolerates prose around the payload.
func outerJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func parseJSON(payload string) []ai.FunctionCall {
	payload = strings.TrimSpace(payload)

	if strings.HasPrefix(payload, "[") {
		var arr []jsonCall
		if err := json.Unmarshal([]byte(payload), &arr); err != nil {
			return nil
		}
		var out []ai.FunctionCall
		for _, c := range arr {
			if c.Name == "" {
				continue
			}
			out = append(out, ai.FunctionCall{Name: c.Name, Args: c.Parameters})
		}
		return out
	}

	var single jsonCall
	if err := json.Unmarshal([]byte(payload), &single); err != nil || single.Name == "" {
		return nil
	}
	return []ai.FunctionCall{{Name: single.Name, Args: single.Parameters}}
}

// parseRegex scans for IDENT(key=value, ...) patterns. Bare values coerce to
// number or boolean where they parse as one; quoted values stay strings.
func parseRegex(text string) []ai.FunctionCall {
	// The model may wrap a list of calls in [...]; strip it so the bracket
	// doesn't end up glued to the first identifier.
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
		text = text[1 : len(text)-1]
	}

	var out []ai.FunctionCall
	for _, m := range callRe.FindAllStringSubmatch(text, -1) {
		name, rawArgs := m[1], m[2]
		args := map[string]any{}
		for _, am := range argRe.FindAllStringSubmatch(rawArgs, -1) {
			args[am[1]] = coerce(am[2])
		}
		// A bare IDENT() with no args only counts when the parens are
		// explicit and empty; IDENT with unparseable soup yields no args
		// rather than a rejected call.
		out = append(out, ai.FunctionCall{Name: name, Args: args})
	}
	return out
}

func coerce(raw string) any {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return unquote(s)
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func unquote(s string) string {
	body := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
			switch body[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(body[i])
			}
			continue
		}
		b.WriteByte(body[i])
	}
	return b.String()
}

// StripCall removes the textual fragment that invoked name from text, fences
// included. Local agents without an output schema use the leftover prose as
// their final result.
func StripCall(text, name string) string {
	out := fenceRe.ReplaceAllStringFunc(text, func(block string) string {
		if strings.Contains(block, name) {
			return ""
		}
		return block
	})

	// Bare JSON fragment mentioning the tool.
	if span := outerJSON(out); span != "" && strings.Contains(span, name) {
		if calls := parseJSON(span); len(calls) > 0 {
			out = strings.Replace(out, span, "", 1)
		}
	}

	// Pseudo-code form.
	out = callRe.ReplaceAllStringFunc(out, func(frag string) string {
		if strings.HasPrefix(frag, name) {
			return ""
		}
		return frag
	})

	return strings.TrimSpace(out)
}
