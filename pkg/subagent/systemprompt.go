// Package subagent — system prompt assembly.
//
// An agent's system prompt is built from its template in three layers:
//   - The template itself, with ${input}, ${directive}, and ${tool_code}
//     tokens interpolated.
//   - An Environment Context block (date, working directory, listing).
//   - The non-interactive ground rules every agent runs under.
//
// Definitions that rely on initial messages instead of a system prompt skip
// all three layers and must carry their own instructions.
package subagent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// templateTokenRe matches ${name} template tokens.
var templateTokenRe = regexp.MustCompile(`\$\{(\w+)\}`)

// groundRules is appended to every assembled system prompt. Sub-agents have
// no operator to ask, so the completion protocol has to be spelled out.
const groundRules = `# Important Rules

- You are running non-interactively. There is no user available to answer questions or approve actions, so never ask; decide and proceed.
- Always use absolute paths when referring to files.
- When your work is done you MUST call the complete_task tool to finish.
- Never call complete_task in the same turn as any other tool call. Finish your tool work first, then call complete_task on its own.`

// Interpolate replaces ${name} tokens in template with values. A token with
// no matching value is an error so that typos in definitions surface at run
// start instead of reaching the model as literal text.
func Interpolate(template string, values map[string]string) (string, error) {
	var missing []string
	out := templateTokenRe.ReplaceAllStringFunc(template, func(tok string) string {
		name := tok[2 : len(tok)-1]
		if v, ok := values[name]; ok {
			return v
		}
		missing = append(missing, name)
		return tok
	})
	if len(missing) > 0 {
		return "", configErrorf("prompt template references undefined values: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// buildSystemPrompt assembles the full system prompt for one run. decls is
// the tool schema the model will see (complete_task included); it only
// matters when the template references ${tool_code}. gemma selects the
// local-model tool rendering.
func buildSystemPrompt(def *Definition, inputs map[string]string, envBlock string, decls []ai.FunctionDeclaration, gemma bool) (string, error) {
	if def.Prompt.SystemPrompt == "" {
		return "", nil
	}

	values := make(map[string]string, len(inputs)+2)
	for k, v := range inputs {
		values[k] = v
	}
	values["directive"] = def.Prompt.Directive
	if strings.Contains(def.Prompt.SystemPrompt, "${tool_code}") {
		rendered, err := renderToolCode(decls, gemma)
		if err != nil {
			return "", err
		}
		values["tool_code"] = rendered
	}

	body, err := Interpolate(def.Prompt.SystemPrompt, values)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(body)
	if envBlock != "" {
		sb.WriteString("\n\n")
		sb.WriteString(envBlock)
	}
	sb.WriteString("\n\n")
	sb.WriteString(groundRules)
	return sb.String(), nil
}

// buildQuery renders the first user message of a run.
func buildQuery(def *Definition, inputs map[string]string) (string, error) {
	if def.Prompt.QueryTemplate == "" {
		return "Get Started!", nil
	}
	return Interpolate(def.Prompt.QueryTemplate, inputs)
}

// renderToolCode renders tool declarations as a JSON array for embedding in
// a prompt. The remote form keeps the parametersJsonSchema key; the gemma
// form renames it to parameters and strips any property literally named
// "description", which small instruction-tuned models tend to echo back as
// an argument.
func renderToolCode(decls []ai.FunctionDeclaration, gemma bool) (string, error) {
	out := make([]map[string]any, 0, len(decls))
	for _, d := range decls {
		entry := map[string]any{"name": d.Name}
		if d.Description != "" {
			entry["description"] = d.Description
		}
		var schema any
		if len(d.ParametersJSONSchema) > 0 {
			if err := json.Unmarshal(d.ParametersJSONSchema, &schema); err != nil {
				return "", fmt.Errorf("tool %q: parameters schema: %w", d.Name, err)
			}
		}
		if gemma {
			entry["parameters"] = stripDescriptionProperty(schema)
		} else if schema != nil {
			entry["parametersJsonSchema"] = schema
		}
		out = append(out, entry)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// stripDescriptionProperty removes a property named "description" from an
// object schema's properties and required list. Nested schemas are left
// alone; the misfire this works around only happens at the top level.
func stripDescriptionProperty(schema any) any {
	m, ok := schema.(map[string]any)
	if !ok {
		return schema
	}
	if props, ok := m["properties"].(map[string]any); ok {
		delete(props, "description")
	}
	if req, ok := m["required"].([]any); ok {
		kept := make([]any, 0, len(req))
		for _, r := range req {
			if s, _ := r.(string); s != "description" {
				kept = append(kept, r)
			}
		}
		m["required"] = kept
	}
	return m
}
