// Package subagent implements bounded, non-interactive agent runs: a
// Definition describes one agent (model, tools, prompt, budgets), an
// Executor drives it turn by turn until the model calls complete_task or a
// budget runs out, and a Boundary nests runs under a parent conversation
// with interrupt handling and activity forwarding.
package subagent

import (
	"encoding/json"
	"sort"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

// InputSpec declares one named input an agent accepts. All inputs are
// strings; they feed ${name} tokens in the prompt templates.
type InputSpec struct {
	// Description tells the caller (often another model) what to pass.
	// Required: an undocumented input is a definition error.
	Description string

	// Required inputs must be present when the run starts.
	Required bool
}

// OutputSpec declares the single structured value an agent must produce
// through complete_task. When present, complete_task gains one required
// parameter of this name, validated against Schema.
type OutputSpec struct {
	// Name of the output field, e.g. "Response".
	Name string

	// Description of what the field should contain.
	Description string

	// Schema is a JSON Schema for the field's value. Empty accepts anything.
	Schema json.RawMessage
}

// RemoteModel runs the agent against the host's remote streaming backend.
type RemoteModel struct {
	// Model ID, e.g. "gemini-2.5-flash".
	Model string

	Params ai.SamplingParams
}

// LocalModel runs the agent against an Ollama-compatible endpoint.
type LocalModel struct {
	// Model ID, e.g. "gemma3:27b".
	Model string

	// Host is the endpoint base URL. Empty uses the default local endpoint.
	Host string

	Params ai.SamplingParams
}

// ModelConfig selects the chat backend. Exactly one of Remote or Local must
// be set.
type ModelConfig struct {
	Remote *RemoteModel
	Local  *LocalModel
}

// ID returns the configured model identifier.
func (m ModelConfig) ID() string {
	if m.Remote != nil {
		return m.Remote.Model
	}
	if m.Local != nil {
		return m.Local.Model
	}
	return ""
}

// params returns the configured sampling parameters.
func (m ModelConfig) params() ai.SamplingParams {
	if m.Remote != nil {
		return m.Remote.Params
	}
	if m.Local != nil {
		return m.Local.Params
	}
	return ai.SamplingParams{}
}

// ToolRef names one tool made available to the agent. Exactly one field is
// set per ref:
//
//   - Name resolves against the host registry and must pass the
//     non-interactive allow-list.
//   - Instance adopts a live tool verbatim (it too must pass the allow-list).
//   - Declaration exposes a schema only; invoking it yields a not-found
//     error response, which suits tools the host executes out of band.
type ToolRef struct {
	Name        string
	Instance    tools.Tool
	Declaration *ai.FunctionDeclaration
}

// RunConfig bounds a run.
type RunConfig struct {
	// MaxTurns is the model-call budget. Must be at least 1.
	MaxTurns int

	// MaxTimeMinutes is the wall-clock budget. Must be positive; fractional
	// values are allowed (0.5 = thirty seconds).
	MaxTimeMinutes float64

	// SummarizeToolOutput condenses successful tool output through the
	// agent's local model before it re-enters the conversation.
	SummarizeToolOutput bool

	// SummarizerPrompt selects the summarization prompt body by key.
	// Empty uses the tool-output prompt.
	SummarizerPrompt string
}

// PromptConfig shapes the conversation.
type PromptConfig struct {
	// SystemPrompt is a template with ${input} tokens, plus the special
	// tokens ${directive} and ${tool_code}. The executor appends the
	// environment context and the non-interactive ground rules to it.
	SystemPrompt string

	// InitialMessages seed the history verbatim before the first turn.
	// Definitions must set SystemPrompt or InitialMessages (or both).
	InitialMessages []ai.Message

	// QueryTemplate becomes the first user message after ${input}
	// interpolation. Empty sends "Get Started!".
	QueryTemplate string

	// Directive replaces ${directive} in the system prompt.
	Directive string

	// Reminder is re-appended to the outgoing user message on every local
	// model call. Small models drift; remote ones do not get it.
	Reminder string
}

// Definition describes one agent. Definitions are plain data: load them from
// YAML (LoadDefinitions) or build them in code, validate once, then hand
// them to New.
type Definition struct {
	// Name identifies the agent. It doubles as the tool name when the agent
	// is exposed for delegation, and prefixes every id the run generates.
	Name string

	// DisplayName is what UIs show. Empty falls back to Name.
	DisplayName string

	// Description tells a delegating model when to pick this agent.
	Description string

	Inputs map[string]InputSpec

	// Output, when set, is the structured result complete_task must carry.
	// Without it complete_task takes no arguments and the run result is a
	// generic success line.
	Output *OutputSpec

	Model  ModelConfig
	Tools  []ToolRef
	Run    RunConfig
	Prompt PromptConfig

	// ProcessOutput optionally post-processes the validated output value
	// into the final result string. Set programmatically only.
	ProcessOutput func(value any) string `yaml:"-"`
}

// Display returns the name UIs should show.
func (d *Definition) Display() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Validate checks the definition's internal consistency. Executors reject
// invalid definitions at construction, before any model call.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return configErrorf("agent definition needs a name")
	}
	if (d.Model.Remote == nil) == (d.Model.Local == nil) {
		return configErrorf("agent %q: model config must set exactly one of remote or local", d.Name)
	}
	if d.Run.MaxTurns < 1 {
		return configErrorf("agent %q: max_turns must be at least 1, got %d", d.Name, d.Run.MaxTurns)
	}
	if d.Run.MaxTimeMinutes <= 0 {
		return configErrorf("agent %q: max_time_minutes must be positive, got %g", d.Name, d.Run.MaxTimeMinutes)
	}
	for _, name := range sortedInputNames(d.Inputs) {
		if d.Inputs[name].Description == "" {
			return configErrorf("agent %q: input %q needs a description", d.Name, name)
		}
	}
	if d.Output != nil {
		if d.Output.Name == "" {
			return configErrorf("agent %q: output field needs a name", d.Name)
		}
		if len(d.Output.Schema) > 0 && !json.Valid(d.Output.Schema) {
			return configErrorf("agent %q: output schema is not valid JSON", d.Name)
		}
	}
	if d.Prompt.SystemPrompt == "" && len(d.Prompt.InitialMessages) == 0 {
		return configErrorf("agent %q: prompt config needs a system prompt or initial messages", d.Name)
	}
	for i, ref := range d.Tools {
		set := 0
		if ref.Name != "" {
			set++
		}
		if ref.Instance != nil {
			set++
		}
		if ref.Declaration != nil {
			set++
		}
		if set != 1 {
			return configErrorf("agent %q: tool ref %d must set exactly one of name, instance, or declaration", d.Name, i)
		}
	}
	return nil
}

// validateInputs checks the values passed to Run against the declared
// inputs. Extra values are allowed (templates simply ignore them); missing
// required ones are a configuration error.
func (d *Definition) validateInputs(inputs map[string]string) error {
	var missing []string
	for _, name := range sortedInputNames(d.Inputs) {
		if d.Inputs[name].Required {
			if _, ok := inputs[name]; !ok {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return configErrorf("agent %q: missing required inputs: %v", d.Name, missing)
	}
	return nil
}

func sortedInputNames(inputs map[string]InputSpec) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
