package subagent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// AgentsFile is the YAML structure of an agent definitions file.
type AgentsFile struct {
	Agents []AgentConfig `yaml:"agents"`
}

// AgentConfig is the YAML form of one Definition. Tools can only be
// referenced by name here; instances and raw declarations are wired in code.
type AgentConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`

	// Inputs maps input names to their specs.
	Inputs map[string]InputConfig `yaml:"inputs"`

	// Output declares the structured result, if any.
	Output *OutputConfig `yaml:"output"`

	Model ModelFileConfig `yaml:"model"`

	// Tools lists registry names resolved at executor construction.
	Tools []string `yaml:"tools"`

	Run    RunFileConfig    `yaml:"run"`
	Prompt PromptFileConfig `yaml:"prompt"`
}

type InputConfig struct {
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

type OutputConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Schema is a JSON Schema given inline as YAML.
	Schema map[string]any `yaml:"schema"`
}

// ModelFileConfig mirrors ModelConfig. Set exactly one of Remote or Local.
type ModelFileConfig struct {
	Remote *RemoteModelConfig `yaml:"remote"`
	Local  *LocalModelConfig  `yaml:"local"`
}

type RemoteModelConfig struct {
	Model  string            `yaml:"model"`
	Params ai.SamplingParams `yaml:"params"`
}

type LocalModelConfig struct {
	Model string `yaml:"model"`

	// Host is the Ollama endpoint, e.g. "http://localhost:11434".
	// Empty uses the default local endpoint.
	Host string `yaml:"host"`

	Params ai.SamplingParams `yaml:"params"`
}

type RunFileConfig struct {
	MaxTurns       int     `yaml:"max_turns"`
	MaxTimeMinutes float64 `yaml:"max_time_minutes"`

	// SummarizeToolOutput condenses tool results through the local model.
	SummarizeToolOutput bool `yaml:"summarize_tool_output"`

	// SummarizerPrompt picks the summarization prompt body by key
	// ("tool_output" by default, "text" for the short form).
	SummarizerPrompt string `yaml:"summarizer_prompt"`
}

type PromptFileConfig struct {
	SystemPrompt  string `yaml:"system_prompt"`
	QueryTemplate string `yaml:"query_template"`
	Directive     string `yaml:"directive"`
	Reminder      string `yaml:"reminder"`

	// InitialMessages seed the conversation verbatim. Roles are "user" or
	// "model".
	InitialMessages []MessageConfig `yaml:"initial_messages"`
}

type MessageConfig struct {
	Role string `yaml:"role"`
	Text string `yaml:"text"`
}

// LoadDefinitions reads agent definitions from a YAML file, expanding
// ${ENV_VAR} references before parsing. Every definition is validated; the
// first invalid one fails the load.
func LoadDefinitions(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agents config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var file AgentsFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("agents config: parse %s: %w", path, err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agents config: %s defines no agents", path)
	}

	defs := make([]*Definition, 0, len(file.Agents))
	for i := range file.Agents {
		def, err := file.Agents[i].Definition()
		if err != nil {
			return nil, fmt.Errorf("agents config: %s: %w", path, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Definition converts the YAML form into a validated Definition.
func (c *AgentConfig) Definition() (*Definition, error) {
	def := &Definition{
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Description: c.Description,
		Run: RunConfig{
			MaxTurns:            c.Run.MaxTurns,
			MaxTimeMinutes:      c.Run.MaxTimeMinutes,
			SummarizeToolOutput: c.Run.SummarizeToolOutput,
			SummarizerPrompt:    c.Run.SummarizerPrompt,
		},
		Prompt: PromptConfig{
			SystemPrompt:  c.Prompt.SystemPrompt,
			QueryTemplate: c.Prompt.QueryTemplate,
			Directive:     c.Prompt.Directive,
			Reminder:      c.Prompt.Reminder,
		},
	}

	if len(c.Inputs) > 0 {
		def.Inputs = make(map[string]InputSpec, len(c.Inputs))
		for name, in := range c.Inputs {
			def.Inputs[name] = InputSpec{Description: in.Description, Required: in.Required}
		}
	}

	if c.Output != nil {
		out := &OutputSpec{Name: c.Output.Name, Description: c.Output.Description}
		if c.Output.Schema != nil {
			raw, err := json.Marshal(c.Output.Schema)
			if err != nil {
				return nil, fmt.Errorf("agent %q: output schema: %w", c.Name, err)
			}
			out.Schema = raw
		}
		def.Output = out
	}

	if c.Model.Remote != nil {
		def.Model.Remote = &RemoteModel{Model: c.Model.Remote.Model, Params: c.Model.Remote.Params}
	}
	if c.Model.Local != nil {
		def.Model.Local = &LocalModel{
			Model:  c.Model.Local.Model,
			Host:   c.Model.Local.Host,
			Params: c.Model.Local.Params,
		}
	}

	for _, name := range c.Tools {
		def.Tools = append(def.Tools, ToolRef{Name: name})
	}

	for i, m := range c.Prompt.InitialMessages {
		switch m.Role {
		case "user":
			def.Prompt.InitialMessages = append(def.Prompt.InitialMessages, ai.UserText(m.Text))
		case "model":
			def.Prompt.InitialMessages = append(def.Prompt.InitialMessages, ai.ModelMessage(ai.TextPart{Text: m.Text}))
		default:
			return nil, configErrorf("agent %q: initial message %d: role must be \"user\" or \"model\", got %q", c.Name, i, m.Role)
		}
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ---------------------------------------------------------------------------
// Host config
// ---------------------------------------------------------------------------

// FileConfig is the YAML structure of a host config file: everything the
// hosting process needs to run agents (backend, credentials, tool paths),
// plus the agent definitions themselves.
type FileConfig struct {
	// Backend selects the remote transport: "gemini" (default) or "bedrock".
	Backend string `yaml:"backend"`

	// APIKey can be a literal key or "${ENV_VAR}" to read from environment.
	// Used by the Gemini backend.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default Gemini endpoint.
	BaseURL string `yaml:"base_url"`

	// Region is the AWS region for Bedrock (e.g. "us-east-1").
	// Defaults to AWS_DEFAULT_REGION / ~/.aws/config.
	Region string `yaml:"region"`

	// Profile is the AWS profile name for Bedrock authentication.
	Profile string `yaml:"profile"`

	// WorkDir is the working directory for file tools. Defaults to the
	// process working directory.
	WorkDir string `yaml:"work_dir"`

	// MemoryPath is where the memory tool persists entries. Empty uses the
	// tool's default under WorkDir.
	MemoryPath string `yaml:"memory_path"`

	// DebugDir, when set, makes local sessions dump their wire traffic there.
	DebugDir string `yaml:"debug_dir"`

	// Compression controls automatic history compression for remote agents.
	Compression CompressionFileConfig `yaml:"compression"`

	Agents []AgentConfig `yaml:"agents"`
}

// CompressionFileConfig mirrors chat.CompressionConfig with YAML tags. Model
// empty means "summarize with the agent's own remote model"; the context
// window comes from the model catalog.
type CompressionFileConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Model            string `yaml:"model"`
	ReserveTokens    int    `yaml:"reserve_tokens"`
	KeepRecentTokens int    `yaml:"keep_recent_tokens"`
}

// LoadFile reads a host config file, expanding ${ENV_VAR} references before
// parsing. Agent definitions are converted and validated exactly as
// LoadDefinitions does it.
func LoadFile(path string) (*FileConfig, []*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch cfg.Backend {
	case "":
		cfg.Backend = "gemini"
	case "gemini", "bedrock":
	default:
		return nil, nil, fmt.Errorf("config: unknown backend %q (want \"gemini\" or \"bedrock\")", cfg.Backend)
	}

	if len(cfg.Agents) == 0 {
		return nil, nil, fmt.Errorf("config: %s defines no agents", path)
	}
	defs := make([]*Definition, 0, len(cfg.Agents))
	for i := range cfg.Agents {
		def, err := cfg.Agents[i].Definition()
		if err != nil {
			return nil, nil, fmt.Errorf("config: %s: %w", path, err)
		}
		defs = append(defs, def)
	}
	return &cfg, defs, nil
}
