package builtin

import (
	"github.com/delegate-dev/delegate/pkg/tools"
)

// Preset selects which built-in tools are registered.
type Preset string

const (
	// PresetSubAgent registers the non-interactive tool set that is safe to
	// hand to a delegated agent: no confirmation prompts, no destructive
	// defaults.
	PresetSubAgent Preset = "subagent"

	// PresetReadOnly registers ls, read_file, read_many_files, grep, glob —
	// safe for exploration without modification.
	PresetReadOnly Preset = "readonly"

	// PresetAll registers every built-in tool, including write and edit,
	// which are host-only and not delegatable.
	PresetAll Preset = "all"

	// PresetNone registers nothing; useful when you only want custom tools.
	PresetNone Preset = "none"
)

// DelegatableNames is the allow-list of tools a sub-agent may be granted.
// Tools outside this list require an operator in the loop (confirmations,
// irreversible writes) and are rejected at agent creation.
func DelegatableNames() []string {
	return []string{
		"bash",
		"glob",
		"grep",
		"ls",
		"memory",
		"read_file",
		"read_many_files",
		"web_search",
	}
}

// Register adds the tools for the given preset to the registry.
// cwd is the working directory all file tools operate from; memoryPath is
// where the memory tool persists facts. Pass empty strings for defaults.
func Register(reg *tools.Registry, preset Preset, cwd, memoryPath string) {
	if cwd == "" {
		cwd = "."
	}
	if memoryPath == "" {
		memoryPath = ".delegate/memory.md"
	}

	switch preset {
	case PresetSubAgent:
		reg.Register(NewLsTool(cwd))
		reg.Register(NewReadTool(cwd))
		reg.Register(NewReadManyTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewGlobTool(cwd))
		reg.Register(NewBashTool(cwd))
		reg.Register(NewMemoryTool(memoryPath))
		reg.Register(NewWebSearchTool())

	case PresetReadOnly:
		reg.Register(NewLsTool(cwd))
		reg.Register(NewReadTool(cwd))
		reg.Register(NewReadManyTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewGlobTool(cwd))

	case PresetAll:
		reg.Register(NewLsTool(cwd))
		reg.Register(NewReadTool(cwd))
		reg.Register(NewReadManyTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewGlobTool(cwd))
		reg.Register(NewBashTool(cwd))
		reg.Register(NewMemoryTool(memoryPath))
		reg.Register(NewWebSearchTool())
		reg.Register(NewWriteTool(cwd))
		reg.Register(NewEditTool(cwd))

	case PresetNone:
		// nothing
	}
}

// Individual constructors are exported so callers can mix and match.
// e.g.:  reg.Register(builtin.NewReadTool(cwd))
