package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

// WriteTool writes (or overwrites) a file, auto-creating parent directories.
type WriteTool struct {
	cwd string
}

func NewWriteTool(cwd string) *WriteTool { return &WriteTool{cwd: cwd} }

func (t *WriteTool) Declaration() ai.FunctionDeclaration {
	return ai.FunctionDeclaration{
		Name:        "write",
		Description: "Write content to a file. Creates the file if it doesn't exist, overwrites if it does. Automatically creates parent directories.",
		ParametersJSONSchema: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":    {Type: "string", Description: "Path to the file to write (relative or absolute)"},
				"content": {Type: "string", Description: "Content to write to the file"},
			},
			Required: []string{"path", "content"},
		}),
	}
}

func (t *WriteTool) Execute(_ context.Context, _ string, args map[string]any, _ tools.OutputFn) (tools.Result, error) {
	pathParam, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if pathParam == "" {
		return tools.Result{}, fmt.Errorf("path is required")
	}

	absPath := resolvePath(pathParam, t.cwd)

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return tools.Result{}, fmt.Errorf("cannot create directories for %s: %w", pathParam, err)
	}

	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return tools.Result{}, fmt.Errorf("cannot write %s: %w", pathParam, err)
	}

	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), pathParam)}},
		Display: fmt.Sprintf("Wrote %s", pathParam),
	}, nil
}
