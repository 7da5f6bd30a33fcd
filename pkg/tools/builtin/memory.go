package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

const memorySectionHeader = "## Saved Memories"

// MemoryTool appends long-term facts to a markdown file so they survive
// across sessions. Facts land as bullet points under a dedicated section,
// created on first use.
type MemoryTool struct {
	path string
}

// NewMemoryTool creates a MemoryTool writing to the given file path.
func NewMemoryTool(path string) *MemoryTool { return &MemoryTool{path: path} }

func (t *MemoryTool) Declaration() ai.FunctionDeclaration {
	return ai.FunctionDeclaration{
		Name: "memory",
		Description: "Save a fact to long-term memory. Use for information that should persist across sessions, " +
			"such as user preferences or project conventions. The fact should be a short, self-contained statement.",
		ParametersJSONSchema: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"fact": {Type: "string", Description: "The fact to remember, phrased as a complete sentence"},
			},
			Required: []string{"fact"},
		}),
	}
}

func (t *MemoryTool) Execute(_ context.Context, _ string, args map[string]any, _ tools.OutputFn) (tools.Result, error) {
	fact, _ := args["fact"].(string)
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return tools.Result{}, fmt.Errorf("missing required argument 'fact'")
	}
	// Normalise: strip a leading bullet the model may have added itself.
	fact = strings.TrimSpace(strings.TrimPrefix(fact, "-"))

	if err := appendFact(t.path, fact); err != nil {
		return tools.Result{}, fmt.Errorf("cannot save memory: %w", err)
	}

	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: fmt.Sprintf("Okay, I've remembered that: %q", fact)}},
		Display: fmt.Sprintf("Saved memory: %s", fact),
	}, nil
}

// appendFact inserts the fact as a bullet under the memory section, creating
// the file and the section as needed.
func appendFact(path, fact string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	_, text := stripBOM(string(data))
	content := normalizeToLF(text)
	entry := "- " + fact

	idx := strings.Index(content, memorySectionHeader)
	if idx < 0 {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if content != "" {
			content += "\n"
		}
		content += memorySectionHeader + "\n" + entry + "\n"
		return os.WriteFile(path, []byte(content), 0o644)
	}

	// Find the end of the section: next "## " heading or end of file.
	sectionStart := idx + len(memorySectionHeader)
	rest := content[sectionStart:]
	sectionEnd := len(content)
	if next := strings.Index(rest, "\n## "); next >= 0 {
		sectionEnd = sectionStart + next
	}

	section := strings.TrimRight(content[sectionStart:sectionEnd], "\n")
	section += "\n" + entry + "\n"

	updated := content[:sectionStart] + section + content[sectionEnd:]
	return os.WriteFile(path, []byte(updated), 0o644)
}
