package builtin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

const lsDefaultLimit = 500

// LsTool lists directory contents — sorted alphabetically, with "/" suffix for
// subdirectories, including dotfiles.
type LsTool struct {
	cwd string
}

func NewLsTool(cwd string) *LsTool { return &LsTool{cwd: cwd} }

func (t *LsTool) Declaration() ai.FunctionDeclaration {
	return ai.FunctionDeclaration{
		Name: "ls",
		Description: fmt.Sprintf(
			"List directory contents. Returns entries sorted alphabetically, with '/' suffix for directories. "+
				"Includes dotfiles. Output is truncated to %d entries or %s (whichever is hit first).",
			lsDefaultLimit, FormatSize(DefaultMaxBytes),
		),
		ParametersJSONSchema: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":  {Type: "string", Description: "Directory to list (default: current directory)"},
				"limit": {Type: "integer", Description: fmt.Sprintf("Maximum number of entries to return (default: %d)", lsDefaultLimit)},
			},
		}),
	}
}

func (t *LsTool) Execute(_ context.Context, _ string, args map[string]any, _ tools.OutputFn) (tools.Result, error) {
	pathParam, _ := args["path"].(string)
	limit := intArg(args, "limit", lsDefaultLimit)

	dirPath := resolvePath(pathParam, t.cwd)
	if pathParam == "" {
		dirPath = t.cwd
	}

	info, err := os.Stat(dirPath)
	if err != nil {
		return tools.Result{}, fmt.Errorf("path not found: %s", pathParam)
	}
	if !info.IsDir() {
		return tools.Result{}, fmt.Errorf("not a directory: %s", pathParam)
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return tools.Result{}, fmt.Errorf("cannot read directory: %w", err)
	}

	// Sort case-insensitively
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var results []string
	limitReached := false

	for _, e := range entries {
		if len(results) >= limit {
			limitReached = true
			break
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		} else if e.Type()&os.ModeSymlink != 0 {
			// Resolve symlink to check if it points to a directory
			if target, err := os.Stat(dirPath + "/" + name); err == nil && target.IsDir() {
				name += "/"
			}
		}
		results = append(results, name)
	}

	if len(results) == 0 {
		return tools.TextResult("(empty directory)"), nil
	}

	rawOutput := strings.Join(results, "\n")
	tr := TruncateHead(rawOutput, maxInt, DefaultMaxBytes)
	output := tr.Content

	var notices []string
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d entries limit reached. Use limit=%d for more", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if len(notices) > 0 {
		output += "\n\n[" + strings.Join(notices, ". ") + "]"
	}

	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: output}},
		Display: fmt.Sprintf("Listed %d entries", len(results)),
	}, nil
}

// intArg reads an integer argument that may arrive as float64 (JSON) or int.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		if int(n) > 0 {
			return int(n)
		}
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if int(n) > 0 {
			return int(n)
		}
	}
	return def
}
