package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

const globDefaultLimit = 1000

// GlobTool searches for files matching a glob pattern.
// Pure-Go implementation; respects .gitignore (basic) and skips .git / node_modules.
type GlobTool struct {
	cwd string
}

func NewGlobTool(cwd string) *GlobTool { return &GlobTool{cwd: cwd} }

func (t *GlobTool) Declaration() ai.FunctionDeclaration {
	return ai.FunctionDeclaration{
		Name: "glob",
		Description: fmt.Sprintf(
			"Search for files by glob pattern. Returns matching file paths relative to the search directory. "+
				"Respects .gitignore. Output is truncated to %d results or %s (whichever is hit first).",
			globDefaultLimit, FormatSize(DefaultMaxBytes),
		),
		ParametersJSONSchema: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Glob pattern to match files, e.g. '*.go', '**/*.json', or 'pkg/**/*_test.go'"},
				"path":    {Type: "string", Description: "Directory to search in (default: current directory)"},
				"limit":   {Type: "integer", Description: fmt.Sprintf("Maximum number of results (default: %d)", globDefaultLimit)},
			},
			Required: []string{"pattern"},
		}),
	}
}

func (t *GlobTool) Execute(ctx context.Context, _ string, args map[string]any, _ tools.OutputFn) (tools.Result, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return tools.Result{}, fmt.Errorf("pattern is required")
	}

	pathParam, _ := args["path"].(string)
	limit := intArg(args, "limit", globDefaultLimit)

	searchRoot := resolvePath(pathParam, t.cwd)
	if pathParam == "" {
		searchRoot = t.cwd
	}

	info, err := os.Stat(searchRoot)
	if err != nil || !info.IsDir() {
		return tools.Result{}, fmt.Errorf("path not found or not a directory: %s", searchRoot)
	}

	gitIgnore := loadGitignore(searchRoot)

	var results []string
	limitReached := false

	walkErr := filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || ctx.Err() != nil {
			return walkErr
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == ".hg" || name == ".svn" {
				return filepath.SkipDir
			}
			if gitIgnore.matchesDir(path, searchRoot) {
				return filepath.SkipDir
			}
			return nil
		}

		if gitIgnore.matchesFile(path, searchRoot) {
			return nil
		}

		rel, _ := filepath.Rel(searchRoot, path)
		relSlash := filepath.ToSlash(rel)

		matched, _ := matchGlob(pattern, d.Name(), path, searchRoot)
		if !matched {
			return nil
		}

		results = append(results, relSlash)
		if len(results) >= limit {
			limitReached = true
			return errGrepLimit
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errGrepLimit) {
		return tools.Result{}, walkErr
	}

	if len(results) == 0 {
		return tools.TextResult("No files found matching pattern"), nil
	}

	rawOutput := strings.Join(results, "\n")
	tr := TruncateHead(rawOutput, maxInt, DefaultMaxBytes)
	output := tr.Content

	var notices []string
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d results limit reached. Use limit=%d for more, or refine pattern", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if len(notices) > 0 {
		output += "\n\n[" + strings.Join(notices, ". ") + "]"
	}

	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: output}},
		Display: fmt.Sprintf("Found %d files", len(results)),
	}, nil
}
