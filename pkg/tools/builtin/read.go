package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

// ReadTool reads a text file from disk, with optional offset/limit windowing
// for large files.
type ReadTool struct {
	cwd string
}

func NewReadTool(cwd string) *ReadTool { return &ReadTool{cwd: cwd} }

func (t *ReadTool) Declaration() ai.FunctionDeclaration {
	return ai.FunctionDeclaration{
		Name: "read_file",
		Description: fmt.Sprintf(
			"Read a text file. Output is truncated to %s by default; use offset/limit to page through large files. "+
				"Line numbers are not added; content is returned verbatim.",
			FormatSize(DefaultMaxBytes),
		),
		ParametersJSONSchema: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":   {Type: "string", Description: "Path to the file"},
				"offset": {Type: "integer", Description: "Line number to start reading from (1-based)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to read"},
			},
			Required: []string{"path"},
		}),
	}
}

func (t *ReadTool) Execute(_ context.Context, _ string, args map[string]any, _ tools.OutputFn) (tools.Result, error) {
	pathParam, _ := args["path"].(string)
	if pathParam == "" {
		return tools.Result{}, fmt.Errorf("missing required argument 'path'")
	}

	filePath := resolvePath(pathParam, t.cwd)

	info, err := os.Stat(filePath)
	if err != nil {
		return tools.Result{}, fmt.Errorf("file not found: %s", pathParam)
	}
	if info.IsDir() {
		return tools.Result{}, fmt.Errorf("path is a directory, not a file: %s", pathParam)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return tools.Result{}, fmt.Errorf("cannot read file: %w", err)
	}

	if !utf8.Valid(data) {
		return tools.Result{}, fmt.Errorf("file is not valid UTF-8 text: %s", pathParam)
	}

	_, content := stripBOM(string(data))
	offset := intArg(args, "offset", 0)
	limit := intArg(args, "limit", 0)

	if offset > 0 || limit > 0 {
		return readWindow(content, pathParam, offset, limit), nil
	}

	tr := TruncateHead(content, maxInt, DefaultMaxBytes)
	output := tr.Content
	if tr.Truncated {
		output += fmt.Sprintf("\n\n[Truncated: showing first %s of %s. Use offset/limit to read more]",
			FormatSize(tr.OutputBytes), FormatSize(int(info.Size())))
	}

	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: output}},
		Display: fmt.Sprintf("Read %s (%s)", pathParam, FormatSize(int(info.Size()))),
	}, nil
}

// readWindow returns the requested line range, still subject to the byte cap.
func readWindow(content, pathParam string, offset, limit int) tools.Result {
	lines := splitLines(content)
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return tools.TextResult(fmt.Sprintf("[offset %d is past the end of the file (%d lines)]", offset, len(lines)))
	}

	end := len(lines)
	if limit > 0 && offset-1+limit < end {
		end = offset - 1 + limit
	}
	window := joinLines(lines[offset-1 : end])

	tr := TruncateHead(window, maxInt, DefaultMaxBytes)
	output := tr.Content
	var notices []string
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if end < len(lines) {
		notices = append(notices, fmt.Sprintf("showing lines %d-%d of %d", offset, end, len(lines)))
	}
	if len(notices) > 0 {
		output += "\n\n[" + strings.Join(notices, ". ") + "]"
	}

	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: output}},
		Display: fmt.Sprintf("Read %s lines %d-%d", pathParam, offset, end),
	}
}
