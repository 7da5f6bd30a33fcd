package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

// Per-file and total caps for read_many_files. Tighter than the single-file
// reader because the combined output lands in one tool response.
const (
	readManyPerFileBytes = 64 * 1024
	readManyTotalBytes   = DefaultMaxBytes
	readManyMaxFiles     = 32
)

// ReadManyTool reads several files in one call and returns them concatenated
// with per-file headers.
type ReadManyTool struct {
	cwd string
}

func NewReadManyTool(cwd string) *ReadManyTool { return &ReadManyTool{cwd: cwd} }

func (t *ReadManyTool) Declaration() ai.FunctionDeclaration {
	return ai.FunctionDeclaration{
		Name: "read_many_files",
		Description: fmt.Sprintf(
			"Read up to %d files in one call. Each file is truncated to %s and the combined output to %s. "+
				"Returns the files concatenated, each preceded by a '--- path ---' header.",
			readManyMaxFiles, FormatSize(readManyPerFileBytes), FormatSize(readManyTotalBytes),
		),
		ParametersJSONSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"paths": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Paths of the files to read, in order"
				}
			},
			"required": ["paths"]
		}`),
	}
}

func (t *ReadManyTool) Execute(ctx context.Context, _ string, args map[string]any, _ tools.OutputFn) (tools.Result, error) {
	rawPaths, ok := args["paths"].([]any)
	if !ok || len(rawPaths) == 0 {
		return tools.Result{}, fmt.Errorf("missing required argument 'paths'")
	}
	if len(rawPaths) > readManyMaxFiles {
		return tools.Result{}, fmt.Errorf("too many files: %d requested, limit is %d", len(rawPaths), readManyMaxFiles)
	}

	var sb strings.Builder
	var read, failed int

	for _, raw := range rawPaths {
		if err := ctx.Err(); err != nil {
			return tools.Result{}, err
		}
		pathParam, _ := raw.(string)
		if pathParam == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("--- %s ---\n", pathParam))

		section, err := t.readOne(pathParam)
		if err != nil {
			sb.WriteString(fmt.Sprintf("[error: %v]", err))
			failed++
			continue
		}
		sb.WriteString(section)
		read++

		if sb.Len() >= readManyTotalBytes {
			sb.WriteString(fmt.Sprintf("\n\n[%s total limit reached; remaining files skipped]", FormatSize(readManyTotalBytes)))
			break
		}
	}

	if read == 0 && failed == 0 {
		return tools.Result{}, fmt.Errorf("no valid paths given")
	}

	tr := TruncateHead(sb.String(), maxInt, readManyTotalBytes)
	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: tr.Content}},
		Display: fmt.Sprintf("Read %d files (%d failed)", read, failed),
	}, nil
}

func (t *ReadManyTool) readOne(pathParam string) (string, error) {
	filePath := resolvePath(pathParam, t.cwd)

	info, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("file not found")
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("not valid UTF-8 text")
	}

	_, text := stripBOM(string(data))
	tr := TruncateHead(text, maxInt, readManyPerFileBytes)
	section := tr.Content
	if tr.Truncated {
		section += fmt.Sprintf("\n[truncated at %s of %s]", FormatSize(readManyPerFileBytes), FormatSize(int(info.Size())))
	}
	return section, nil
}
