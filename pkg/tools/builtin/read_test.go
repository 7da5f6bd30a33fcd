package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/delegate-dev/delegate/pkg/tools/builtin"
)

func readRun(t *testing.T, cwd string, args map[string]any) string {
	t.Helper()
	tool := builtin.NewReadTool(cwd)
	result, err := tool.Execute(context.Background(), "c1", args, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resultTextContent(result)
}

func TestReadTool_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := "line1\nline2\nline3\n"
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte(content), 0644)

	out := readRun(t, dir, map[string]any{"path": "test.txt"})
	if !strings.Contains(out, "line1") || !strings.Contains(out, "line3") {
		t.Errorf("missing content: %q", out)
	}
}

func TestReadTool_Offset(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("A\nB\nC\nD\n"), 0644)

	out := readRun(t, dir, map[string]any{"path": "f.txt", "offset": float64(3)})
	if strings.Contains(out, "A") || strings.Contains(out, "B") {
		t.Errorf("offset not respected, got: %q", out)
	}
	if !strings.Contains(out, "C") {
		t.Errorf("expected line C from offset 3, got: %q", out)
	}
}

func TestReadTool_Limit(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("A\nB\nC\nD\nE\n"), 0644)

	out := readRun(t, dir, map[string]any{"path": "f.txt", "limit": float64(2)})
	if strings.Contains(out, "C") || strings.Contains(out, "D") {
		t.Errorf("limit not respected, got: %q", out)
	}
}

func TestReadTool_FileNotFound(t *testing.T) {
	tool := builtin.NewReadTool(t.TempDir())
	_, err := tool.Execute(context.Background(), "c1", map[string]any{"path": "missing.txt"}, nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v", err)
	}
}

func TestReadTool_MissingPath(t *testing.T) {
	tool := builtin.NewReadTool(t.TempDir())
	_, err := tool.Execute(context.Background(), "c1", map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected error for missing path argument")
	}
}

func TestReadTool_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "abs.txt")
	os.WriteFile(abs, []byte("absolute content\n"), 0644)

	out := readRun(t, "/some/other/cwd", map[string]any{"path": abs})
	if !strings.Contains(out, "absolute content") {
		t.Errorf("absolute path not resolved, got: %q", out)
	}
}

func TestReadTool_RejectsBinary(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bin.dat"), []byte{0xff, 0xfe, 0x00, 0x01}, 0644)

	tool := builtin.NewReadTool(dir)
	_, err := tool.Execute(context.Background(), "c1", map[string]any{"path": "bin.dat"}, nil)
	if err == nil {
		t.Fatal("expected error for non-UTF-8 file")
	}
}

func TestReadTool_Declaration(t *testing.T) {
	decl := builtin.NewReadTool(".").Declaration()
	if decl.Name != "read_file" {
		t.Errorf("name = %q", decl.Name)
	}
	if decl.ParametersJSONSchema == nil {
		t.Error("parameters schema should not be nil")
	}
}
