package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/delegate-dev/delegate/pkg/tools/builtin"
)

func grepRun(t *testing.T, cwd string, args map[string]any) string {
	t.Helper()
	tool := builtin.NewGrepTool(cwd)
	result, err := tool.Execute(context.Background(), "c1", args, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resultTextContent(result)
}

func setupGrepDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("func Hello() {}\nfunc World() {}\n"), 0644)
	os.WriteFile(filepath.Join(dir, "b.go"), []byte("var x = 42\nconst NAME = \"test\"\n"), 0644)
	os.WriteFile(filepath.Join(dir, "c.txt"), []byte("not a go file\n"), 0644)
	return dir
}

func TestGrepTool_FindsPattern(t *testing.T) {
	dir := setupGrepDir(t)
	out := grepRun(t, dir, map[string]any{"pattern": "func"})
	if !strings.Contains(out, "Hello") {
		t.Errorf("expected match for 'func', got: %q", out)
	}
}

func TestGrepTool_NoMatch(t *testing.T) {
	dir := setupGrepDir(t)
	out := grepRun(t, dir, map[string]any{"pattern": "XXXXNOTFOUND"})
	if !strings.Contains(out, "No matches found") {
		t.Errorf("expected no-match notice, got: %q", out)
	}
}

func TestGrepTool_GlobFilter(t *testing.T) {
	dir := setupGrepDir(t)
	out := grepRun(t, dir, map[string]any{
		"pattern": ".",
		"glob":    "*.go",
	})
	if strings.Contains(out, "c.txt") {
		t.Errorf("glob *.go should exclude .txt files, got: %q", out)
	}
}

func TestGrepTool_CaseInsensitive(t *testing.T) {
	dir := setupGrepDir(t)
	out := grepRun(t, dir, map[string]any{
		"pattern":    "hello",
		"ignoreCase": true,
	})
	if !strings.Contains(out, "Hello") {
		t.Errorf("case-insensitive match failed, got: %q", out)
	}
}

func TestGrepTool_CaseSensitive(t *testing.T) {
	dir := setupGrepDir(t)
	out := grepRun(t, dir, map[string]any{
		"pattern":    "hello",
		"ignoreCase": false,
	})
	if strings.Contains(out, "Hello") {
		t.Errorf("case-sensitive: should not match 'Hello' for pattern 'hello', got: %q", out)
	}
}

func TestGrepTool_LiteralMode(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("a.b\naXb\n"), 0644)

	out := grepRun(t, dir, map[string]any{
		"pattern": "a.b",
		"literal": true,
	})
	if strings.Contains(out, "aXb") {
		t.Errorf("literal mode should not treat '.' as wildcard, got: %q", out)
	}
	if !strings.Contains(out, "a.b") {
		t.Errorf("literal match missing, got: %q", out)
	}
}

func TestGrepTool_ContextLines(t *testing.T) {
	dir := setupGrepDir(t)
	out := grepRun(t, dir, map[string]any{
		"pattern": "Hello",
		"context": float64(1),
	})
	// With 1 context line, the next line (World) should appear.
	if !strings.Contains(out, "World") {
		t.Errorf("context lines not applied, got: %q", out)
	}
}

func TestGrepTool_SpecificFile(t *testing.T) {
	dir := setupGrepDir(t)
	out := grepRun(t, dir, map[string]any{
		"pattern": ".",
		"path":    filepath.Join(dir, "a.go"),
	})
	if strings.Contains(out, "const NAME") {
		t.Errorf("should only search a.go, got b.go content: %q", out)
	}
}

func TestGrepTool_MatchLimit(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hit\nhit\nhit\nhit\n"), 0644)

	out := grepRun(t, dir, map[string]any{
		"pattern": "hit",
		"limit":   float64(2),
	})
	if !strings.Contains(out, "limit reached") {
		t.Errorf("expected limit notice, got: %q", out)
	}
}

func TestGrepTool_InvalidPattern(t *testing.T) {
	tool := builtin.NewGrepTool(t.TempDir())
	_, err := tool.Execute(context.Background(), "c1", map[string]any{"pattern": "("}, nil)
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	if !strings.Contains(err.Error(), "invalid pattern") {
		t.Errorf("error = %v", err)
	}
}

func TestGrepTool_Declaration(t *testing.T) {
	decl := builtin.NewGrepTool(".").Declaration()
	if decl.Name != "grep" {
		t.Errorf("name = %q", decl.Name)
	}
}
