package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/agentkit/internal/tools"
)

func toolCtx(t *testing.T) (*tools.Context, string) {
	t.Helper()
	dir := t.TempDir()
	return &tools.Context{Cwd: dir, ProjectDir: dir}, dir
}

func TestReadTool(t *testing.T) {
	tc, dir := toolCtx(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := ReadTool{}.Run(context.Background(), map[string]any{"file_path": "a.txt"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["content"] != "hello" || m["truncated"] != false {
		t.Errorf("out = %#v", m)
	}

	if _, err := (ReadTool{}).Run(context.Background(), map[string]any{"file_path": "missing.txt"}, tc); err == nil {
		t.Error("missing file read succeeded")
	}
	if _, err := (ReadTool{}).Run(context.Background(), map[string]any{}, tc); err == nil {
		t.Error("missing file_path accepted")
	}
}

func TestWriteTool(t *testing.T) {
	tc, dir := toolCtx(t)
	out, err := WriteTool{}.Run(context.Background(), map[string]any{
		"file_path": "sub/b.txt",
		"content":   "data",
	}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if out.(map[string]any)["bytes_written"] != 4 {
		t.Errorf("out = %#v", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	if err != nil || string(data) != "data" {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}

func TestGlobTool(t *testing.T) {
	tc, dir := toolCtx(t)
	for _, p := range []string{"x.go", "y.txt", "pkg/z.go"} {
		full := filepath.Join(dir, p)
		os.MkdirAll(filepath.Dir(full), 0o755)
		os.WriteFile(full, []byte("x"), 0o644)
	}

	out, err := GlobTool{}.Run(context.Background(), map[string]any{"pattern": "*.go"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	matches := out.(map[string]any)["matches"].([]string)
	if len(matches) != 1 || filepath.Base(matches[0]) != "x.go" {
		t.Errorf("matches = %v", matches)
	}

	out, err = GlobTool{}.Run(context.Background(), map[string]any{"pattern": "**/*.go"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	matches = out.(map[string]any)["matches"].([]string)
	if len(matches) != 2 {
		t.Errorf("recursive matches = %v", matches)
	}
}

func TestGrepTool(t *testing.T) {
	tc, dir := toolCtx(t)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "note.txt"), []byte("FUNC here\n"), 0o644)

	out, err := GrepTool{}.Run(context.Background(), map[string]any{"query": "func "}, tc)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	matches := m["matches"].([]map[string]any)
	if len(matches) != 1 || matches[0]["line"] != 2 {
		t.Errorf("matches = %#v", matches)
	}

	out, err = GrepTool{}.Run(context.Background(), map[string]any{"query": "func", "case_sensitive": false}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(out.(map[string]any)["matches"].([]map[string]any)); got != 2 {
		t.Errorf("case-insensitive matches = %d", got)
	}

	if _, err := (GrepTool{}).Run(context.Background(), map[string]any{"query": "("}, tc); err == nil {
		t.Error("invalid regex accepted")
	}
}
